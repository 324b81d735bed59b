package dicom

// Named tags for the attributes the simulator reads or writes.
var (
	TagSpecificCharacterSet = Tag{0x0008, 0x0005}
	TagSOPClassUID          = Tag{0x0008, 0x0016}
	TagSOPInstanceUID       = Tag{0x0008, 0x0018}
	TagStudyDate            = Tag{0x0008, 0x0020}
	TagSeriesDate           = Tag{0x0008, 0x0021}
	TagContentDate          = Tag{0x0008, 0x0023}
	TagStudyTime            = Tag{0x0008, 0x0030}
	TagSeriesTime           = Tag{0x0008, 0x0031}
	TagContentTime          = Tag{0x0008, 0x0033}
	TagAccessionNumber      = Tag{0x0008, 0x0050}
	TagModality             = Tag{0x0008, 0x0060}
	TagInstitutionName      = Tag{0x0008, 0x0080}
	TagReferringPhysician   = Tag{0x0008, 0x0090}
	TagStudyDescription     = Tag{0x0008, 0x1030}
	TagSeriesDescription    = Tag{0x0008, 0x103E}

	TagPatientName      = Tag{0x0010, 0x0010}
	TagPatientID        = Tag{0x0010, 0x0020}
	TagPatientBirthDate = Tag{0x0010, 0x0030}
	TagPatientSex       = Tag{0x0010, 0x0040}

	TagStudyInstanceUID  = Tag{0x0020, 0x000D}
	TagSeriesInstanceUID = Tag{0x0020, 0x000E}
	TagStudyID           = Tag{0x0020, 0x0010}
	TagSeriesNumber      = Tag{0x0020, 0x0011}
	TagInstanceNumber    = Tag{0x0020, 0x0013}

	TagRequestedProcedureDescription = Tag{0x0032, 0x1060}

	// Scheduled Procedure Step module
	TagScheduledStationAETitle        = Tag{0x0040, 0x0001}
	TagScheduledStartDate             = Tag{0x0040, 0x0002}
	TagScheduledStartTime             = Tag{0x0040, 0x0003}
	TagScheduledPerformingPhysician   = Tag{0x0040, 0x0006}
	TagScheduledProcedureStepDesc     = Tag{0x0040, 0x0007}
	TagScheduledProcedureStepID       = Tag{0x0040, 0x0009}
	TagScheduledProcedureStepSequence = Tag{0x0040, 0x0100}
	TagRequestedProcedureID           = Tag{0x0040, 0x1001}

	// Item framing inside SQ values
	TagItem                 = Tag{0xFFFE, 0xE000}
	TagItemDelimitation     = Tag{0xFFFE, 0xE00D}
	TagSequenceDelimitation = Tag{0xFFFE, 0xE0DD}
)

// dictionary gives the VR of attributes that may arrive in Implicit VR.
var dictionary = map[Tag]string{
	TagSpecificCharacterSet: VR_CS,
	TagSOPClassUID:          VR_UI,
	TagSOPInstanceUID:       VR_UI,
	TagStudyDate:            VR_DA,
	TagSeriesDate:           VR_DA,
	TagContentDate:          VR_DA,
	TagStudyTime:            VR_TM,
	TagSeriesTime:           VR_TM,
	TagContentTime:          VR_TM,
	TagAccessionNumber:      VR_SH,
	{0x0008, 0x0052}:        VR_CS, // Query/Retrieve Level
	TagModality:             VR_CS,
	TagInstitutionName:      VR_LO,
	TagReferringPhysician:   VR_PN,
	TagStudyDescription:     VR_LO,
	TagSeriesDescription:    VR_LO,
	{0x0008, 0x1050}:        VR_PN, // Performing Physician's Name

	TagPatientName:      VR_PN,
	TagPatientID:        VR_LO,
	TagPatientBirthDate: VR_DA,
	TagPatientSex:       VR_CS,
	{0x0010, 0x1010}:    VR_AS, // Patient's Age

	{0x0018, 0x0015}: VR_CS, // Body Part Examined

	TagStudyInstanceUID:  VR_UI,
	TagSeriesInstanceUID: VR_UI,
	TagStudyID:           VR_SH,
	TagSeriesNumber:      VR_IS,
	TagInstanceNumber:    VR_IS,

	TagRequestedProcedureDescription: VR_LO,

	TagScheduledStationAETitle:        VR_AE,
	TagScheduledStartDate:             VR_DA,
	TagScheduledStartTime:             VR_TM,
	TagScheduledPerformingPhysician:   VR_PN,
	TagScheduledProcedureStepDesc:     VR_LO,
	TagScheduledProcedureStepID:       VR_SH,
	TagScheduledProcedureStepSequence: VR_SQ,
	{0x0040, 0x0008}:                  VR_SQ, // Scheduled Protocol Code Sequence
	{0x0032, 0x1064}:                  VR_SQ, // Requested Procedure Code Sequence
	{0x0008, 0x1110}:                  VR_SQ, // Referenced Study Sequence
	{0x0008, 0x1120}:                  VR_SQ, // Referenced Patient Sequence
	TagRequestedProcedureID:           VR_SH,
}
