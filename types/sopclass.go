package types

import "strings"

// ApplicationContextUID is the DICOM application context name carried in every association.
const ApplicationContextUID = "1.2.840.10008.3.1.1.1"

// Verification Service
const (
	VerificationSOPClass = "1.2.840.10008.1.1"
)

// Worklist Management
const (
	ModalityWorklistInformationModelFind = "1.2.840.10008.5.1.4.31"
)

// storageRoot prefixes every Storage SOP Class in PS3.4 Annex B.
const storageRoot = "1.2.840.10008.5.1.4.1.1."

// Storage SOP Classes a modality commonly emits
const (
	ComputedRadiographyImageStorage        = "1.2.840.10008.5.1.4.1.1.1"
	DigitalXRayImageStorageForPresentation = "1.2.840.10008.5.1.4.1.1.1.1"
	CTImageStorage                         = "1.2.840.10008.5.1.4.1.1.2"
	EnhancedCTImageStorage                 = "1.2.840.10008.5.1.4.1.1.2.1"
	UltrasoundMultiFrameImageStorage       = "1.2.840.10008.5.1.4.1.1.3.1"
	MRImageStorage                         = "1.2.840.10008.5.1.4.1.1.4"
	EnhancedMRImageStorage                 = "1.2.840.10008.5.1.4.1.1.4.1"
	UltrasoundImageStorage                 = "1.2.840.10008.5.1.4.1.1.6.1"
	SecondaryCaptureImageStorage           = "1.2.840.10008.5.1.4.1.1.7"
	XRayAngiographicImageStorage           = "1.2.840.10008.5.1.4.1.1.12.1"
	NuclearMedicineImageStorage            = "1.2.840.10008.5.1.4.1.1.20"
	PositronEmissionTomographyImageStorage = "1.2.840.10008.5.1.4.1.1.128"
)

// SOPClassInfo contains metadata about a SOP Class
type SOPClassInfo struct {
	UID      string
	Name     string
	Category string
}

var sopClassRegistry = map[string]SOPClassInfo{
	VerificationSOPClass:                   {UID: VerificationSOPClass, Name: "Verification", Category: "Verification"},
	ModalityWorklistInformationModelFind:   {UID: ModalityWorklistInformationModelFind, Name: "Modality Worklist - FIND", Category: "Worklist"},
	ComputedRadiographyImageStorage:        {UID: ComputedRadiographyImageStorage, Name: "Computed Radiography Image Storage", Category: "Storage"},
	DigitalXRayImageStorageForPresentation: {UID: DigitalXRayImageStorageForPresentation, Name: "Digital X-Ray Image Storage - For Presentation", Category: "Storage"},
	CTImageStorage:                         {UID: CTImageStorage, Name: "CT Image Storage", Category: "Storage"},
	EnhancedCTImageStorage:                 {UID: EnhancedCTImageStorage, Name: "Enhanced CT Image Storage", Category: "Storage"},
	UltrasoundMultiFrameImageStorage:       {UID: UltrasoundMultiFrameImageStorage, Name: "Ultrasound Multi-frame Image Storage", Category: "Storage"},
	MRImageStorage:                         {UID: MRImageStorage, Name: "MR Image Storage", Category: "Storage"},
	EnhancedMRImageStorage:                 {UID: EnhancedMRImageStorage, Name: "Enhanced MR Image Storage", Category: "Storage"},
	UltrasoundImageStorage:                 {UID: UltrasoundImageStorage, Name: "Ultrasound Image Storage", Category: "Storage"},
	SecondaryCaptureImageStorage:           {UID: SecondaryCaptureImageStorage, Name: "Secondary Capture Image Storage", Category: "Storage"},
	XRayAngiographicImageStorage:           {UID: XRayAngiographicImageStorage, Name: "X-Ray Angiographic Image Storage", Category: "Storage"},
	NuclearMedicineImageStorage:            {UID: NuclearMedicineImageStorage, Name: "Nuclear Medicine Image Storage", Category: "Storage"},
	PositronEmissionTomographyImageStorage: {UID: PositronEmissionTomographyImageStorage, Name: "Positron Emission Tomography Image Storage", Category: "Storage"},
}

// GetSOPClassInfo returns information about a SOP Class UID.
// Storage classes missing from the registry are still reported as Storage.
func GetSOPClassInfo(uid string) *SOPClassInfo {
	if info, ok := sopClassRegistry[uid]; ok {
		return &info
	}
	if strings.HasPrefix(uid, storageRoot) {
		return &SOPClassInfo{UID: uid, Name: "Storage " + uid, Category: "Storage"}
	}
	return nil
}

// SOPClassName returns a display name, falling back to the UID itself.
func SOPClassName(uid string) string {
	if info := GetSOPClassInfo(uid); info != nil {
		return info.Name
	}
	return uid
}

// IsStorageSOPClass checks if a SOP Class UID is a storage SOP class
func IsStorageSOPClass(uid string) bool {
	info := GetSOPClassInfo(uid)
	return info != nil && info.Category == "Storage"
}
