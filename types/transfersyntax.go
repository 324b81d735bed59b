package types

// Uncompressed Transfer Syntaxes (PS3.5 section 10 and Annex A)
const (
	// ImplicitVRLittleEndian is the DICOM default transfer syntax
	ImplicitVRLittleEndian = "1.2.840.10008.1.2"
	ExplicitVRLittleEndian = "1.2.840.10008.1.2.1"
	ExplicitVRBigEndian    = "1.2.840.10008.1.2.2"

	DeflatedExplicitVRLittleEndian = "1.2.840.10008.1.2.1.99"
)

// Compressed Transfer Syntaxes templates are likely to carry
const (
	JPEGBaseline8Bit = "1.2.840.10008.1.2.4.50"
	JPEGLosslessSV1  = "1.2.840.10008.1.2.4.70"
	JPEGLSLossless   = "1.2.840.10008.1.2.4.80"
	JPEG2000Lossless = "1.2.840.10008.1.2.4.90"
	JPEG2000         = "1.2.840.10008.1.2.4.91"
	RLELossless      = "1.2.840.10008.1.2.5"
)

// TransferSyntaxInfo contains metadata about a transfer syntax
type TransferSyntaxInfo struct {
	UID          string
	Name         string
	IsCompressed bool
	IsLossless   bool
	ExplicitVR   bool
}

var transferSyntaxRegistry = map[string]TransferSyntaxInfo{
	ImplicitVRLittleEndian:         {UID: ImplicitVRLittleEndian, Name: "Implicit VR Little Endian", IsLossless: true},
	ExplicitVRLittleEndian:         {UID: ExplicitVRLittleEndian, Name: "Explicit VR Little Endian", IsLossless: true, ExplicitVR: true},
	ExplicitVRBigEndian:            {UID: ExplicitVRBigEndian, Name: "Explicit VR Big Endian (Retired)", IsLossless: true, ExplicitVR: true},
	DeflatedExplicitVRLittleEndian: {UID: DeflatedExplicitVRLittleEndian, Name: "Deflated Explicit VR Little Endian", IsCompressed: true, IsLossless: true, ExplicitVR: true},
	JPEGBaseline8Bit:               {UID: JPEGBaseline8Bit, Name: "JPEG Baseline (Process 1)", IsCompressed: true, ExplicitVR: true},
	JPEGLosslessSV1:                {UID: JPEGLosslessSV1, Name: "JPEG Lossless SV1", IsCompressed: true, IsLossless: true, ExplicitVR: true},
	JPEGLSLossless:                 {UID: JPEGLSLossless, Name: "JPEG-LS Lossless", IsCompressed: true, IsLossless: true, ExplicitVR: true},
	JPEG2000Lossless:               {UID: JPEG2000Lossless, Name: "JPEG 2000 Lossless", IsCompressed: true, IsLossless: true, ExplicitVR: true},
	JPEG2000:                       {UID: JPEG2000, Name: "JPEG 2000", IsCompressed: true, ExplicitVR: true},
	RLELossless:                    {UID: RLELossless, Name: "RLE Lossless", IsCompressed: true, IsLossless: true, ExplicitVR: true},
}

// GetTransferSyntaxInfo returns information about a transfer syntax UID
// Returns nil if the UID is not recognized
func GetTransferSyntaxInfo(uid string) *TransferSyntaxInfo {
	if info, ok := transferSyntaxRegistry[uid]; ok {
		return &info
	}
	return nil
}

// IsCompressed checks if a transfer syntax uses compression
func IsCompressed(uid string) bool {
	info := GetTransferSyntaxInfo(uid)
	return info != nil && info.IsCompressed
}

// IsImplicitVR reports whether datasets in this syntax omit the VR field.
func IsImplicitVR(uid string) bool {
	return uid == ImplicitVRLittleEndian
}

// TransferSyntaxName returns a display name, falling back to the UID itself.
func TransferSyntaxName(uid string) string {
	if info := GetTransferSyntaxInfo(uid); info != nil {
		return info.Name
	}
	return uid
}
