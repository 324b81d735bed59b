package dicom

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// FileMeta holds the File Meta Information attributes the simulator checks.
type FileMeta struct {
	TransferSyntaxUID          string
	MediaStorageSOPClassUID    string
	MediaStorageSOPInstanceUID string
}

// SplitPart10 separates a DICOM Part 10 file into its File Meta Information
// and the dataset bytes that follow it.
//
// DICOM Part 10 files contain:
//   - 128 byte preamble
//   - 4 byte "DICM" prefix
//   - File Meta Information elements (group 0x0002, always Explicit VR LE)
//   - Dataset, encoded in the transfer syntax named by (0002,0010)
//
// The dataset is returned as a subslice, so pixel data is never copied or
// re-encoded.
func SplitPart10(data []byte) (FileMeta, []byte, error) {
	var meta FileMeta

	if len(data) < 132 {
		return meta, nil, fmt.Errorf("data too short to be DICOM Part 10 (need at least 132 bytes, got %d)", len(data))
	}

	// Check for DICM prefix at offset 128
	if string(data[128:132]) != "DICM" {
		return meta, nil, fmt.Errorf("not a valid DICOM Part 10 file (missing DICM prefix at offset 128)")
	}

	offset := 132
	for offset+8 <= len(data) {
		group := binary.LittleEndian.Uint16(data[offset : offset+2])
		element := binary.LittleEndian.Uint16(data[offset+2 : offset+4])

		// If we've passed group 0x0002, we're at the dataset
		if group != 0x0002 {
			break
		}

		vr := string(data[offset+4 : offset+6])

		var length uint32
		if isLongVR(vr) {
			if offset+12 > len(data) {
				return meta, nil, fmt.Errorf("truncated file meta element (0002,%04x)", element)
			}
			length = binary.LittleEndian.Uint32(data[offset+8 : offset+12])
			offset += 12
		} else {
			length = uint32(binary.LittleEndian.Uint16(data[offset+6 : offset+8]))
			offset += 8
		}

		if offset+int(length) > len(data) {
			return meta, nil, fmt.Errorf("file meta element (0002,%04x) exceeds data", element)
		}
		value := strings.TrimRight(string(data[offset:offset+int(length)]), "\x00 ")

		switch element {
		case 0x0002:
			meta.MediaStorageSOPClassUID = value
		case 0x0003:
			meta.MediaStorageSOPInstanceUID = value
		case 0x0010:
			meta.TransferSyntaxUID = value
		}

		offset += int(length)
	}

	if offset >= len(data) {
		return meta, nil, fmt.Errorf("failed to find dataset after File Meta Information")
	}

	return meta, data[offset:], nil
}

// HasPart10Header checks if the data starts with a DICOM Part 10 header.
//
// Returns true if the data contains the 128-byte preamble followed by "DICM".
func HasPart10Header(data []byte) bool {
	if len(data) < 132 {
		return false
	}
	return string(data[128:132]) == "DICM"
}
