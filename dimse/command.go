package dimse

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/caio-sobreiro/modalitysim/types"
)

// EncodeCommand encodes a DIMSE command message using Implicit VR Little Endian
func EncodeCommand(msg *types.Message) ([]byte, error) {
	if msg.CommandField == 0 {
		return nil, fmt.Errorf("command field not set")
	}

	buf := make([]byte, 0, 256)

	// Command Group Length (0000,0000) - will calculate later
	buf = AppendImplicitElement(buf, 0x0000, 0x0000, make([]byte, 4)) // Placeholder
	lengthPos := len(buf) - 4

	// Affected SOP Class UID (0000,0002)
	if msg.AffectedSOPClassUID != "" {
		buf = AppendImplicitElement(buf, 0x0000, 0x0002, padUID(msg.AffectedSOPClassUID))
	}

	// Command Field (0000,0100) - required
	buf = AppendImplicitElement(buf, 0x0000, 0x0100, binary.LittleEndian.AppendUint16(nil, msg.CommandField))

	isResponse := msg.IsResponse()

	// Message ID (0000,0110) - requests only, C-CANCEL carries the ID it cancels instead
	if !isResponse && msg.CommandField != types.CCancelRQ {
		buf = AppendImplicitElement(buf, 0x0000, 0x0110, binary.LittleEndian.AppendUint16(nil, msg.MessageID))
	}

	// Message ID Being Responded To (0000,0120)
	if isResponse || msg.CommandField == types.CCancelRQ {
		buf = AppendImplicitElement(buf, 0x0000, 0x0120, binary.LittleEndian.AppendUint16(nil, msg.MessageIDBeingRespondedTo))
	}

	// Priority (0000,0700) - required on C-STORE-RQ and C-FIND-RQ, MEDIUM is 0
	if msg.CommandField == types.CStoreRQ || msg.CommandField == types.CFindRQ {
		buf = AppendImplicitElement(buf, 0x0000, 0x0700, binary.LittleEndian.AppendUint16(nil, msg.Priority))
	}

	// Command Data Set Type (0000,0800) - required
	buf = AppendImplicitElement(buf, 0x0000, 0x0800, binary.LittleEndian.AppendUint16(nil, msg.CommandDataSetType))

	// Status (0000,0900) - every response, success is 0
	if isResponse {
		buf = AppendImplicitElement(buf, 0x0000, 0x0900, binary.LittleEndian.AppendUint16(nil, msg.Status))
	}

	// Affected SOP Instance UID (0000,1000)
	if msg.AffectedSOPInstanceUID != "" {
		buf = AppendImplicitElement(buf, 0x0000, 0x1000, padUID(msg.AffectedSOPInstanceUID))
	}

	// Update Command Group Length
	groupLength := uint32(len(buf) - lengthPos - 4)
	binary.LittleEndian.PutUint32(buf[lengthPos:lengthPos+4], groupLength)

	return buf, nil
}

func padUID(uid string) []byte {
	b := []byte(uid)
	if len(b)%2 == 1 {
		b = append(b, 0x00) // Pad to even
	}
	return b
}

// AppendImplicitElement appends a DICOM element using Implicit VR (no VR field)
func AppendImplicitElement(buf []byte, group, element uint16, value []byte) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, group)
	buf = binary.LittleEndian.AppendUint16(buf, element)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(value)))
	return append(buf, value...)
}

// DecodeCommand decodes a DIMSE command message
func DecodeCommand(data []byte) (*types.Message, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("DIMSE command too short: %d bytes", len(data))
	}

	msg := &types.Message{
		CommandDataSetType: types.NoDataSet, // Default to "no dataset present"
	}
	seenCommandField := false
	offset := 0

	for offset+8 <= len(data) {
		group := binary.LittleEndian.Uint16(data[offset : offset+2])
		element := binary.LittleEndian.Uint16(data[offset+2 : offset+4])
		length := binary.LittleEndian.Uint32(data[offset+4 : offset+8])

		if offset+8+int(length) > len(data) {
			return nil, fmt.Errorf("command element (%04x,%04x) exceeds command length", group, element)
		}

		value := data[offset+8 : offset+8+int(length)]
		offset += 8 + int(length)

		if group != 0x0000 {
			continue
		}

		switch element {
		case 0x0002:
			msg.AffectedSOPClassUID = strings.TrimRight(string(value), "\x00 ")
		case 0x0100:
			if len(value) >= 2 {
				msg.CommandField = binary.LittleEndian.Uint16(value[:2])
				seenCommandField = true
			}
		case 0x0110:
			if len(value) >= 2 {
				msg.MessageID = binary.LittleEndian.Uint16(value[:2])
			}
		case 0x0120:
			if len(value) >= 2 {
				msg.MessageIDBeingRespondedTo = binary.LittleEndian.Uint16(value[:2])
			}
		case 0x0700:
			if len(value) >= 2 {
				msg.Priority = binary.LittleEndian.Uint16(value[:2])
			}
		case 0x0800:
			if len(value) >= 2 {
				msg.CommandDataSetType = binary.LittleEndian.Uint16(value[:2])
			}
		case 0x0900:
			if len(value) >= 2 {
				msg.Status = binary.LittleEndian.Uint16(value[:2])
			}
		case 0x1000:
			msg.AffectedSOPInstanceUID = strings.TrimRight(string(value), "\x00 ")
		}
	}

	if !seenCommandField {
		return nil, fmt.Errorf("DIMSE command missing command field (0000,0100)")
	}

	return msg, nil
}
