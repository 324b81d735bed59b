package dimse

import (
	"encoding/binary"
	"fmt"
	"io"

	dicomerrors "github.com/caio-sobreiro/modalitysim/errors"
	"github.com/caio-sobreiro/modalitysim/types"
)

// Connection interface for sending/receiving DICOM data
type Connection interface {
	io.ReadWriter
}

// SendDIMSEMessage sends a DIMSE message with optional dataset
func SendDIMSEMessage(conn Connection, presContextID byte, maxPDULength uint32, commandData []byte, datasetData []byte) error {
	// Send command in P-DATA-TF
	if err := SendPDataTF(conn, presContextID, maxPDULength, commandData, true, true); err != nil {
		return err
	}

	// Send dataset if present
	if len(datasetData) > 0 {
		if err := SendPDataTF(conn, presContextID, maxPDULength, datasetData, false, true); err != nil {
			return err
		}
	}

	return nil
}

// SendPDataTF sends data as one or more P-DATA-TF PDUs, each no larger than
// the peer's maximum PDU length.
func SendPDataTF(conn Connection, presContextID byte, maxPDULength uint32, data []byte, isCommand bool, isLast bool) error {
	if maxPDULength == 0 {
		maxPDULength = types.DefaultMaxPDULength
	}

	// Calculate max data per PDV (PDU length - PDU header - PDV header)
	maxPDVData := int(maxPDULength) - 6 - 6
	if maxPDVData <= 0 {
		return fmt.Errorf("max PDU length %d too small", maxPDULength)
	}

	offset := 0
	for offset < len(data) {
		chunkSize := len(data) - offset
		lastFragment := true
		if chunkSize > maxPDVData {
			chunkSize = maxPDVData
			lastFragment = false
		}

		// Message Control Header
		// Bit 0: 0=data, 1=command
		// Bit 1: 0=not last, 1=last fragment
		controlHeader := byte(0)
		if isCommand {
			controlHeader |= 0x01
		}
		if lastFragment && isLast {
			controlHeader |= 0x02
		}

		pdvLength := uint32(chunkSize + 2) // +2 for PDV header

		fullPDU := make([]byte, 0, 6+4+int(pdvLength))
		fullPDU = append(fullPDU, types.TypePDataTF, 0x00)
		fullPDU = binary.BigEndian.AppendUint32(fullPDU, 4+pdvLength)
		fullPDU = binary.BigEndian.AppendUint32(fullPDU, pdvLength)
		fullPDU = append(fullPDU, presContextID, controlHeader)
		fullPDU = append(fullPDU, data[offset:offset+chunkSize]...)

		// Single write per PDU
		if _, err := conn.Write(fullPDU); err != nil {
			return dicomerrors.NewNetworkError("write P-DATA-TF", err)
		}

		offset += chunkSize
	}

	return nil
}

// ReceiveDIMSEMessage reads a complete DIMSE message (command and optional dataset)
func ReceiveDIMSEMessage(conn Connection) (*types.Message, []byte, error) {
	var commandData []byte
	var datasetData []byte
	commandComplete := false
	datasetComplete := false
	var currentMsg *types.Message

	for {
		header := make([]byte, 6)
		if _, err := io.ReadFull(conn, header); err != nil {
			return nil, nil, dicomerrors.NewNetworkError("read PDU header", err)
		}

		pduType := header[0]
		pduLength := binary.BigEndian.Uint32(header[2:6])

		payload := make([]byte, pduLength)
		if _, err := io.ReadFull(conn, payload); err != nil {
			return nil, nil, dicomerrors.NewNetworkError("read PDU data", err)
		}

		switch pduType {
		case types.TypePDataTF:
			offset := 0
			for offset < len(payload) {
				if offset+6 > len(payload) {
					return nil, nil, dicomerrors.NewPDUError(pduType, "malformed PDV encountered")
				}

				pdvLength := binary.BigEndian.Uint32(payload[offset : offset+4])
				end := offset + 4 + int(pdvLength)
				if pdvLength < 2 || end > len(payload) {
					return nil, nil, dicomerrors.NewPDUError(pduType, "PDV length exceeds PDU payload")
				}

				controlHeader := payload[offset+5]
				value := payload[offset+6 : end]
				isCommand := controlHeader&0x01 != 0
				isLastFragment := controlHeader&0x02 != 0

				if isCommand {
					commandData = append(commandData, value...)
					if isLastFragment {
						decoded, err := DecodeCommand(commandData)
						if err != nil {
							return nil, nil, fmt.Errorf("failed to decode command: %w", err)
						}
						currentMsg = decoded
						commandComplete = true
						if !currentMsg.HasDataset() {
							datasetComplete = true
						}
					}
				} else {
					datasetData = append(datasetData, value...)
					if isLastFragment {
						datasetComplete = true
					}
				}

				offset = end
			}
		case types.TypeAbort:
			var source, reason byte
			if len(payload) >= 4 {
				source = payload[2]
				reason = payload[3]
			}
			return nil, nil, dicomerrors.NewAbortError(source, reason)
		case types.TypeReleaseRQ:
			return nil, nil, fmt.Errorf("%w: peer requested release mid-operation", dicomerrors.ErrConnectionClosed)
		default:
			return nil, nil, dicomerrors.NewPDUError(pduType, "unexpected PDU type during DIMSE exchange")
		}

		if commandComplete && datasetComplete {
			return currentMsg, datasetData, nil
		}
	}
}
