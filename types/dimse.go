package types

// DIMSE Command types
const (
	CStoreRQ  = 0x0001
	CStoreRSP = 0x8001
	CFindRQ   = 0x0020
	CFindRSP  = 0x8020
	CEchoRQ   = 0x0030
	CEchoRSP  = 0x8030
	CCancelRQ = 0x0FFF
)

// DIMSE Status codes
const (
	StatusSuccess        = 0x0000
	StatusPending        = 0xFF00
	StatusPendingWarning = 0xFF01 // optional keys not supported by the provider
	StatusCancel         = 0xFE00
	StatusFailure        = 0xC000
	StatusOutOfResources = 0xA700

	StatusSOPClassNotSupported   = 0x0122
	StatusUnrecognizedOperation  = 0x0211
	StatusIdentifierDoesNotMatch = 0xA900
)

// Command Data Set Type values (0000,0800)
const (
	DataSetPresent = 0x0000
	NoDataSet      = 0x0101
)

// Priority (0000,0700)
const (
	PriorityMedium = 0x0000
	PriorityHigh   = 0x0001
	PriorityLow    = 0x0002
)

// Message represents a parsed DIMSE command
type Message struct {
	CommandField              uint16
	MessageID                 uint16
	AffectedSOPClassUID       string
	AffectedSOPInstanceUID    string
	Priority                  uint16
	CommandDataSetType        uint16
	Status                    uint16
	MessageIDBeingRespondedTo uint16
	TransferSyntaxUID         string // Negotiated transfer syntax for associated dataset
}

// IsResponse reports whether the command field has the response bit set.
func (m *Message) IsResponse() bool {
	return m.CommandField&0x8000 != 0
}

// HasDataset reports whether a dataset follows the command.
func (m *Message) HasDataset() bool {
	return m.CommandDataSetType != NoDataSet
}

// ResponseCommandFor maps a DIMSE request command to its corresponding response command.
func ResponseCommandFor(request uint16) uint16 {
	switch request {
	case CStoreRQ:
		return CStoreRSP
	case CFindRQ:
		return CFindRSP
	case CEchoRQ:
		return CEchoRSP
	default:
		return request | 0x8000
	}
}

// IsPendingStatus reports whether a C-FIND status announces another match.
func IsPendingStatus(status uint16) bool {
	return status == StatusPending || status == StatusPendingWarning
}
