package types

// PDU type constants
const (
	TypeAssociateRQ = 0x01
	TypeAssociateAC = 0x02
	TypeAssociateRJ = 0x03
	TypePDataTF     = 0x04
	TypeReleaseRQ   = 0x05
	TypeReleaseRP   = 0x06
	TypeAbort       = 0x07
)

// Variable item types carried by A-ASSOCIATE-RQ/AC
const (
	ItemApplicationContext        = 0x10
	ItemPresentationContextRQ     = 0x20
	ItemPresentationContextAC     = 0x21
	ItemAbstractSyntax            = 0x30
	ItemTransferSyntax            = 0x40
	ItemUserInformation           = 0x50
	ItemMaximumLength             = 0x51
	ItemImplementationClassUID    = 0x52
	ItemImplementationVersionName = 0x55
)

// Presentation context negotiation results (PS3.8 9.3.3.2)
const (
	ResultAcceptance                   byte = 0x00
	ResultUserRejection                byte = 0x01
	ResultNoReason                     byte = 0x02
	ResultAbstractSyntaxNotSupported   byte = 0x03
	ResultTransferSyntaxesNotSupported byte = 0x04
)

// Implementation identification sent in user information
const (
	ImplementationClassUID    = "1.2.826.0.1.3680043.9.7433.1.1"
	ImplementationVersionName = "MODALITYSIM_1"
)

// DefaultMaxPDULength is used when the peer announces no limit.
const DefaultMaxPDULength = 16384
