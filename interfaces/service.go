// Package interfaces contains all service and handler interfaces
package interfaces

import (
	"context"

	"github.com/caio-sobreiro/modalitysim/dicom"
	"github.com/caio-sobreiro/modalitysim/types"
)

// MessageContext describes the association a DIMSE message arrived on.
type MessageContext struct {
	PresentationContextID byte
	TransferSyntaxUID     string
	CallingAETitle        string
	CalledAETitle         string
}

// ServiceHandler interface for handling DIMSE operations
type ServiceHandler interface {
	HandleDIMSE(ctx context.Context, msg *types.Message, data []byte, meta MessageContext) (*types.Message, *dicom.Dataset, error)
}

// StreamingServiceHandler interface for multi-response DIMSE operations
type StreamingServiceHandler interface {
	HandleDIMSEStreaming(ctx context.Context, msg *types.Message, data []byte, meta MessageContext, responder ResponseSender) error
}

// ResponseSender interface for sending intermediate responses
type ResponseSender interface {
	SendResponse(msg *types.Message, dataset *dicom.Dataset) error
}

// DIMSEHandler interface for PDU layer to communicate with DIMSE layer
type DIMSEHandler interface {
	HandleDIMSEMessage(presContextID byte, msgCtrlHeader byte, data []byte, pduLayer PDULayer) error
}

// PDULayer interface for DIMSE layer to communicate with PDU layer
type PDULayer interface {
	SendDIMSEResponse(presContextID byte, commandData []byte) error
	SendDIMSEResponseWithDataset(presContextID byte, commandData []byte, dataset []byte) error
	GetTransferSyntax(presContextID byte) (string, error)
	AETitles() (calling, called string)
}
