package dimse

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/caio-sobreiro/modalitysim/dicom"
	"github.com/caio-sobreiro/modalitysim/interfaces"
	"github.com/caio-sobreiro/modalitysim/types"
)

// Service manages DIMSE operations and message routing
type Service struct {
	handler     interfaces.ServiceHandler
	commandData []byte
	datasetData []byte
	currentMsg  *types.Message
	logger      *slog.Logger
}

// responseHandler implements ResponseSender for streaming responses
type responseHandler struct {
	service        *Service
	presContextID  byte
	transferSyntax string
	request        *types.Message
	pduLayer       interfaces.PDULayer
}

// SendResponse implements ResponseSender interface
func (r *responseHandler) SendResponse(msg *types.Message, dataset *dicom.Dataset) error {
	return r.service.sendDIMSEResponse(r.request, msg, dataset, r.presContextID, r.transferSyntax, r.pduLayer)
}

// NewService creates a new DIMSE service with a handler
func NewService(handler interfaces.ServiceHandler, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		handler: handler,
		logger:  logger,
	}
}

// HandleDIMSEMessage accumulates PDV fragments and dispatches each complete
// message (command plus optional dataset) to the handler.
func (d *Service) HandleDIMSEMessage(presContextID byte, msgCtrlHeader byte, data []byte, pduLayer interfaces.PDULayer) error {
	ctx := context.Background()

	// 0x01 = command, more fragments
	// 0x02 = dataset, last fragment
	// 0x03 = command, last fragment
	// 0x00 = dataset, more fragments
	isCommand := (msgCtrlHeader & 0x01) != 0
	isLastFragment := (msgCtrlHeader & 0x02) != 0

	if !isCommand {
		d.datasetData = append(d.datasetData, data...)
		if isLastFragment {
			return d.processCompleteMessage(ctx, presContextID, pduLayer)
		}
		return nil
	}

	d.commandData = append(d.commandData, data...)
	if !isLastFragment {
		return nil
	}

	msg, err := DecodeCommand(d.commandData)
	d.commandData = nil
	if err != nil {
		return fmt.Errorf("failed to parse DIMSE command: %w", err)
	}

	if msg.CommandField == types.CCancelRQ {
		// Responses are sent synchronously, so there is nothing left to stop.
		d.logger.Debug("Ignoring C-CANCEL-RQ", "message_id", msg.MessageIDBeingRespondedTo)
		return nil
	}

	d.currentMsg = msg
	if !msg.HasDataset() {
		return d.processCompleteMessage(ctx, presContextID, pduLayer)
	}
	return nil
}

// processCompleteMessage processes a complete DIMSE message (command + optional dataset)
func (d *Service) processCompleteMessage(ctx context.Context, presContextID byte, pduLayer interfaces.PDULayer) error {
	request := d.currentMsg
	data := d.datasetData

	// Reset for next message
	d.commandData = nil
	d.datasetData = nil
	d.currentMsg = nil

	if request == nil {
		return fmt.Errorf("no current message to process")
	}

	transferSyntax, err := pduLayer.GetTransferSyntax(presContextID)
	if err != nil {
		return err
	}
	request.TransferSyntaxUID = transferSyntax

	calling, called := pduLayer.AETitles()
	meta := interfaces.MessageContext{
		PresentationContextID: presContextID,
		TransferSyntaxUID:     transferSyntax,
		CallingAETitle:        calling,
		CalledAETitle:         called,
	}

	d.logger.DebugContext(ctx, "Processing complete DIMSE message",
		"command_field", fmt.Sprintf("0x%04x", request.CommandField),
		"message_id", request.MessageID,
		"dataset_size", len(data))

	// Streaming handlers answer C-FIND with several responses
	if streamingHandler, ok := d.handler.(interfaces.StreamingServiceHandler); ok {
		responder := &responseHandler{
			service:        d,
			presContextID:  presContextID,
			transferSyntax: transferSyntax,
			request:        request,
			pduLayer:       pduLayer,
		}
		return streamingHandler.HandleDIMSEStreaming(ctx, request, data, meta, responder)
	}

	responseMsg, responseData, err := d.handler.HandleDIMSE(ctx, request, data, meta)
	if err != nil {
		return fmt.Errorf("service handler failed: %w", err)
	}

	return d.sendDIMSEResponse(request, responseMsg, responseData, presContextID, transferSyntax, pduLayer)
}

// sendDIMSEResponse encodes the response command and identifier and hands them to the PDU layer
func (d *Service) sendDIMSEResponse(request, msg *types.Message, dataset *dicom.Dataset, presContextID byte, transferSyntax string, pduLayer interfaces.PDULayer) error {
	if msg.MessageIDBeingRespondedTo == 0 {
		msg.MessageIDBeingRespondedTo = request.MessageID
	}
	if msg.AffectedSOPClassUID == "" {
		msg.AffectedSOPClassUID = request.AffectedSOPClassUID
	}

	var datasetData []byte
	if dataset != nil {
		encoded, err := dicom.EncodeDatasetWithTransferSyntax(dataset, transferSyntax)
		if err != nil {
			return fmt.Errorf("failed to encode response dataset: %w", err)
		}
		datasetData = encoded
	}

	if len(datasetData) > 0 {
		msg.CommandDataSetType = types.DataSetPresent
	} else {
		msg.CommandDataSetType = types.NoDataSet
	}

	commandData, err := EncodeCommand(msg)
	if err != nil {
		return err
	}

	if len(datasetData) == 0 {
		return pduLayer.SendDIMSEResponse(presContextID, commandData)
	}
	return pduLayer.SendDIMSEResponseWithDataset(presContextID, commandData, datasetData)
}
