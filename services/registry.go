package services

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/caio-sobreiro/modalitysim/dicom"
	"github.com/caio-sobreiro/modalitysim/interfaces"
	"github.com/caio-sobreiro/modalitysim/types"
)

// Registry manages DICOM service handlers and routes incoming DIMSE messages.
//
// The registry dispatches on the command field. It supports both
// single-response and streaming (multi-response) operations.
//
// Example usage:
//
//	registry := services.NewRegistry(logger)
//	registry.RegisterHandler(types.CEchoRQ, services.NewEchoService(logger))
//	registry.RegisterHandler(types.CFindRQ, services.NewWorklistService(worklist, logger))
//	registry.RegisterHandler(types.CStoreRQ, services.NewStorageService(store))
type Registry struct {
	handlers map[uint16]interfaces.ServiceHandler
	logger   *slog.Logger
}

// NewRegistry creates a new, empty service registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		handlers: make(map[uint16]interfaces.ServiceHandler),
		logger:   logger,
	}
}

// RegisterHandler registers a service handler for a specific DIMSE command.
// Registering the same command twice replaces the previous handler.
func (r *Registry) RegisterHandler(commandField uint16, handler interfaces.ServiceHandler) {
	r.handlers[commandField] = handler
}

func (r *Registry) lookup(ctx context.Context, msg *types.Message) (interfaces.ServiceHandler, bool) {
	r.logger.DebugContext(ctx, "Routing DIMSE message",
		"command_field", fmt.Sprintf("0x%04x", msg.CommandField),
		"message_id", msg.MessageID)

	handler, ok := r.handlers[msg.CommandField]
	if !ok {
		r.logger.WarnContext(ctx, "No handler registered for DIMSE command",
			"command_field", fmt.Sprintf("0x%04x", msg.CommandField))
	}
	return handler, ok
}

// HandleDIMSE routes a single-response DIMSE message to its handler. A
// command without a handler is answered with Unrecognized Operation.
func (r *Registry) HandleDIMSE(ctx context.Context, msg *types.Message, data []byte, meta interfaces.MessageContext) (*types.Message, *dicom.Dataset, error) {
	handler, ok := r.lookup(ctx, msg)
	if !ok {
		return CreateErrorResponse(msg, types.StatusUnrecognizedOperation), nil, nil
	}
	return handler.HandleDIMSE(ctx, msg, data, meta)
}

// HandleDIMSEStreaming routes a DIMSE message to its handler, using the
// streaming interface when the handler implements it and otherwise sending
// the handler's single response through responder.
func (r *Registry) HandleDIMSEStreaming(ctx context.Context, msg *types.Message, data []byte, meta interfaces.MessageContext, responder interfaces.ResponseSender) error {
	handler, ok := r.lookup(ctx, msg)
	if !ok {
		return responder.SendResponse(CreateErrorResponse(msg, types.StatusUnrecognizedOperation), nil)
	}

	if streamingHandler, ok := handler.(interfaces.StreamingServiceHandler); ok {
		return streamingHandler.HandleDIMSEStreaming(ctx, msg, data, meta, responder)
	}

	responseMsg, responseData, err := handler.HandleDIMSE(ctx, msg, data, meta)
	if err != nil {
		return err
	}
	return responder.SendResponse(responseMsg, responseData)
}

// RegisteredCommands returns the command fields that have handlers
// registered, in ascending order.
func (r *Registry) RegisteredCommands() []uint16 {
	commands := make([]uint16, 0, len(r.handlers))
	for cmd := range r.handlers {
		commands = append(commands, cmd)
	}
	slices.Sort(commands)
	return commands
}

// CreateErrorResponse creates a dataset-less response carrying status.
func CreateErrorResponse(req *types.Message, status uint16) *types.Message {
	return &types.Message{
		CommandField:              types.ResponseCommandFor(req.CommandField),
		MessageIDBeingRespondedTo: req.MessageID,
		AffectedSOPClassUID:       req.AffectedSOPClassUID,
		AffectedSOPInstanceUID:    req.AffectedSOPInstanceUID,
		CommandDataSetType:        types.NoDataSet,
		Status:                    status,
	}
}
