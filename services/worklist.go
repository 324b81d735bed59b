package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/caio-sobreiro/modalitysim/dicom"
	"github.com/caio-sobreiro/modalitysim/interfaces"
	"github.com/caio-sobreiro/modalitysim/types"
)

// WorklistService is a Modality Worklist C-FIND SCP. Each scheduled item
// matching the request identifier is returned as a pending response holding
// only the requested keys, followed by a final success.
type WorklistService struct {
	provider interfaces.WorklistProvider
	logger   *slog.Logger
}

// NewWorklistService creates a worklist SCP over provider.
func NewWorklistService(provider interfaces.WorklistProvider, logger *slog.Logger) *WorklistService {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorklistService{provider: provider, logger: logger}
}

// HandleDIMSE rejects the request: C-FIND needs a streaming responder.
func (s *WorklistService) HandleDIMSE(ctx context.Context, msg *types.Message, data []byte, meta interfaces.MessageContext) (*types.Message, *dicom.Dataset, error) {
	return nil, nil, fmt.Errorf("worklist C-FIND requires a streaming responder")
}

// HandleDIMSEStreaming answers a worklist C-FIND.
func (s *WorklistService) HandleDIMSEStreaming(ctx context.Context, msg *types.Message, data []byte, meta interfaces.MessageContext, responder interfaces.ResponseSender) error {
	if msg.CommandField != types.CFindRQ {
		return fmt.Errorf("worklist service cannot handle command 0x%04x", msg.CommandField)
	}
	if msg.AffectedSOPClassUID != types.ModalityWorklistInformationModelFind {
		s.logger.WarnContext(ctx, "C-FIND for unsupported information model",
			"sop_class", msg.AffectedSOPClassUID)
		return responder.SendResponse(NewCFindErrorResponse(msg, types.StatusSOPClassNotSupported), nil)
	}

	query, err := dicom.ParseDatasetWithTransferSyntax(data, meta.TransferSyntaxUID)
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to parse worklist identifier", "error", err)
		return responder.SendResponse(NewCFindErrorResponse(msg, types.StatusIdentifierDoesNotMatch), nil)
	}

	items, err := s.provider.ScheduledItems(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "Worklist provider failed", "error", err)
		return responder.SendResponse(NewCFindErrorResponse(msg, types.StatusFailure), nil)
	}

	matches := 0
	for _, item := range items {
		if ctx.Err() != nil {
			return responder.SendResponse(NewCFindErrorResponse(msg, types.StatusCancel), nil)
		}
		if !matchIdentifier(query, item) {
			continue
		}
		if err := responder.SendResponse(NewCFindPendingResponse(msg), projectIdentifier(query, item)); err != nil {
			return fmt.Errorf("failed to send worklist match: %w", err)
		}
		matches++
	}

	s.logger.InfoContext(ctx, "Worklist query answered",
		"calling_ae", meta.CallingAETitle,
		"scheduled", len(items),
		"matches", matches)

	return responder.SendResponse(NewCFindSuccessResponse(msg), nil)
}
