// Package services provides the DIMSE service providers behind the mock
// archive: verification, modality worklist and storage.
package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/caio-sobreiro/modalitysim/dicom"
	"github.com/caio-sobreiro/modalitysim/interfaces"
	"github.com/caio-sobreiro/modalitysim/types"
)

// EchoService handles C-ECHO verification requests.
//
// C-ECHO is the DICOM equivalent of a "ping": it carries no dataset and
// only reports that the application entity is operational.
type EchoService struct {
	logger *slog.Logger
}

// NewEchoService creates a new C-ECHO service instance.
func NewEchoService(logger *slog.Logger) *EchoService {
	if logger == nil {
		logger = slog.Default()
	}
	return &EchoService{logger: logger}
}

// HandleDIMSE processes a C-ECHO request and returns a success response.
func (s *EchoService) HandleDIMSE(ctx context.Context, msg *types.Message, data []byte, meta interfaces.MessageContext) (*types.Message, *dicom.Dataset, error) {
	if msg.CommandField != types.CEchoRQ {
		return nil, nil, fmt.Errorf("echo service cannot handle command 0x%04x", msg.CommandField)
	}

	s.logger.InfoContext(ctx, "C-ECHO request received",
		"message_id", msg.MessageID,
		"calling_ae", meta.CallingAETitle)

	return NewCEchoResponse(msg, types.StatusSuccess), nil, nil
}

// HealthCheck always reports healthy; the echo service has no backend.
func (s *EchoService) HealthCheck(ctx context.Context) error {
	return nil
}
