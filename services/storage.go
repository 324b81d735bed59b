package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/caio-sobreiro/modalitysim/dicom"
	"github.com/caio-sobreiro/modalitysim/interfaces"
	"github.com/caio-sobreiro/modalitysim/types"
)

// StorageService is a C-STORE SCP that keeps received objects in an
// InstanceStore and answers with a configurable status.
type StorageService struct {
	store  interfaces.InstanceStore
	status uint16
	logger *slog.Logger
}

// StorageOption configures a StorageService.
type StorageOption func(*StorageService)

// WithStoreStatus makes the service answer every C-STORE with status. A
// non-success status refuses the object without storing it.
func WithStoreStatus(status uint16) StorageOption {
	return func(s *StorageService) { s.status = status }
}

// WithStorageLogger sets the service's logger.
func WithStorageLogger(logger *slog.Logger) StorageOption {
	return func(s *StorageService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStorageService creates a storage SCP backed by store.
func NewStorageService(store interfaces.InstanceStore, opts ...StorageOption) *StorageService {
	s := &StorageService{
		store:  store,
		status: types.StatusSuccess,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HandleDIMSE stores one C-STORE payload.
func (s *StorageService) HandleDIMSE(ctx context.Context, msg *types.Message, data []byte, meta interfaces.MessageContext) (*types.Message, *dicom.Dataset, error) {
	if msg.CommandField != types.CStoreRQ {
		return nil, nil, fmt.Errorf("storage service cannot handle command 0x%04x", msg.CommandField)
	}

	logger := s.logger.With(
		"calling_ae", meta.CallingAETitle,
		"sop_class", types.SOPClassName(msg.AffectedSOPClassUID),
		"sop_instance", msg.AffectedSOPInstanceUID,
		"transfer_syntax", meta.TransferSyntaxUID,
		"bytes", len(data))

	if s.status != types.StatusSuccess {
		logger.InfoContext(ctx, "Refusing C-STORE", "status", fmt.Sprintf("0x%04x", s.status))
		return NewCStoreResponse(msg, s.status), nil, nil
	}

	inst := interfaces.StoredInstance{
		SOPClassUID:       msg.AffectedSOPClassUID,
		SOPInstanceUID:    msg.AffectedSOPInstanceUID,
		TransferSyntaxUID: meta.TransferSyntaxUID,
		CallingAETitle:    meta.CallingAETitle,
		Data:              data,
	}
	if err := s.store.Store(ctx, inst); err != nil {
		logger.ErrorContext(ctx, "Failed to keep received object", "error", err)
		return NewCStoreResponse(msg, types.StatusOutOfResources), nil, nil
	}

	logger.InfoContext(ctx, "Stored object")
	return NewCStoreResponse(msg, types.StatusSuccess), nil, nil
}
