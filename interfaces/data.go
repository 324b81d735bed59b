package interfaces

import (
	"context"

	"github.com/caio-sobreiro/modalitysim/dicom"
)

// WorklistProvider supplies the scheduled procedure steps a worklist SCP
// matches C-FIND identifiers against.
type WorklistProvider interface {
	ScheduledItems(ctx context.Context) ([]*dicom.Dataset, error)
}

// StoredInstance is one object received over C-STORE.
type StoredInstance struct {
	SOPClassUID       string
	SOPInstanceUID    string
	TransferSyntaxUID string
	CallingAETitle    string
	Data              []byte
}

// InstanceStore keeps objects received by a storage SCP.
type InstanceStore interface {
	Store(ctx context.Context, inst StoredInstance) error
}
