package client

import (
	"context"
	"fmt"
	"time"

	"github.com/caio-sobreiro/modalitysim/dicom"
	"github.com/caio-sobreiro/modalitysim/dimse"
	dicomerrors "github.com/caio-sobreiro/modalitysim/errors"
	"github.com/caio-sobreiro/modalitysim/types"
)

// cancelGrace bounds how long we keep reading after C-CANCEL for the
// peer's final response.
const cancelGrace = 5 * time.Second

// CFindRequest encapsulates the information required to perform a C-FIND query.
type CFindRequest struct {
	SOPClassUID string // defaults to Modality Worklist FIND
	Priority    uint16
	Dataset     *dicom.Dataset
}

// CFindResponse represents a single C-FIND response from the SCP.
type CFindResponse struct {
	Status    uint16
	MessageID uint16
	Dataset   *dicom.Dataset
}

// SendCFind performs a C-FIND query and returns all responses in order,
// the final one included. The identifier is encoded and decoded in the
// negotiated transfer syntax. If ctx ends while matches are streaming in,
// C-CANCEL is sent and the responses gathered so far are returned along
// with an error matching errors.ErrOperationCanceled.
func (a *Association) SendCFind(ctx context.Context, req *CFindRequest) ([]*CFindResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("c-find request cannot be nil")
	}
	if req.Dataset == nil {
		return nil, fmt.Errorf("c-find request requires a dataset")
	}

	sopClass := req.SOPClassUID
	if sopClass == "" {
		sopClass = types.ModalityWorklistInformationModelFind
	}

	pc, ok := a.PresentationContext(sopClass)
	if !ok {
		return nil, fmt.Errorf("%w: %s", dicomerrors.ErrNoPresentationCtx, sopClass)
	}

	datasetData, err := dicom.EncodeDatasetWithTransferSyntax(req.Dataset, pc.TransferSyntax)
	if err != nil {
		return nil, fmt.Errorf("failed to encode C-FIND identifier: %w", err)
	}

	messageID := a.nextMessageID()
	command := &types.Message{
		CommandField:        types.CFindRQ,
		MessageID:           messageID,
		CommandDataSetType:  types.DataSetPresent,
		Priority:            req.Priority,
		AffectedSOPClassUID: sopClass,
	}

	commandData, err := dimse.EncodeCommand(command)
	if err != nil {
		return nil, fmt.Errorf("failed to encode C-FIND command: %w", err)
	}

	a.armDeadlines()
	if err := dimse.SendDIMSEMessage(a.conn, pc.ID, a.sendLimit(), commandData, datasetData); err != nil {
		return nil, fmt.Errorf("failed to send C-FIND request: %w", err)
	}

	stop := context.AfterFunc(ctx, func() {
		if err := a.SendCCancel(messageID, sopClass); err != nil {
			a.logger.Warn("Failed to send C-CANCEL", "error", err)
		}
		_ = a.conn.SetReadDeadline(time.Now().Add(cancelGrace))
	})
	defer stop()

	var responses []*CFindResponse
	for {
		if a.readTimeout > 0 && ctx.Err() == nil {
			_ = a.conn.SetReadDeadline(time.Now().Add(a.readTimeout))
		}

		msg, data, err := dimse.ReceiveDIMSEMessage(a.conn)
		if err != nil {
			if ctx.Err() != nil {
				return responses, fmt.Errorf("%w: %w", dicomerrors.ErrOperationCanceled, ctx.Err())
			}
			return responses, err
		}

		if msg.CommandField != types.CFindRSP {
			return responses, fmt.Errorf("%w: unexpected command 0x%04x (expected C-FIND-RSP)", dicomerrors.ErrInvalidMessage, msg.CommandField)
		}

		var dataset *dicom.Dataset
		if len(data) > 0 {
			dataset, err = dicom.ParseDatasetWithTransferSyntax(data, pc.TransferSyntax)
			if err != nil {
				a.logger.Warn("Failed to parse C-FIND response dataset",
					"error", err,
					"message_id", msg.MessageIDBeingRespondedTo,
					"status", fmt.Sprintf("0x%04X", msg.Status))
			}
		}

		responses = append(responses, &CFindResponse{
			Status:    msg.Status,
			MessageID: msg.MessageIDBeingRespondedTo,
			Dataset:   dataset,
		})

		if !types.IsPendingStatus(msg.Status) {
			break
		}
	}

	if ctx.Err() != nil {
		return responses, fmt.Errorf("%w: %w", dicomerrors.ErrOperationCanceled, ctx.Err())
	}
	return responses, nil
}
