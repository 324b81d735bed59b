package client

import (
	"context"
	"fmt"

	"github.com/caio-sobreiro/modalitysim/dimse"
	dicomerrors "github.com/caio-sobreiro/modalitysim/errors"
)

// CStoreRequest represents a C-STORE request. Data must already be encoded
// in the transfer syntax negotiated for SOPClassUID.
type CStoreRequest = dimse.CStoreRequest

// CStoreResponse represents a C-STORE response
type CStoreResponse = dimse.CStoreResponse

// SendCStore sends a C-STORE request and waits for the response. The
// response status is returned as-is; interpreting it is up to the caller.
func (a *Association) SendCStore(ctx context.Context, req *CStoreRequest) (*CStoreResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("c-store request cannot be nil")
	}

	presContextID, err := a.GetPresentationContextID(req.SOPClassUID)
	if err != nil {
		return nil, err
	}
	if req.MessageID == 0 {
		req.MessageID = a.nextMessageID()
	}

	stop := a.interruptOn(ctx)
	defer stop()

	a.armDeadlines()
	resp, err := dimse.SendCStore(a.conn, presContextID, a.sendLimit(), req)
	if err != nil {
		return nil, a.contextError(ctx, err)
	}

	a.logger.Debug("C-STORE completed",
		"sop_class", req.SOPClassUID,
		"sop_instance", req.SOPInstanceUID,
		"data_size", len(req.Data),
		"status", fmt.Sprintf("0x%04X", resp.Status))

	if resp.MessageID != req.MessageID {
		return resp, fmt.Errorf("%w: response for message %d, sent %d", dicomerrors.ErrInvalidMessage, resp.MessageID, req.MessageID)
	}
	return resp, nil
}
