package client

import (
	"context"
	"fmt"
	"time"

	"github.com/caio-sobreiro/modalitysim/dimse"
	"github.com/caio-sobreiro/modalitysim/types"
)

// CEchoResponse represents the result of a C-ECHO operation.
type CEchoResponse struct {
	Status    uint16
	MessageID uint16
}

// SendCEcho performs a DICOM C-ECHO (verification) request and returns the response status.
func (a *Association) SendCEcho(ctx context.Context) (*CEchoResponse, error) {
	presContextID, err := a.GetPresentationContextID(types.VerificationSOPClass)
	if err != nil {
		return nil, err
	}

	command := &types.Message{
		CommandField:        types.CEchoRQ,
		MessageID:           a.nextMessageID(),
		CommandDataSetType:  types.NoDataSet,
		AffectedSOPClassUID: types.VerificationSOPClass,
	}

	commandData, err := dimse.EncodeCommand(command)
	if err != nil {
		return nil, fmt.Errorf("failed to encode C-ECHO command: %w", err)
	}

	stop := a.interruptOn(ctx)
	defer stop()

	a.armDeadlines()
	if err := dimse.SendDIMSEMessage(a.conn, presContextID, a.sendLimit(), commandData, nil); err != nil {
		return nil, a.contextError(ctx, fmt.Errorf("failed to send C-ECHO request: %w", err))
	}

	msg, _, err := dimse.ReceiveDIMSEMessage(a.conn)
	if err != nil {
		return nil, a.contextError(ctx, err)
	}

	if msg.CommandField != types.CEchoRSP {
		return nil, fmt.Errorf("unexpected command: 0x%04x (expected C-ECHO-RSP)", msg.CommandField)
	}

	return &CEchoResponse{
		Status:    msg.Status,
		MessageID: msg.MessageIDBeingRespondedTo,
	}, nil
}

// interruptOn expires the connection deadlines once ctx is done so a
// blocked exchange returns.
func (a *Association) interruptOn(ctx context.Context) func() bool {
	return context.AfterFunc(ctx, func() {
		_ = a.conn.SetDeadline(time.Now())
	})
}

func (a *Association) contextError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ctx.Err(), err)
	}
	return err
}
