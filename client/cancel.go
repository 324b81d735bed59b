package client

import (
	"fmt"

	"github.com/caio-sobreiro/modalitysim/dimse"
	"github.com/caio-sobreiro/modalitysim/types"
)

// SendCCancel sends a C-CANCEL-RQ for a pending C-FIND. The messageID
// parameter must match the MessageID of the operation being canceled.
// C-CANCEL has no response of its own; the peer ends the operation with a
// Cancel status on the original message.
func (a *Association) SendCCancel(messageID uint16, sopClassUID string) error {
	if messageID == 0 {
		return fmt.Errorf("messageID must be non-zero for C-CANCEL")
	}

	if sopClassUID == "" {
		return fmt.Errorf("sopClassUID must be provided for C-CANCEL")
	}

	presContextID, err := a.GetPresentationContextID(sopClassUID)
	if err != nil {
		return err
	}

	command := &types.Message{
		CommandField:              types.CCancelRQ,
		MessageIDBeingRespondedTo: messageID,
		CommandDataSetType:        types.NoDataSet,
	}

	commandData, err := dimse.EncodeCommand(command)
	if err != nil {
		return fmt.Errorf("failed to encode C-CANCEL command: %w", err)
	}

	if err := dimse.SendDIMSEMessage(a.conn, presContextID, a.sendLimit(), commandData, nil); err != nil {
		return fmt.Errorf("failed to send C-CANCEL request: %w", err)
	}

	a.logger.Debug("C-CANCEL sent", "message_id", messageID, "sop_class", sopClassUID)

	return nil
}
