package dimse

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	dicomerrors "github.com/caio-sobreiro/modalitysim/errors"
	"github.com/caio-sobreiro/modalitysim/types"
)

// pdataPDU builds a P-DATA-TF PDU containing the given PDVs.
func pdataPDU(pdvs ...[]byte) []byte {
	var payload []byte
	for _, pdv := range pdvs {
		payload = binary.BigEndian.AppendUint32(payload, uint32(len(pdv)))
		payload = append(payload, pdv...)
	}
	out := []byte{types.TypePDataTF, 0x00}
	out = binary.BigEndian.AppendUint32(out, uint32(len(payload)))
	return append(out, payload...)
}

func pdv(ctxID, header byte, data []byte) []byte {
	return append([]byte{ctxID, header}, data...)
}

func TestSendPDataTF_Fragmentation(t *testing.T) {
	var buf bytes.Buffer
	data := bytes.Repeat([]byte{0xAB}, 100)

	// 40 byte PDUs leave 28 bytes per PDV
	if err := SendPDataTF(&buf, 3, 40, data, false, true); err != nil {
		t.Fatalf("SendPDataTF() error = %v", err)
	}

	raw := buf.Bytes()
	var reassembled []byte
	var headers []byte
	for len(raw) > 0 {
		if raw[0] != types.TypePDataTF {
			t.Fatalf("PDU type = 0x%02x", raw[0])
		}
		pduLen := binary.BigEndian.Uint32(raw[2:6])
		if pduLen > 40 {
			t.Errorf("PDU length %d exceeds max 40", pduLen)
		}
		body := raw[6 : 6+pduLen]
		if body[4] != 3 {
			t.Errorf("context ID = %d, want 3", body[4])
		}
		headers = append(headers, body[5])
		reassembled = append(reassembled, body[6:]...)
		raw = raw[6+pduLen:]
	}

	if !bytes.Equal(reassembled, data) {
		t.Error("reassembled data differs")
	}
	for i, h := range headers {
		last := i == len(headers)-1
		if (h&0x02 != 0) != last {
			t.Errorf("fragment %d last bit = %v, want %v", i, h&0x02 != 0, last)
		}
		if h&0x01 != 0 {
			t.Errorf("fragment %d marked as command", i)
		}
	}
}

func TestReceiveDIMSEMessage_MultiplePDVsInOnePDU(t *testing.T) {
	cmd, _ := EncodeCommand(&types.Message{
		CommandField:              types.CFindRSP,
		MessageIDBeingRespondedTo: 1,
		CommandDataSetType:        types.DataSetPresent,
		Status:                    types.StatusPending,
	})
	identifier := []byte{0x10, 0x00, 0x20, 0x00, 'L', 'O', 0x02, 0x00, 'P', '1'}

	var stream bytes.Buffer
	stream.Write(pdataPDU(pdv(1, 0x03, cmd), pdv(1, 0x00, identifier[:4]), pdv(1, 0x02, identifier[4:])))

	msg, data, err := ReceiveDIMSEMessage(&stream)
	if err != nil {
		t.Fatalf("ReceiveDIMSEMessage() error = %v", err)
	}
	if msg.Status != types.StatusPending {
		t.Errorf("Status = 0x%04x, want pending", msg.Status)
	}
	if !bytes.Equal(data, identifier) {
		t.Errorf("dataset = %v, want %v", data, identifier)
	}
}

func TestReceiveDIMSEMessage_NoDataset(t *testing.T) {
	cmd, _ := EncodeCommand(&types.Message{
		CommandField:              types.CStoreRSP,
		MessageIDBeingRespondedTo: 1,
		CommandDataSetType:        types.NoDataSet,
		Status:                    types.StatusOutOfResources,
	})

	stream := bytes.NewBuffer(pdataPDU(pdv(1, 0x03, cmd)))
	msg, data, err := ReceiveDIMSEMessage(stream)
	if err != nil {
		t.Fatalf("ReceiveDIMSEMessage() error = %v", err)
	}
	if msg.Status != types.StatusOutOfResources {
		t.Errorf("Status = 0x%04x, want 0xA700", msg.Status)
	}
	if len(data) != 0 {
		t.Errorf("unexpected dataset of %d bytes", len(data))
	}
}

func TestReceiveDIMSEMessage_Abort(t *testing.T) {
	stream := bytes.NewBuffer([]byte{types.TypeAbort, 0x00, 0x00, 0x00, 0x00, 0x04, 0x00, 0x00, 0x02, 0x01})

	_, _, err := ReceiveDIMSEMessage(stream)
	var abortErr *dicomerrors.AbortError
	if !errors.As(err, &abortErr) {
		t.Fatalf("expected AbortError, got %v", err)
	}
	if abortErr.Source != 0x02 || abortErr.Reason != 0x01 {
		t.Errorf("abort source/reason = %d/%d", abortErr.Source, abortErr.Reason)
	}
	if !errors.Is(err, dicomerrors.ErrConnectionClosed) {
		t.Error("abort should match ErrConnectionClosed")
	}
}

func TestReceiveDIMSEMessage_ConnectionDropped(t *testing.T) {
	_, _, err := ReceiveDIMSEMessage(bytes.NewBuffer(nil))
	var netErr *dicomerrors.NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
}

func TestSendCStore(t *testing.T) {
	rsp, _ := EncodeCommand(&types.Message{
		CommandField:              types.CStoreRSP,
		MessageIDBeingRespondedTo: 4,
		CommandDataSetType:        types.NoDataSet,
		Status:                    types.StatusSuccess,
		AffectedSOPInstanceUID:    "2.25.9",
	})

	conn := &loopConn{read: bytes.NewBuffer(pdataPDU(pdv(1, 0x03, rsp)))}
	resp, err := SendCStore(conn, 1, 16384, &CStoreRequest{
		SOPClassUID:    types.CTImageStorage,
		SOPInstanceUID: "2.25.9",
		Data:           []byte{0x08, 0x00, 0x60, 0x00, 0x02, 0x00, 0x00, 0x00, 'C', 'T'},
		MessageID:      4,
	})
	if err != nil {
		t.Fatalf("SendCStore() error = %v", err)
	}
	if resp.Status != types.StatusSuccess || resp.MessageID != 4 {
		t.Errorf("unexpected response %+v", resp)
	}

	// Command PDU then dataset PDU
	msg, data, err := ReceiveDIMSEMessage(&conn.written)
	if err != nil {
		t.Fatalf("decode written request: %v", err)
	}
	if msg.CommandField != types.CStoreRQ || msg.Priority != types.PriorityMedium {
		t.Errorf("unexpected request %+v", msg)
	}
	if len(data) != 10 {
		t.Errorf("dataset length = %d, want 10", len(data))
	}
}

type loopConn struct {
	read    *bytes.Buffer
	written bytes.Buffer
}

func (c *loopConn) Read(p []byte) (int, error)  { return c.read.Read(p) }
func (c *loopConn) Write(p []byte) (int, error) { return c.written.Write(p) }
