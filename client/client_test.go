package client

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/caio-sobreiro/modalitysim/dimse"
	dicomerrors "github.com/caio-sobreiro/modalitysim/errors"
	"github.com/caio-sobreiro/modalitysim/types"
)

// mockConn implements net.Conn for testing
type mockConn struct {
	readBuf  *bytes.Buffer
	writeBuf *bytes.Buffer
	closed   bool
}

func newMockConn() *mockConn {
	return &mockConn{
		readBuf:  new(bytes.Buffer),
		writeBuf: new(bytes.Buffer),
	}
}

func (m *mockConn) Read(b []byte) (n int, err error) {
	if m.closed {
		return 0, io.EOF
	}
	return m.readBuf.Read(b)
}

func (m *mockConn) Write(b []byte) (n int, err error) {
	if m.closed {
		return 0, io.ErrClosedPipe
	}
	return m.writeBuf.Write(b)
}

func (m *mockConn) Close() error {
	m.closed = true
	return nil
}

func (m *mockConn) LocalAddr() net.Addr                { return nil }
func (m *mockConn) RemoteAddr() net.Addr               { return nil }
func (m *mockConn) SetDeadline(t time.Time) error      { return nil }
func (m *mockConn) SetReadDeadline(t time.Time) error  { return nil }
func (m *mockConn) SetWriteDeadline(t time.Time) error { return nil }

func newTestAssociation(conn net.Conn) *Association {
	return &Association{
		conn:             conn,
		callingAETitle:   "FINDSCU",
		calledAETitle:    "ORTHANC",
		maxPDULength:     types.DefaultMaxPDULength,
		presentationCtxs: make(map[byte]*PresentationContext),
		logger:           slog.Default(),
	}
}

func wrapPDU(pduType byte, data []byte) []byte {
	out := []byte{pduType, 0x00}
	out = binary.BigEndian.AppendUint32(out, uint32(len(data)))
	return append(out, data...)
}

type contextResult struct {
	id     byte
	result byte
	ts     string
}

func associateAC(maxPDU uint32, results ...contextResult) []byte {
	body := make([]byte, 68)
	binary.BigEndian.PutUint16(body[0:2], 1)
	body = appendItem(body, types.ItemApplicationContext, []byte(types.ApplicationContextUID))
	for _, r := range results {
		item := []byte{r.id, 0x00, r.result, 0x00}
		item = appendItem(item, types.ItemTransferSyntax, []byte(r.ts))
		body = appendItem(body, types.ItemPresentationContextAC, item)
	}
	body = appendItem(body, types.ItemUserInformation,
		appendItem(nil, types.ItemMaximumLength, binary.BigEndian.AppendUint32(nil, maxPDU)))
	return wrapPDU(types.TypeAssociateAC, body)
}

// readPDUs splits a byte stream into PDUs.
func readPDUs(t *testing.T, data []byte) [][]byte {
	t.Helper()
	var pdus [][]byte
	for len(data) > 0 {
		if len(data) < 6 {
			t.Fatalf("trailing %d bytes", len(data))
		}
		n := 6 + int(binary.BigEndian.Uint32(data[2:6]))
		pdus = append(pdus, data[:n])
		data = data[n:]
	}
	return pdus
}

func TestSendAssociateRQ(t *testing.T) {
	conn := newMockConn()
	assoc := newTestAssociation(conn)

	contexts := []PresentationContextRequest{
		{AbstractSyntax: types.ModalityWorklistInformationModelFind, TransferSyntaxes: []string{types.ImplicitVRLittleEndian}},
		{AbstractSyntax: types.CTImageStorage, TransferSyntaxes: []string{types.JPEG2000Lossless}},
	}
	if err := assoc.sendAssociateRQ(contexts); err != nil {
		t.Fatalf("sendAssociateRQ() error = %v", err)
	}

	data := conn.writeBuf.Bytes()
	if data[0] != types.TypeAssociateRQ {
		t.Fatalf("PDU type = 0x%02x, want A-ASSOCIATE-RQ", data[0])
	}
	if got := string(data[10:26]); got != "ORTHANC         " {
		t.Errorf("called AE = %q", got)
	}
	if got := string(data[26:42]); got != "FINDSCU         " {
		t.Errorf("calling AE = %q", got)
	}

	if len(assoc.presentationCtxs) != 2 {
		t.Fatalf("tracked %d contexts, want 2", len(assoc.presentationCtxs))
	}
	if assoc.presentationCtxs[1].AbstractSyntax != types.ModalityWorklistInformationModelFind {
		t.Errorf("context 1 = %+v", assoc.presentationCtxs[1])
	}
	if assoc.presentationCtxs[3].AbstractSyntax != types.CTImageStorage {
		t.Errorf("context 3 = %+v", assoc.presentationCtxs[3])
	}
	if !bytes.Contains(data, []byte(types.JPEG2000Lossless)) {
		t.Error("proposed transfer syntax missing from A-ASSOCIATE-RQ")
	}
}

func TestReceiveAssociateAC(t *testing.T) {
	conn := newMockConn()
	assoc := newTestAssociation(conn)
	assoc.presentationCtxs[1] = &PresentationContext{ID: 1, AbstractSyntax: types.VerificationSOPClass}
	assoc.presentationCtxs[3] = &PresentationContext{ID: 3, AbstractSyntax: types.CTImageStorage}

	conn.readBuf.Write(associateAC(32768,
		contextResult{1, types.ResultAcceptance, types.ImplicitVRLittleEndian},
		contextResult{3, types.ResultTransferSyntaxesNotSupported, ""},
	))

	if err := assoc.receiveAssociateAC(); err != nil {
		t.Fatalf("receiveAssociateAC() error = %v", err)
	}

	if assoc.peerMaxPDULength != 32768 {
		t.Errorf("peer max PDU = %d, want 32768", assoc.peerMaxPDULength)
	}

	pc, ok := assoc.PresentationContext(types.VerificationSOPClass)
	if !ok || pc.TransferSyntax != types.ImplicitVRLittleEndian {
		t.Errorf("verification context = %+v, %v", pc, ok)
	}

	_, err := assoc.GetPresentationContextID(types.CTImageStorage)
	if !errors.Is(err, dicomerrors.ErrNoPresentationCtx) {
		t.Errorf("GetPresentationContextID() error = %v, want ErrNoPresentationCtx", err)
	}
}

func TestReceiveAssociateAC_Rejected(t *testing.T) {
	conn := newMockConn()
	assoc := newTestAssociation(conn)

	conn.readBuf.Write(wrapPDU(types.TypeAssociateRJ, []byte{0x00, 0x01, 0x01, 0x07}))

	err := assoc.receiveAssociateAC()
	if !errors.Is(err, dicomerrors.ErrAssociationRejected) {
		t.Fatalf("error = %v, want ErrAssociationRejected", err)
	}

	var assocErr *dicomerrors.AssociationError
	if !errors.As(err, &assocErr) {
		t.Fatalf("error %T is not *AssociationError", err)
	}
	if assocErr.Result != 1 || assocErr.Source != dicomerrors.RejectSourceServiceUser || assocErr.Reason != dicomerrors.RejectReasonCalledAETitleNotRecognized {
		t.Errorf("AssociationError = %+v", assocErr)
	}
}

func TestReceiveAssociateAC_Abort(t *testing.T) {
	conn := newMockConn()
	assoc := newTestAssociation(conn)

	conn.readBuf.Write(wrapPDU(types.TypeAbort, []byte{0x00, 0x00, 0x02, 0x00}))

	if err := assoc.receiveAssociateAC(); !errors.Is(err, dicomerrors.ErrConnectionClosed) {
		t.Errorf("error = %v, want ErrConnectionClosed", err)
	}
}

func storeResponse(t *testing.T, messageID, status uint16) []byte {
	t.Helper()
	cmd, err := dimse.EncodeCommand(&types.Message{
		CommandField:              types.CStoreRSP,
		MessageIDBeingRespondedTo: messageID,
		AffectedSOPClassUID:       types.CTImageStorage,
		AffectedSOPInstanceUID:    "2.25.7",
		CommandDataSetType:        types.NoDataSet,
		Status:                    status,
	})
	if err != nil {
		t.Fatal(err)
	}
	pdv := binary.BigEndian.AppendUint32(nil, uint32(len(cmd)+2))
	pdv = append(pdv, 1, 0x03)
	pdv = append(pdv, cmd...)
	return wrapPDU(types.TypePDataTF, pdv)
}

func TestSendCStore_FragmentsToPeerLimit(t *testing.T) {
	conn := newMockConn()
	assoc := newTestAssociation(conn)
	assoc.peerMaxPDULength = 1024
	assoc.presentationCtxs[1] = &PresentationContext{ID: 1, AbstractSyntax: types.CTImageStorage, TransferSyntax: types.JPEGLosslessSV1, Accepted: true}

	conn.readBuf.Write(storeResponse(t, 1, types.StatusOutOfResources))

	req := &CStoreRequest{
		SOPClassUID:    types.CTImageStorage,
		SOPInstanceUID: "2.25.7",
		Data:           bytes.Repeat([]byte{0xAB}, 3000),
	}
	resp, err := assoc.SendCStore(context.Background(), req)
	if err != nil {
		t.Fatalf("SendCStore() error = %v", err)
	}
	if resp.Status != types.StatusOutOfResources {
		t.Errorf("Status = 0x%04x, want 0xA700", resp.Status)
	}
	if req.MessageID != 1 {
		t.Errorf("assigned MessageID = %d, want 1", req.MessageID)
	}

	pdus := readPDUs(t, conn.writeBuf.Bytes())
	if len(pdus) < 4 {
		t.Fatalf("got %d PDUs, want command plus at least 3 data fragments", len(pdus))
	}
	for i, p := range pdus {
		if p[0] != types.TypePDataTF {
			t.Errorf("PDU %d type = 0x%02x", i, p[0])
		}
		if len(p)-6 > 1024 {
			t.Errorf("PDU %d length %d exceeds peer limit", i, len(p)-6)
		}
	}
}

func TestSendCStore_MessageIDMismatch(t *testing.T) {
	conn := newMockConn()
	assoc := newTestAssociation(conn)
	assoc.presentationCtxs[1] = &PresentationContext{ID: 1, AbstractSyntax: types.CTImageStorage, TransferSyntax: types.ExplicitVRLittleEndian, Accepted: true}

	conn.readBuf.Write(storeResponse(t, 99, types.StatusSuccess))

	_, err := assoc.SendCStore(context.Background(), &CStoreRequest{SOPClassUID: types.CTImageStorage, SOPInstanceUID: "2.25.7", Data: []byte{1, 2}})
	if !errors.Is(err, dicomerrors.ErrInvalidMessage) {
		t.Errorf("error = %v, want ErrInvalidMessage", err)
	}
}

func TestSendCStore_NoContext(t *testing.T) {
	assoc := newTestAssociation(newMockConn())

	_, err := assoc.SendCStore(context.Background(), &CStoreRequest{SOPClassUID: types.MRImageStorage, Data: []byte{1}})
	if !errors.Is(err, dicomerrors.ErrNoPresentationCtx) {
		t.Errorf("error = %v, want ErrNoPresentationCtx", err)
	}
}

func TestSendCCancel(t *testing.T) {
	conn := newMockConn()
	assoc := newTestAssociation(conn)
	assoc.presentationCtxs[3] = &PresentationContext{ID: 3, AbstractSyntax: types.ModalityWorklistInformationModelFind, TransferSyntax: types.ImplicitVRLittleEndian, Accepted: true}

	if err := assoc.SendCCancel(0, types.ModalityWorklistInformationModelFind); err == nil {
		t.Error("expected error for zero message ID")
	}

	if err := assoc.SendCCancel(12, types.ModalityWorklistInformationModelFind); err != nil {
		t.Fatalf("SendCCancel() error = %v", err)
	}

	pdus := readPDUs(t, conn.writeBuf.Bytes())
	if len(pdus) != 1 {
		t.Fatalf("got %d PDUs, want 1", len(pdus))
	}
	pdv := pdus[0][6:]
	if pdv[4] != 3 || pdv[5] != 0x03 {
		t.Errorf("PDV context/header = %d/0x%02x", pdv[4], pdv[5])
	}
	msg, err := dimse.DecodeCommand(pdv[6:])
	if err != nil {
		t.Fatalf("DecodeCommand() error = %v", err)
	}
	if msg.CommandField != types.CCancelRQ || msg.MessageIDBeingRespondedTo != 12 {
		t.Errorf("decoded C-CANCEL = %+v", msg)
	}
}

func TestClose(t *testing.T) {
	conn := newMockConn()
	assoc := newTestAssociation(conn)
	conn.readBuf.Write(wrapPDU(types.TypeReleaseRP, []byte{0, 0, 0, 0}))

	if err := assoc.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !conn.closed {
		t.Error("connection not closed")
	}
	if got := conn.writeBuf.Bytes(); len(got) != 10 || got[0] != types.TypeReleaseRQ {
		t.Errorf("release request = % x", got)
	}

	if err := assoc.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestClose_NoReleaseResponse(t *testing.T) {
	conn := newMockConn()
	assoc := newTestAssociation(conn)

	if err := assoc.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !conn.closed {
		t.Error("connection must be closed even without A-RELEASE-RP")
	}
}

func TestAbort(t *testing.T) {
	conn := newMockConn()
	assoc := newTestAssociation(conn)

	if err := assoc.Abort(); err != nil {
		t.Fatalf("Abort() error = %v", err)
	}
	if got := conn.writeBuf.Bytes(); len(got) != 10 || got[0] != types.TypeAbort {
		t.Errorf("abort PDU = % x", got)
	}
	if !conn.closed {
		t.Error("connection not closed")
	}
}

func TestNextMessageID_SkipsZero(t *testing.T) {
	assoc := newTestAssociation(newMockConn())
	assoc.messageID = 0xFFFF

	if got := assoc.nextMessageID(); got != 1 {
		t.Errorf("nextMessageID() after wrap = %d, want 1", got)
	}
}
