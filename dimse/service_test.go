package dimse

import (
	"context"
	"errors"
	"testing"

	"github.com/caio-sobreiro/modalitysim/dicom"
	"github.com/caio-sobreiro/modalitysim/interfaces"
	"github.com/caio-sobreiro/modalitysim/types"
)

// MockPDULayer is a mock implementation of PDULayer for testing
type MockPDULayer struct {
	SendDIMSEResponseFunc            func(presContextID byte, commandData []byte) error
	SendDIMSEResponseWithDatasetFunc func(presContextID byte, commandData []byte, datasetData []byte) error
	GetTransferSyntaxFunc            func(presContextID byte) (string, error)
	TransferSyntaxUID                string
	CallingAETitle                   string
}

func (m *MockPDULayer) SendDIMSEResponse(presContextID byte, commandData []byte) error {
	if m.SendDIMSEResponseFunc != nil {
		return m.SendDIMSEResponseFunc(presContextID, commandData)
	}
	return nil
}

func (m *MockPDULayer) SendDIMSEResponseWithDataset(presContextID byte, commandData []byte, datasetData []byte) error {
	if m.SendDIMSEResponseWithDatasetFunc != nil {
		return m.SendDIMSEResponseWithDatasetFunc(presContextID, commandData, datasetData)
	}
	return nil
}

func (m *MockPDULayer) GetTransferSyntax(presContextID byte) (string, error) {
	if m.GetTransferSyntaxFunc != nil {
		return m.GetTransferSyntaxFunc(presContextID)
	}
	return m.TransferSyntaxUID, nil
}

func (m *MockPDULayer) AETitles() (string, string) {
	return m.CallingAETitle, "ARCHIVE"
}

// MockServiceHandler is a mock implementation of ServiceHandler for testing
type MockServiceHandler struct {
	HandleDIMSEFunc func(ctx context.Context, msg *types.Message, data []byte, meta interfaces.MessageContext) (*types.Message, *dicom.Dataset, error)
}

func (m *MockServiceHandler) HandleDIMSE(ctx context.Context, msg *types.Message, data []byte, meta interfaces.MessageContext) (*types.Message, *dicom.Dataset, error) {
	if m.HandleDIMSEFunc != nil {
		return m.HandleDIMSEFunc(ctx, msg, data, meta)
	}
	// Default response
	return &types.Message{
		CommandField: types.CEchoRSP,
		Status:       types.StatusSuccess,
	}, nil, nil
}

// mockStreamingHandler answers every request with two pending matches and a final success.
type mockStreamingHandler struct {
	MockServiceHandler
}

func (m *mockStreamingHandler) HandleDIMSEStreaming(ctx context.Context, msg *types.Message, data []byte, meta interfaces.MessageContext, responder interfaces.ResponseSender) error {
	for _, id := range []string{"P1", "P2"} {
		match := dicom.NewDataset()
		match.AddElement(dicom.TagPatientID, dicom.VR_LO, id)
		if err := responder.SendResponse(&types.Message{CommandField: types.CFindRSP, Status: types.StatusPending}, match); err != nil {
			return err
		}
	}
	return responder.SendResponse(&types.Message{CommandField: types.CFindRSP, Status: types.StatusSuccess}, nil)
}

func encode(t *testing.T, msg *types.Message) []byte {
	t.Helper()
	data, err := EncodeCommand(msg)
	if err != nil {
		t.Fatalf("EncodeCommand: %v", err)
	}
	return data
}

func TestNewService(t *testing.T) {
	handler := &MockServiceHandler{}
	service := NewService(handler, nil)

	if service == nil {
		t.Fatal("Expected non-nil service")
	}
	if service.handler == nil {
		t.Error("Service handler not set")
	}
}

func TestService_HandleDIMSEMessage_CEchoNoDataset(t *testing.T) {
	var sent []byte
	service := NewService(&MockServiceHandler{}, nil)
	pduLayer := &MockPDULayer{
		TransferSyntaxUID: dicom.TransferSyntaxImplicitVRLittleEndian,
		SendDIMSEResponseFunc: func(presContextID byte, commandData []byte) error {
			if presContextID != 1 {
				t.Errorf("Expected context ID 1, got %d", presContextID)
			}
			sent = commandData
			return nil
		},
	}

	commandData := encode(t, &types.Message{
		CommandField:        types.CEchoRQ,
		MessageID:           1,
		AffectedSOPClassUID: types.VerificationSOPClass,
		CommandDataSetType:  types.NoDataSet,
	})

	if err := service.HandleDIMSEMessage(1, 0x03, commandData, pduLayer); err != nil {
		t.Fatalf("HandleDIMSEMessage failed: %v", err)
	}

	rsp, err := DecodeCommand(sent)
	if err != nil {
		t.Fatalf("response not decodable: %v", err)
	}
	if rsp.MessageIDBeingRespondedTo != 1 {
		t.Errorf("MessageIDBeingRespondedTo = %d, want 1", rsp.MessageIDBeingRespondedTo)
	}
	if rsp.AffectedSOPClassUID != types.VerificationSOPClass {
		t.Errorf("AffectedSOPClassUID = %q, want request's class", rsp.AffectedSOPClassUID)
	}
	if rsp.HasDataset() {
		t.Error("echo response should carry no dataset")
	}
}

func TestService_HandleDIMSEMessage_MultiFragment(t *testing.T) {
	var meta interfaces.MessageContext
	var received []byte
	handler := &MockServiceHandler{
		HandleDIMSEFunc: func(ctx context.Context, msg *types.Message, data []byte, m interfaces.MessageContext) (*types.Message, *dicom.Dataset, error) {
			meta = m
			received = data
			return &types.Message{CommandField: types.CStoreRSP, Status: types.StatusSuccess}, nil, nil
		},
	}

	service := NewService(handler, nil)
	pduLayer := &MockPDULayer{TransferSyntaxUID: types.JPEGBaseline8Bit, CallingAETitle: "FINDSCU"}

	commandData := encode(t, &types.Message{
		CommandField:        types.CStoreRQ,
		MessageID:           3,
		AffectedSOPClassUID: types.CTImageStorage,
		CommandDataSetType:  types.DataSetPresent,
	})

	// Command split over two fragments
	if err := service.HandleDIMSEMessage(5, 0x01, commandData[:10], pduLayer); err != nil {
		t.Fatalf("HandleDIMSEMessage failed: %v", err)
	}
	if err := service.HandleDIMSEMessage(5, 0x03, commandData[10:], pduLayer); err != nil {
		t.Fatalf("HandleDIMSEMessage failed: %v", err)
	}

	if err := service.HandleDIMSEMessage(5, 0x00, []byte("FRAGMENT"), pduLayer); err != nil {
		t.Fatalf("HandleDIMSEMessage failed: %v", err)
	}
	if err := service.HandleDIMSEMessage(5, 0x02, []byte("12345678"), pduLayer); err != nil {
		t.Fatalf("HandleDIMSEMessage failed: %v", err)
	}

	if string(received) != "FRAGMENT12345678" {
		t.Errorf("dataset = %q", received)
	}
	if meta.TransferSyntaxUID != types.JPEGBaseline8Bit || meta.PresentationContextID != 5 {
		t.Errorf("unexpected meta %+v", meta)
	}
	if meta.CallingAETitle != "FINDSCU" || meta.CalledAETitle != "ARCHIVE" {
		t.Errorf("unexpected AE titles in meta %+v", meta)
	}
}

func TestService_Streaming(t *testing.T) {
	var statuses []uint16
	var identifiers int
	record := func(commandData, datasetData []byte) error {
		msg, err := DecodeCommand(commandData)
		if err != nil {
			return err
		}
		statuses = append(statuses, msg.Status)
		if len(datasetData) > 0 {
			if !msg.HasDataset() {
				t.Error("dataset sent without CommandDataSetType present")
			}
			identifiers++
		}
		return nil
	}

	service := NewService(&mockStreamingHandler{}, nil)
	pduLayer := &MockPDULayer{
		TransferSyntaxUID: dicom.TransferSyntaxImplicitVRLittleEndian,
		SendDIMSEResponseFunc: func(_ byte, commandData []byte) error {
			return record(commandData, nil)
		},
		SendDIMSEResponseWithDatasetFunc: func(_ byte, commandData, datasetData []byte) error {
			return record(commandData, datasetData)
		},
	}

	commandData := encode(t, &types.Message{
		CommandField:        types.CFindRQ,
		MessageID:           2,
		AffectedSOPClassUID: types.ModalityWorklistInformationModelFind,
		CommandDataSetType:  types.DataSetPresent,
	})
	if err := service.HandleDIMSEMessage(1, 0x03, commandData, pduLayer); err != nil {
		t.Fatal(err)
	}
	if err := service.HandleDIMSEMessage(1, 0x02, dicom.NewDataset().EncodeDataset(), pduLayer); err != nil {
		t.Fatal(err)
	}

	want := []uint16{types.StatusPending, types.StatusPending, types.StatusSuccess}
	if len(statuses) != len(want) {
		t.Fatalf("got %d responses, want %d", len(statuses), len(want))
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Errorf("response %d status = 0x%04x, want 0x%04x", i, statuses[i], want[i])
		}
	}
	if identifiers != 2 {
		t.Errorf("identifiers = %d, want 2", identifiers)
	}
}

func TestService_CancelIgnored(t *testing.T) {
	called := false
	handler := &MockServiceHandler{
		HandleDIMSEFunc: func(ctx context.Context, msg *types.Message, data []byte, meta interfaces.MessageContext) (*types.Message, *dicom.Dataset, error) {
			called = true
			return nil, nil, nil
		},
	}
	service := NewService(handler, nil)

	commandData := encode(t, &types.Message{
		CommandField:              types.CCancelRQ,
		MessageIDBeingRespondedTo: 2,
		CommandDataSetType:        types.NoDataSet,
	})
	if err := service.HandleDIMSEMessage(1, 0x03, commandData, &MockPDULayer{}); err != nil {
		t.Fatal(err)
	}
	if called {
		t.Error("C-CANCEL must not reach the handler")
	}
}

func TestService_HandleDIMSEMessage_ParseError(t *testing.T) {
	service := NewService(&MockServiceHandler{}, nil)

	err := service.HandleDIMSEMessage(1, 0x03, []byte{0x00, 0x01, 0x02}, &MockPDULayer{})
	if err == nil {
		t.Error("Expected error for invalid command data")
	}
}

func TestService_HandleDIMSEMessage_HandlerError(t *testing.T) {
	handlerErr := errors.New("handler processing failed")
	handler := &MockServiceHandler{
		HandleDIMSEFunc: func(ctx context.Context, msg *types.Message, data []byte, meta interfaces.MessageContext) (*types.Message, *dicom.Dataset, error) {
			return nil, nil, handlerErr
		},
	}

	service := NewService(handler, nil)
	commandData := encode(t, &types.Message{CommandField: types.CEchoRQ, MessageID: 4, CommandDataSetType: types.NoDataSet})

	err := service.HandleDIMSEMessage(1, 0x03, commandData, &MockPDULayer{})
	if !errors.Is(err, handlerErr) {
		t.Errorf("expected wrapped handler error, got %v", err)
	}
}

func TestService_HandleDIMSEMessage_PDULayerError(t *testing.T) {
	service := NewService(&MockServiceHandler{}, nil)
	pduLayer := &MockPDULayer{
		SendDIMSEResponseFunc: func(presContextID byte, commandData []byte) error {
			return errors.New("PDU send failed")
		},
	}

	commandData := encode(t, &types.Message{CommandField: types.CEchoRQ, MessageID: 5, CommandDataSetType: types.NoDataSet})

	err := service.HandleDIMSEMessage(1, 0x03, commandData, pduLayer)
	if err == nil || err.Error() != "PDU send failed" {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestService_UnknownPresentationContext(t *testing.T) {
	service := NewService(&MockServiceHandler{}, nil)
	pduLayer := &MockPDULayer{
		GetTransferSyntaxFunc: func(byte) (string, error) { return "", errors.New("presentation context 9 not found") },
	}

	commandData := encode(t, &types.Message{CommandField: types.CEchoRQ, MessageID: 6, CommandDataSetType: types.NoDataSet})
	if err := service.HandleDIMSEMessage(9, 0x03, commandData, pduLayer); err == nil {
		t.Error("expected error for unknown context")
	}
}
