package types

import "testing"

func TestDIMSECommandConstants(t *testing.T) {
	tests := []struct {
		name     string
		constant uint16
		expected uint16
	}{
		{"C-STORE-RQ", CStoreRQ, 0x0001},
		{"C-STORE-RSP", CStoreRSP, 0x8001},
		{"C-FIND-RQ", CFindRQ, 0x0020},
		{"C-FIND-RSP", CFindRSP, 0x8020},
		{"C-ECHO-RQ", CEchoRQ, 0x0030},
		{"C-ECHO-RSP", CEchoRSP, 0x8030},
		{"C-CANCEL-RQ", CCancelRQ, 0x0FFF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.constant != tt.expected {
				t.Errorf("%s = 0x%04x, want 0x%04x", tt.name, tt.constant, tt.expected)
			}
		})
	}
}

func TestDIMSEStatusConstants(t *testing.T) {
	tests := []struct {
		name     string
		constant uint16
		expected uint16
	}{
		{"Success", StatusSuccess, 0x0000},
		{"Pending", StatusPending, 0xFF00},
		{"PendingWarning", StatusPendingWarning, 0xFF01},
		{"Cancel", StatusCancel, 0xFE00},
		{"OutOfResources", StatusOutOfResources, 0xA700},
		{"Failure", StatusFailure, 0xC000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.constant != tt.expected {
				t.Errorf("Status%s = 0x%04x, want 0x%04x", tt.name, tt.constant, tt.expected)
			}
		})
	}
}

func TestIsPendingStatus(t *testing.T) {
	tests := []struct {
		status uint16
		want   bool
	}{
		{StatusPending, true},
		{StatusPendingWarning, true},
		{StatusSuccess, false},
		{StatusCancel, false},
		{StatusOutOfResources, false},
	}

	for _, tt := range tests {
		if got := IsPendingStatus(tt.status); got != tt.want {
			t.Errorf("IsPendingStatus(0x%04x) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestResponseCommandFor(t *testing.T) {
	tests := []struct {
		request uint16
		want    uint16
	}{
		{CStoreRQ, CStoreRSP},
		{CFindRQ, CFindRSP},
		{CEchoRQ, CEchoRSP},
		{0x0021, 0x8021},
	}

	for _, tt := range tests {
		if got := ResponseCommandFor(tt.request); got != tt.want {
			t.Errorf("ResponseCommandFor(0x%04x) = 0x%04x, want 0x%04x", tt.request, got, tt.want)
		}
	}
}

func TestMessage_IsResponse(t *testing.T) {
	tests := []struct {
		name         string
		commandField uint16
		isResponse   bool
	}{
		{"C-FIND Request", CFindRQ, false},
		{"C-FIND Response", CFindRSP, true},
		{"C-ECHO Request", CEchoRQ, false},
		{"C-ECHO Response", CEchoRSP, true},
		{"C-STORE Request", CStoreRQ, false},
		{"C-STORE Response", CStoreRSP, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := &Message{CommandField: tt.commandField}
			if msg.IsResponse() != tt.isResponse {
				t.Errorf("Command 0x%04x IsResponse = %v, want %v",
					tt.commandField, msg.IsResponse(), tt.isResponse)
			}
		})
	}
}

func TestMessage_HasDataset(t *testing.T) {
	if (&Message{CommandDataSetType: NoDataSet}).HasDataset() {
		t.Error("0x0101 should mean no dataset")
	}
	if !(&Message{CommandDataSetType: DataSetPresent}).HasDataset() {
		t.Error("0x0000 should mean dataset present")
	}
	if !(&Message{CommandDataSetType: 0x0001}).HasDataset() {
		t.Error("any value other than 0x0101 means a dataset follows")
	}
}
