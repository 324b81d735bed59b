package services

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/caio-sobreiro/modalitysim/dicom"
	"github.com/caio-sobreiro/modalitysim/interfaces"
)

func TestMemoryStore_Concurrent(t *testing.T) {
	store := NewMemoryStore()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.Store(context.Background(), interfaces.StoredInstance{SOPInstanceUID: "x"})
		}()
	}
	wg.Wait()

	if store.Len() != 20 {
		t.Errorf("Len() = %d, want 20", store.Len())
	}
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := NewMemoryStore().Store(ctx, interfaces.StoredInstance{}); err == nil {
		t.Error("expected context error")
	}
}

func TestParseWorklist(t *testing.T) {
	fixture := []byte(`
items:
  - patient_name: "DOE^JANE"
    patient_id: "P1"
    accession_number: "ACC1"
    referring_physician: "WHO^DR"
    steps:
      - modality: "CT"
        station_ae_title: "CT01"
  - patient_name: "ROE^RICHARD"
    accession_number: "ACC2"
`)

	w, err := ParseWorklist(fixture)
	if err != nil {
		t.Fatalf("ParseWorklist() error = %v", err)
	}

	items, err := w.ScheduledItems(context.Background())
	if err != nil {
		t.Fatalf("ScheduledItems() error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}

	first := items[0]
	if first.GetString(dicom.TagReferringPhysician) != "WHO^DR" {
		t.Errorf("ReferringPhysician = %q", first.GetString(dicom.TagReferringPhysician))
	}
	if first.Has(dicom.TagStudyInstanceUID) {
		t.Error("absent study UID should not be rendered")
	}
	steps := first.GetSequence(dicom.TagScheduledProcedureStepSequence)
	if len(steps) != 1 || steps[0].GetString(dicom.TagModality) != "CT" {
		t.Errorf("steps = %v", steps)
	}

	if items[1].Has(dicom.TagReferringPhysician) {
		t.Error("absent referring physician should not be rendered")
	}
}

func TestParseWorklist_Invalid(t *testing.T) {
	if _, err := ParseWorklist([]byte("items: {not: [a list")); err == nil {
		t.Error("expected YAML error")
	}
}

func TestLoadWorklistFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worklist.yaml")
	if err := os.WriteFile(path, []byte("items:\n  - accession_number: ACC9\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	w, err := LoadWorklistFile(path)
	if err != nil {
		t.Fatalf("LoadWorklistFile() error = %v", err)
	}
	items, _ := w.ScheduledItems(context.Background())
	if len(items) != 1 || items[0].GetString(dicom.TagAccessionNumber) != "ACC9" {
		t.Errorf("items = %v", items)
	}

	if _, err := LoadWorklistFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestDefaultWorklist(t *testing.T) {
	items, err := DefaultWorklist().ScheduledItems(context.Background())
	if err != nil {
		t.Fatalf("ScheduledItems() error = %v", err)
	}
	if len(items) == 0 {
		t.Fatal("default worklist is empty")
	}
	for _, item := range items {
		if item.GetString(dicom.TagAccessionNumber) == "" {
			t.Error("default worklist entry without accession number")
		}
	}
}
