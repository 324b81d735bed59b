package services

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/caio-sobreiro/modalitysim/dicom"
	"github.com/caio-sobreiro/modalitysim/interfaces"
)

// MemoryStore keeps received instances in memory.
type MemoryStore struct {
	mu        sync.RWMutex
	instances []interfaces.StoredInstance
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Store appends inst.
func (m *MemoryStore) Store(ctx context.Context, inst interfaces.StoredInstance) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instances = append(m.instances, inst)
	return nil
}

// Instances returns a snapshot of everything stored so far, in arrival order.
func (m *MemoryStore) Instances() []interfaces.StoredInstance {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]interfaces.StoredInstance, len(m.instances))
	copy(out, m.instances)
	return out
}

// Len returns the number of stored instances.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.instances)
}

//go:embed default_worklist.yaml
var defaultWorklist []byte

// ScheduledStep is one scheduled procedure step of a worklist fixture entry.
type ScheduledStep struct {
	Modality            string `yaml:"modality"`
	StationAETitle      string `yaml:"station_ae_title"`
	StartDate           string `yaml:"start_date"`
	StartTime           string `yaml:"start_time"`
	PerformingPhysician string `yaml:"performing_physician"`
	Description         string `yaml:"description"`
	StepID              string `yaml:"step_id"`
}

// ScheduledEntry is one exam of a worklist fixture. Nil optional fields are
// left out of the dataset entirely.
type ScheduledEntry struct {
	PatientName                   string          `yaml:"patient_name"`
	PatientID                     string          `yaml:"patient_id"`
	PatientBirthDate              string          `yaml:"patient_birth_date"`
	PatientSex                    string          `yaml:"patient_sex"`
	AccessionNumber               string          `yaml:"accession_number"`
	StudyInstanceUID              *string         `yaml:"study_instance_uid"`
	RequestedProcedureDescription *string         `yaml:"requested_procedure_description"`
	RequestedProcedureID          string          `yaml:"requested_procedure_id"`
	ReferringPhysician            *string         `yaml:"referring_physician"`
	Steps                         []ScheduledStep `yaml:"steps"`
}

type worklistFile struct {
	Items []ScheduledEntry `yaml:"items"`
}

// Dataset renders the entry as a worklist identifier.
func (e ScheduledEntry) Dataset() *dicom.Dataset {
	ds := dicom.NewDataset()
	ds.AddElement(dicom.TagSpecificCharacterSet, dicom.VR_CS, "ISO_IR 100")
	ds.AddElement(dicom.TagPatientName, dicom.VR_PN, e.PatientName)
	ds.AddElement(dicom.TagPatientID, dicom.VR_LO, e.PatientID)
	ds.AddElement(dicom.TagPatientBirthDate, dicom.VR_DA, e.PatientBirthDate)
	ds.AddElement(dicom.TagPatientSex, dicom.VR_CS, e.PatientSex)
	ds.AddElement(dicom.TagAccessionNumber, dicom.VR_SH, e.AccessionNumber)
	ds.AddElement(dicom.TagRequestedProcedureID, dicom.VR_SH, e.RequestedProcedureID)
	if e.StudyInstanceUID != nil {
		ds.AddElement(dicom.TagStudyInstanceUID, dicom.VR_UI, *e.StudyInstanceUID)
	}
	if e.RequestedProcedureDescription != nil {
		ds.AddElement(dicom.TagRequestedProcedureDescription, dicom.VR_LO, *e.RequestedProcedureDescription)
	}
	if e.ReferringPhysician != nil {
		ds.AddElement(dicom.TagReferringPhysician, dicom.VR_PN, *e.ReferringPhysician)
	}

	steps := make([]*dicom.Dataset, 0, len(e.Steps))
	for _, s := range e.Steps {
		step := dicom.NewDataset()
		step.AddElement(dicom.TagModality, dicom.VR_CS, s.Modality)
		step.AddElement(dicom.TagScheduledStationAETitle, dicom.VR_AE, s.StationAETitle)
		step.AddElement(dicom.TagScheduledStartDate, dicom.VR_DA, s.StartDate)
		step.AddElement(dicom.TagScheduledStartTime, dicom.VR_TM, s.StartTime)
		step.AddElement(dicom.TagScheduledPerformingPhysician, dicom.VR_PN, s.PerformingPhysician)
		step.AddElement(dicom.TagScheduledProcedureStepDesc, dicom.VR_LO, s.Description)
		step.AddElement(dicom.TagScheduledProcedureStepID, dicom.VR_SH, s.StepID)
		steps = append(steps, step)
	}
	ds.AddSequence(dicom.TagScheduledProcedureStepSequence, steps...)
	return ds
}

// StaticWorklist serves a fixed list of scheduled exams.
type StaticWorklist struct {
	items []*dicom.Dataset
}

// NewStaticWorklist builds a worklist from entries.
func NewStaticWorklist(entries ...ScheduledEntry) *StaticWorklist {
	w := &StaticWorklist{}
	for _, e := range entries {
		w.items = append(w.items, e.Dataset())
	}
	return w
}

// ParseWorklist decodes a YAML fixture of the form `items: [...]`.
func ParseWorklist(data []byte) (*StaticWorklist, error) {
	var f worklistFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode worklist fixture: %w", err)
	}
	return NewStaticWorklist(f.Items...), nil
}

// LoadWorklistFile reads a YAML worklist fixture.
func LoadWorklistFile(path string) (*StaticWorklist, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read worklist fixture: %w", err)
	}
	return ParseWorklist(data)
}

// DefaultWorklist returns the built-in sample schedule.
func DefaultWorklist() *StaticWorklist {
	w, err := ParseWorklist(defaultWorklist)
	if err != nil {
		panic(fmt.Sprintf("embedded worklist fixture: %v", err))
	}
	return w
}

// ScheduledItems returns the worklist datasets.
func (w *StaticWorklist) ScheduledItems(ctx context.Context) ([]*dicom.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return w.items, nil
}
