// Package worklist queries a Modality Worklist provider and turns its
// answers into Item records.
package worklist

import (
	"strings"

	"github.com/caio-sobreiro/modalitysim/dicom"
)

// Step is one scheduled procedure step.
type Step struct {
	Modality            string
	StationAETitle      string
	StartDate           string
	PerformingPhysician string
}

// Item is one scheduled exam. Strings are copied from the provider as-is.
// Nil optional fields were absent or empty in the response.
type Item struct {
	PatientName      string
	PatientID        string
	PatientBirthDate string
	PatientSex       string
	AccessionNumber  string

	StudyInstanceUID              *string
	RequestedProcedureDescription *string
	ReferringPhysician            *string

	Steps []Step
}

// DisplayName returns the patient name with DICOM name components
// separated by spaces.
func (i Item) DisplayName() string {
	return strings.Join(strings.Fields(strings.ReplaceAll(i.PatientName, "^", " ")), " ")
}

// Modality returns the first step's modality, or "" when nothing is scheduled.
func (i Item) Modality() string {
	if len(i.Steps) == 0 {
		return ""
	}
	return i.Steps[0].Modality
}

// Filter narrows a worklist query. Empty fields match everything.
type Filter struct {
	Modality       string
	StationAETitle string
	ScheduledDate  string
}

// BuildQuery returns the C-FIND identifier: every return key empty except
// the ones f filters on.
func BuildQuery(f Filter) *dicom.Dataset {
	step := dicom.NewDataset()
	step.AddElement(dicom.TagModality, dicom.VR_CS, f.Modality)
	step.AddElement(dicom.TagScheduledStationAETitle, dicom.VR_AE, f.StationAETitle)
	step.AddElement(dicom.TagScheduledStartDate, dicom.VR_DA, f.ScheduledDate)
	step.AddElement(dicom.TagScheduledPerformingPhysician, dicom.VR_PN, "")

	query := dicom.NewDataset()
	query.AddElement(dicom.TagPatientName, dicom.VR_PN, "")
	query.AddElement(dicom.TagPatientID, dicom.VR_LO, "")
	query.AddElement(dicom.TagAccessionNumber, dicom.VR_SH, "")
	query.AddElement(dicom.TagPatientBirthDate, dicom.VR_DA, "")
	query.AddElement(dicom.TagPatientSex, dicom.VR_CS, "")
	query.AddElement(dicom.TagStudyInstanceUID, dicom.VR_UI, "")
	query.AddElement(dicom.TagRequestedProcedureDescription, dicom.VR_LO, "")
	query.AddElement(dicom.TagReferringPhysician, dicom.VR_PN, "")
	query.AddSequence(dicom.TagScheduledProcedureStepSequence, step)
	return query
}

// ItemFromDataset reads a C-FIND response identifier.
func ItemFromDataset(ds *dicom.Dataset) Item {
	item := Item{
		PatientName:                   ds.GetString(dicom.TagPatientName),
		PatientID:                     ds.GetString(dicom.TagPatientID),
		PatientBirthDate:              ds.GetString(dicom.TagPatientBirthDate),
		PatientSex:                    ds.GetString(dicom.TagPatientSex),
		AccessionNumber:               ds.GetString(dicom.TagAccessionNumber),
		StudyInstanceUID:              optional(ds, dicom.TagStudyInstanceUID),
		RequestedProcedureDescription: optional(ds, dicom.TagRequestedProcedureDescription),
		ReferringPhysician:            optional(ds, dicom.TagReferringPhysician),
	}
	for _, step := range ds.GetSequence(dicom.TagScheduledProcedureStepSequence) {
		item.Steps = append(item.Steps, Step{
			Modality:            step.GetString(dicom.TagModality),
			StationAETitle:      step.GetString(dicom.TagScheduledStationAETitle),
			StartDate:           step.GetString(dicom.TagScheduledStartDate),
			PerformingPhysician: step.GetString(dicom.TagScheduledPerformingPhysician),
		})
	}
	return item
}

func optional(ds *dicom.Dataset, tag dicom.Tag) *string {
	v := ds.GetString(tag)
	if v == "" {
		return nil
	}
	return &v
}
