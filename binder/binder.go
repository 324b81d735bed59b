// Package binder grafts the identity of a scheduled exam onto a copy of a
// template image.
//
// Only header attributes change. The transfer syntax, SOP class and pixel
// data of the template are carried over untouched.
package binder

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	wire "github.com/caio-sobreiro/modalitysim/dicom"
	dicomerrors "github.com/caio-sobreiro/modalitysim/errors"
	"github.com/caio-sobreiro/modalitysim/templates"
	"github.com/caio-sobreiro/modalitysim/uid"
	"github.com/caio-sobreiro/modalitysim/worklist"
)

// Defaults used when the worklist item leaves a field out.
const (
	DefaultPatientName      = "No Name"
	DefaultStudyDescription = "Radiology Exam"
	DefaultModality         = "OT"
)

// Clock supplies the bind time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock.
var SystemClock Clock = ClockFunc(time.Now)

// Binder holds the site settings applied to every bound object.
type Binder struct {
	Institution                 string
	PropagateReferringPhysician bool
	// NewUID mints instance identifiers; nil uses uid.New.
	NewUID func() string
}

// OutgoingObject is a bound copy of a template, ready to send once.
type OutgoingObject struct {
	SOPClassUID       string
	TransferSyntaxUID string
	StudyInstanceUID  string
	SeriesInstanceUID string
	SOPInstanceUID    string
	AccessionNumber   string
	Modality          string
	TemplateName      string

	Dataset dicom.Dataset
}

// Bind builds an OutgoingObject from item and tmpl. tmpl is not modified.
// Missing optional item fields fall back to the package defaults.
func (b Binder) Bind(item worklist.Item, tmpl *templates.Template, clock Clock) (obj *OutgoingObject, err error) {
	if tmpl == nil {
		return nil, fmt.Errorf("%w: no template", dicomerrors.ErrMalformedTemplate)
	}
	if clock == nil {
		clock = SystemClock
	}
	newUID := b.NewUID
	if newUID == nil {
		newUID = uid.New
	}

	defer func() {
		if r := recover(); r != nil {
			obj = nil
			err = fmt.Errorf("%w: %s: %v", dicomerrors.ErrMalformedTemplate, tmpl.Name, r)
		}
	}()

	e := editor{elements: append([]*dicom.Element(nil), tmpl.Dataset.Elements...)}

	patientName := strings.Join(strings.Fields(strings.ReplaceAll(item.PatientName, "^", " ")), " ")
	if patientName == "" {
		patientName = DefaultPatientName
	}
	e.set(tag.PatientName, patientName)
	e.set(tag.PatientID, item.PatientID)
	e.set(tag.PatientBirthDate, item.PatientBirthDate)
	e.set(tag.PatientSex, item.PatientSex)

	e.set(tag.AccessionNumber, item.AccessionNumber)
	e.set(tag.StudyID, item.AccessionNumber)

	description := DefaultStudyDescription
	if v := deref(item.RequestedProcedureDescription); v != "" {
		description = v
	}
	e.set(tag.StudyDescription, description)

	e.set(tag.InstitutionName, b.Institution)

	studyUID := deref(item.StudyInstanceUID)
	if studyUID == "" {
		studyUID = newUID()
	}
	e.set(tag.StudyInstanceUID, studyUID)

	modality := DefaultModality
	if m := item.Modality(); m != "" {
		modality = m
	}
	e.set(tag.Modality, modality)

	if b.PropagateReferringPhysician {
		e.set(tag.ReferringPhysicianName, deref(item.ReferringPhysician))
	}

	seriesUID := newUID()
	sopUID := newUID()
	e.set(tag.SeriesInstanceUID, seriesUID)
	e.set(tag.SOPInstanceUID, sopUID)

	if e.has(tag.MediaStorageSOPInstanceUID) {
		e.set(tag.MediaStorageSOPInstanceUID, sopUID)
	}

	e.set(tag.SeriesDescription, fmt.Sprintf("Simulated %s (source: %s)", modality, tmpl.Name))

	e.set(tag.SeriesNumber, "1")
	e.set(tag.InstanceNumber, "1")

	now := clock.Now()
	date, clockTime := now.Format("20060102"), now.Format("150405")
	e.set(tag.StudyDate, date)
	e.set(tag.SeriesDate, date)
	e.set(tag.ContentDate, date)
	e.set(tag.StudyTime, clockTime)
	e.set(tag.SeriesTime, clockTime)
	e.set(tag.ContentTime, clockTime)

	if e.err != nil {
		return nil, fmt.Errorf("%w: %s: %w", dicomerrors.ErrMalformedTemplate, tmpl.Name, e.err)
	}

	return &OutgoingObject{
		SOPClassUID:       tmpl.SOPClassUID,
		TransferSyntaxUID: tmpl.TransferSyntaxUID,
		StudyInstanceUID:  studyUID,
		SeriesInstanceUID: seriesUID,
		SOPInstanceUID:    sopUID,
		AccessionNumber:   item.AccessionNumber,
		Modality:          modality,
		TemplateName:      tmpl.Name,
		Dataset:           dicom.Dataset{Elements: e.sorted()},
	}, nil
}

// editor replaces elements in a private copy of the element list. The
// template's own elements are never written to.
type editor struct {
	elements []*dicom.Element
	err      error
}

func (e *editor) index(t tag.Tag) int {
	for i, elem := range e.elements {
		if elem.Tag == t {
			return i
		}
	}
	return -1
}

func (e *editor) has(t tag.Tag) bool {
	return e.index(t) >= 0
}

func (e *editor) set(t tag.Tag, value string) {
	if e.err != nil {
		return
	}
	elem, err := dicom.NewElement(t, []string{value})
	if err != nil {
		e.err = fmt.Errorf("set %v: %w", t, err)
		return
	}
	if i := e.index(t); i >= 0 {
		e.elements[i] = elem
		return
	}
	e.elements = append(e.elements, elem)
}

func (e *editor) sorted() []*dicom.Element {
	sort.SliceStable(e.elements, func(i, j int) bool {
		a, b := e.elements[i].Tag, e.elements[j].Tag
		if a.Group != b.Group {
			return a.Group < b.Group
		}
		return a.Element < b.Element
	})
	return e.elements
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

// Encode returns the dataset bytes a C-STORE carries: the object written in
// its original transfer syntax, without the Part 10 header.
func (o *OutgoingObject) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := dicom.Write(&buf, o.Dataset, dicom.SkipVRVerification(), dicom.SkipValueTypeVerification()); err != nil {
		return nil, fmt.Errorf("write %s: %w", o.SOPInstanceUID, err)
	}

	meta, data, err := wire.SplitPart10(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("split %s: %w", o.SOPInstanceUID, err)
	}
	if meta.TransferSyntaxUID != o.TransferSyntaxUID {
		return nil, fmt.Errorf("written transfer syntax %s differs from template %s", meta.TransferSyntaxUID, o.TransferSyntaxUID)
	}
	return data, nil
}
