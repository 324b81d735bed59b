// Package templatestest writes small template files for tests.
package templatestest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/caio-sobreiro/modalitysim/types"
)

// Options describe a template. Zero fields take the defaults used by
// Dataset.
type Options struct {
	SOPClassUID       string
	TransferSyntaxUID string
	// Pixels, when set, becomes a single 8-bit row of native pixel data.
	Pixels []byte
	// Omit drops these tags from the dataset.
	Omit []tag.Tag
}

// Template field values written by Dataset.
const (
	PatientName        = "TEMPLATE^PATIENT"
	PatientID          = "TPL-0001"
	StudyInstanceUID   = "1.2.826.0.1.3680043.9.7433.1.1"
	SeriesInstanceUID  = "1.2.826.0.1.3680043.9.7433.1.1.1"
	SOPInstanceUID     = "1.2.826.0.1.3680043.9.7433.1.1.1.1"
	ReferringPhysician = "TEMPLATE^DOCTOR"
	Institution        = "TEMPLATE HOSPITAL"
	Manufacturer       = "ACME IMAGING"
)

// Dataset builds a complete template dataset.
func Dataset(t testing.TB, opts Options) dicom.Dataset {
	t.Helper()

	if opts.SOPClassUID == "" {
		opts.SOPClassUID = types.SecondaryCaptureImageStorage
	}
	if opts.TransferSyntaxUID == "" {
		opts.TransferSyntaxUID = types.ExplicitVRLittleEndian
	}

	omit := make(map[tag.Tag]bool, len(opts.Omit))
	for _, o := range opts.Omit {
		omit[o] = true
	}

	var elements []*dicom.Element
	add := func(tg tag.Tag, value any) {
		if omit[tg] {
			return
		}
		elem, err := dicom.NewElement(tg, value)
		if err != nil {
			t.Fatalf("new element %v: %v", tg, err)
		}
		elements = append(elements, elem)
	}

	add(tag.MediaStorageSOPClassUID, []string{opts.SOPClassUID})
	add(tag.MediaStorageSOPInstanceUID, []string{SOPInstanceUID})
	add(tag.TransferSyntaxUID, []string{opts.TransferSyntaxUID})
	add(tag.SOPClassUID, []string{opts.SOPClassUID})
	add(tag.SOPInstanceUID, []string{SOPInstanceUID})
	add(tag.StudyDate, []string{"20200101"})
	add(tag.StudyTime, []string{"101010"})
	add(tag.AccessionNumber, []string{"TPLACC"})
	add(tag.Modality, []string{"OT"})
	add(tag.Manufacturer, []string{Manufacturer})
	add(tag.InstitutionName, []string{Institution})
	add(tag.ReferringPhysicianName, []string{ReferringPhysician})
	add(tag.StudyDescription, []string{"Template study"})
	add(tag.PatientName, []string{PatientName})
	add(tag.PatientID, []string{PatientID})
	add(tag.PatientBirthDate, []string{"19700101"})
	add(tag.PatientSex, []string{"O"})
	add(tag.StudyInstanceUID, []string{StudyInstanceUID})
	add(tag.SeriesInstanceUID, []string{SeriesInstanceUID})
	add(tag.StudyID, []string{"TPL"})
	add(tag.SeriesNumber, []string{"7"})
	add(tag.InstanceNumber, []string{"9"})

	if len(opts.Pixels) > 0 {
		add(tag.SamplesPerPixel, []int{1})
		add(tag.PhotometricInterpretation, []string{"MONOCHROME2"})
		add(tag.Rows, []int{1})
		add(tag.Columns, []int{len(opts.Pixels)})
		add(tag.BitsAllocated, []int{8})
		add(tag.BitsStored, []int{8})
		add(tag.HighBit, []int{7})
		add(tag.PixelRepresentation, []int{0})

		native := frame.NewNativeFrame[uint8](8, 1, len(opts.Pixels), len(opts.Pixels), 1)
		copy(native.RawData, opts.Pixels)
		add(tag.PixelData, dicom.PixelDataInfo{
			Frames: []*frame.Frame{{Encapsulated: false, NativeData: native}},
		})
	}

	return dicom.Dataset{Elements: elements}
}

// Write stores a template file named name in dir and returns its path.
func Write(t testing.TB, dir, name string, opts Options) string {
	t.Helper()

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	defer f.Close()

	ds := Dataset(t, opts)
	if err := dicom.Write(f, ds, dicom.SkipVRVerification(), dicom.SkipValueTypeVerification()); err != nil {
		t.Fatalf("write template: %v", err)
	}
	return path
}
