// Package templates reads prebuilt image objects from a directory.
package templates

import (
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	dicomerrors "github.com/caio-sobreiro/modalitysim/errors"
)

// Entry names one candidate template file.
type Entry struct {
	Name string
	Path string
}

// Template is a parsed template file. Pixel data is kept as read.
type Template struct {
	Name              string
	TransferSyntaxUID string
	SOPClassUID       string
	Dataset           dicom.Dataset
}

// Store lists and loads templates.
type Store interface {
	List() ([]Entry, error)
	Load(Entry) (*Template, error)
}

// DirStore serves the regular, non-hidden files of one directory.
type DirStore struct {
	Dir string
}

// List returns the candidate files sorted by name.
func (s DirStore) List() ([]Entry, error) {
	dirEntries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, fmt.Errorf("read template dir %s: %w", s.Dir, err)
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if strings.HasPrefix(de.Name(), ".") || !de.Type().IsRegular() {
			continue
		}
		entries = append(entries, Entry{
			Name: de.Name(),
			Path: filepath.Join(s.Dir, de.Name()),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Load parses e. Any parse problem, and a missing transfer syntax or SOP
// class, is reported as errors.ErrMalformedTemplate.
func (s DirStore) Load(e Entry) (tmpl *Template, err error) {
	defer func() {
		if r := recover(); r != nil {
			tmpl = nil
			err = fmt.Errorf("%w: %s: %v", dicomerrors.ErrMalformedTemplate, e.Name, r)
		}
	}()

	ds, err := dicom.ParseFile(e.Path, nil, dicom.SkipProcessingPixelDataValue())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", dicomerrors.ErrMalformedTemplate, e.Name, err)
	}
	return New(e.Name, ds)
}

// New wraps an already parsed dataset.
func New(name string, ds dicom.Dataset) (*Template, error) {
	ts := firstString(ds, tag.TransferSyntaxUID)
	if ts == "" {
		return nil, fmt.Errorf("%w: %s: no transfer syntax", dicomerrors.ErrMalformedTemplate, name)
	}
	sopClass := firstString(ds, tag.SOPClassUID)
	if sopClass == "" {
		sopClass = firstString(ds, tag.MediaStorageSOPClassUID)
	}
	if sopClass == "" {
		return nil, fmt.Errorf("%w: %s: no SOP class", dicomerrors.ErrMalformedTemplate, name)
	}

	return &Template{
		Name:              name,
		TransferSyntaxUID: ts,
		SOPClassUID:       sopClass,
		Dataset:           ds,
	}, nil
}

func firstString(ds dicom.Dataset, t tag.Tag) string {
	elem, err := ds.FindElementByTag(t)
	if err != nil || elem.Value == nil {
		return ""
	}
	values, ok := elem.Value.GetValue().([]string)
	if !ok || len(values) == 0 {
		return ""
	}
	return strings.TrimRight(values[0], "\x00 ")
}

// Pick chooses one entry uniformly at random. A nil rng uses the global
// source.
func Pick(store Store, rng *rand.Rand) (Entry, error) {
	entries, err := store.List()
	if err != nil {
		return Entry{}, err
	}
	if len(entries) == 0 {
		return Entry{}, dicomerrors.ErrEmptyTemplateStore
	}
	if rng == nil {
		return entries[rand.IntN(len(entries))], nil
	}
	return entries[rng.IntN(len(entries))], nil
}
