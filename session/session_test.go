package session

import (
	"bytes"
	"context"
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caio-sobreiro/modalitysim/binder"
	dicomerrors "github.com/caio-sobreiro/modalitysim/errors"
	"github.com/caio-sobreiro/modalitysim/logging"
	"github.com/caio-sobreiro/modalitysim/templates"
	"github.com/caio-sobreiro/modalitysim/templates/templatestest"
	"github.com/caio-sobreiro/modalitysim/transmit"
	"github.com/caio-sobreiro/modalitysim/types"
	"github.com/caio-sobreiro/modalitysim/worklist"
)

type fakeFetcher struct {
	items []worklist.Item
	err   error
	calls int
}

func (f *fakeFetcher) FetchSchedule(ctx context.Context) ([]worklist.Item, error) {
	f.calls++
	return f.items, f.err
}

type fakeTransmitter struct {
	mu       sync.Mutex
	status   uint16
	err      error
	contexts []transmit.Context
	objects  []*binder.OutgoingObject
}

func (f *fakeTransmitter) Transmit(ctx context.Context, obj *binder.OutgoingObject, pc transmit.Context) (*transmit.StoreOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contexts = append(f.contexts, pc)
	f.objects = append(f.objects, obj)
	if f.err != nil {
		return nil, f.err
	}
	outcome := &transmit.StoreOutcome{Status: f.status, SOPInstanceUID: obj.SOPInstanceUID}
	if f.status != types.StatusSuccess {
		return outcome, errors.Join(dicomerrors.ErrStoreRejected, dicomerrors.NewDIMSEError("C-STORE", f.status, "refused"))
	}
	return outcome, nil
}

var items = []worklist.Item{
	{PatientName: "SANTOSO^BUDI", AccessionNumber: "ACC20261018001", Steps: []worklist.Step{{Modality: "CR"}}},
	{PatientName: "LESTARI^DEWI", AccessionNumber: "ACC20261018002", Steps: []worklist.Step{{Modality: "CT"}}},
}

func newSession(t *testing.T, tx *fakeTransmitter, opts ...templatestest.Options) *Session {
	t.Helper()
	dir := t.TempDir()
	for i, o := range opts {
		templatestest.Write(t, dir, "tpl"+string(rune('a'+i))+".dcm", o)
	}
	return &Session{
		Templates:   templates.DirStore{Dir: dir},
		Binder:      binder.Binder{Institution: "RS SIMULASI"},
		Transmitter: tx,
		Rand:        rand.New(rand.NewPCG(7, 11)),
		Logger:      logging.Discard(),
	}
}

func TestSimulate_UsesTemplateContext(t *testing.T) {
	tx := &fakeTransmitter{}
	s := newSession(t, tx, templatestest.Options{
		SOPClassUID:       types.CTImageStorage,
		TransferSyntaxUID: types.ImplicitVRLittleEndian,
	})

	res, err := s.Simulate(context.Background(), items[1])
	require.NoError(t, err)

	require.Len(t, tx.contexts, 1)
	assert.Equal(t, transmit.Context{SOPClassUID: types.CTImageStorage, TransferSyntaxUID: types.ImplicitVRLittleEndian}, tx.contexts[0])
	assert.Equal(t, "tpla.dcm", res.Template)
	assert.Equal(t, "CT", res.Object.Modality)
	assert.True(t, res.Outcome.Success())
	assert.Contains(t, Report(res, nil), "ACC20261018002")
}

func TestSimulate_EmptyTemplateStore(t *testing.T) {
	tx := &fakeTransmitter{}
	s := newSession(t, tx)

	_, err := s.Simulate(context.Background(), items[0])
	assert.ErrorIs(t, err, dicomerrors.ErrEmptyTemplateStore)
	assert.Empty(t, tx.objects, "transmit must not be reached")
}

func TestSimulate_MalformedTemplate(t *testing.T) {
	tx := &fakeTransmitter{}
	s := newSession(t, tx)
	dir := s.Templates.(templates.DirStore).Dir
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.dcm"), []byte("garbage"), 0o600))

	_, err := s.Simulate(context.Background(), items[0])
	assert.ErrorIs(t, err, dicomerrors.ErrMalformedTemplate)
	assert.Empty(t, tx.objects)
}

func TestSimulate_StoreRejected(t *testing.T) {
	tx := &fakeTransmitter{status: types.StatusOutOfResources}
	s := newSession(t, tx, templatestest.Options{})

	res, err := s.Simulate(context.Background(), items[0])
	require.Error(t, err)
	assert.Equal(t, "The archive rejected the image with status 0xA700.", Report(res, err))
}

func TestRun_PickSimulateQuit(t *testing.T) {
	tx := &fakeTransmitter{}
	s := newSession(t, tx, templatestest.Options{})
	fetcher := &fakeFetcher{items: items}
	var out bytes.Buffer
	s.Worklist = fetcher
	s.Out = &out
	s.Picker = &LinePicker{In: strings.NewReader("2\n\nq\n"), Out: &out}

	require.NoError(t, s.Run(context.Background()))

	assert.Equal(t, 2, fetcher.calls)
	require.Len(t, tx.objects, 1)
	assert.Equal(t, "ACC20261018002", tx.objects[0].AccessionNumber)
	assert.Contains(t, out.String(), "Sent ")
	assert.Contains(t, out.String(), "LESTARI DEWI")
}

func TestRun_RefreshAfterConnectionFailure(t *testing.T) {
	tx := &fakeTransmitter{}
	s := newSession(t, tx, templatestest.Options{})
	fetcher := &fakeFetcher{items: []worklist.Item{}, err: errors.Join(dicomerrors.ErrConnectionFailed, errors.New("connection refused"))}
	var out bytes.Buffer
	s.Worklist = fetcher
	s.Out = &out
	s.Picker = &LinePicker{In: strings.NewReader("\n\n"), Out: &out}

	require.NoError(t, s.Run(context.Background()), "end of input quits")

	assert.Equal(t, 3, fetcher.calls)
	assert.Contains(t, out.String(), "Cannot reach the worklist provider")
	assert.Empty(t, tx.objects)
}

func TestRun_StopsOnCancel(t *testing.T) {
	s := newSession(t, &fakeTransmitter{})
	s.Worklist = &fakeFetcher{}
	s.Picker = &LinePicker{In: strings.NewReader(""), Out: &bytes.Buffer{}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Run(ctx), context.Canceled)
}

func TestBatch(t *testing.T) {
	tx := &fakeTransmitter{}
	s := newSession(t, tx, templatestest.Options{}, templatestest.Options{SOPClassUID: types.MRImageStorage})

	summary, err := s.Batch(context.Background(), items, BatchOptions{Count: 6, Workers: 3, Rate: 1000, Burst: 2})
	require.NoError(t, err)
	assert.Equal(t, 6, summary.Succeeded)
	assert.Zero(t, summary.Failed)
	require.Len(t, summary.Results, 6)

	seen := map[string]bool{}
	for i, r := range summary.Results {
		assert.Equal(t, i+1, r.Seq)
		assert.Equal(t, items[i%2].AccessionNumber, r.Result.Item.AccessionNumber)
		assert.False(t, seen[r.Result.Object.SOPInstanceUID])
		seen[r.Result.Object.SOPInstanceUID] = true
	}
}

func TestBatch_CountsFailures(t *testing.T) {
	tx := &fakeTransmitter{status: types.StatusOutOfResources}
	s := newSession(t, tx, templatestest.Options{})

	summary, err := s.Batch(context.Background(), items[:1], BatchOptions{Count: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Failed)
}

func TestBatch_Cancelled(t *testing.T) {
	s := newSession(t, &fakeTransmitter{}, templatestest.Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	summary, err := s.Batch(ctx, items, BatchOptions{Count: 100, Rate: 5, Burst: 1})
	assert.Error(t, err)
	assert.Less(t, len(summary.Results), 100)
}

func TestBatch_NoItems(t *testing.T) {
	s := newSession(t, &fakeTransmitter{})
	_, err := s.Batch(context.Background(), nil, BatchOptions{Count: 1})
	assert.Error(t, err)
}
