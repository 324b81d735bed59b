package worklist

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caio-sobreiro/modalitysim/client"
	"github.com/caio-sobreiro/modalitysim/config"
	"github.com/caio-sobreiro/modalitysim/dicom"
	dicomerrors "github.com/caio-sobreiro/modalitysim/errors"
	"github.com/caio-sobreiro/modalitysim/logging"
	"github.com/caio-sobreiro/modalitysim/metrics"
	"github.com/caio-sobreiro/modalitysim/types"
)

// scriptedAssociation replays a fixed C-FIND response stream.
type scriptedAssociation struct {
	responses []*client.CFindResponse
	err       error
	query     *client.CFindRequest
	closed    int
}

func (s *scriptedAssociation) SendCFind(ctx context.Context, req *client.CFindRequest) ([]*client.CFindResponse, error) {
	s.query = req
	return s.responses, s.err
}

func (s *scriptedAssociation) Close() error {
	s.closed++
	return nil
}

func newScriptedClient(assoc *scriptedAssociation, opts ...Option) *Client {
	connector := ConnectorFunc(func(ctx context.Context) (Association, error) {
		return assoc, nil
	})
	opts = append([]Option{WithConnector(connector), WithLogger(logging.Discard())}, opts...)
	return NewClient(config.Default(), opts...)
}

func identifier(accession, name string) *dicom.Dataset {
	ds := dicom.NewDataset()
	ds.AddElement(dicom.TagAccessionNumber, dicom.VR_SH, accession)
	ds.AddElement(dicom.TagPatientName, dicom.VR_PN, name)
	return ds
}

func TestFetchSchedule_KeepsMatchesInOrder(t *testing.T) {
	assoc := &scriptedAssociation{responses: []*client.CFindResponse{
		{Status: types.StatusPending},
		{Status: types.StatusPending, Dataset: identifier("A1", "DOE^JOHN")},
		{Status: types.StatusPendingWarning, Dataset: identifier("A2", "ROE^JANE")},
		{Status: types.StatusSuccess},
	}}

	items, err := newScriptedClient(assoc).FetchSchedule(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "A1", items[0].AccessionNumber)
	assert.Equal(t, "A2", items[1].AccessionNumber)
	assert.Equal(t, 1, assoc.closed)
}

func TestFetchSchedule_SuccessWithPayloadCounts(t *testing.T) {
	assoc := &scriptedAssociation{responses: []*client.CFindResponse{
		{Status: types.StatusPending},
		{Status: types.StatusSuccess, Dataset: identifier("R1", "A")},
		{Status: types.StatusSuccess, Dataset: identifier("R2", "B")},
	}}

	items, err := newScriptedClient(assoc).FetchSchedule(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "R1", items[0].AccessionNumber)
	assert.Equal(t, "R2", items[1].AccessionNumber)
}

func TestFetchSchedule_DropsEmptyAndFailedResponses(t *testing.T) {
	assoc := &scriptedAssociation{responses: []*client.CFindResponse{
		{Status: types.StatusPending, Dataset: dicom.NewDataset()},
		{Status: types.StatusFailure, Dataset: identifier("BAD", "X")},
		{Status: types.StatusSuccess},
	}}

	items, err := newScriptedClient(assoc).FetchSchedule(context.Background())
	assert.ErrorIs(t, err, dicomerrors.ErrNoMatches)
	assert.Empty(t, items)
	assert.NotNil(t, items)
	assert.Equal(t, 1, assoc.closed)
}

func TestFetchSchedule_ConnectionFailed(t *testing.T) {
	refused := errors.New("connection refused")
	c := NewClient(config.Default(),
		WithLogger(logging.Discard()),
		WithConnector(ConnectorFunc(func(ctx context.Context) (Association, error) {
			return nil, refused
		})))

	items, err := c.FetchSchedule(context.Background())
	assert.ErrorIs(t, err, dicomerrors.ErrConnectionFailed)
	assert.ErrorIs(t, err, refused)
	assert.NotNil(t, items)
	assert.Empty(t, items)
}

func TestFetchSchedule_BrokenExchangeKeepsPartialItems(t *testing.T) {
	assoc := &scriptedAssociation{
		responses: []*client.CFindResponse{
			{Status: types.StatusPending, Dataset: identifier("A1", "DOE^JOHN")},
		},
		err: dicomerrors.ErrConnectionClosed,
	}

	items, err := newScriptedClient(assoc).FetchSchedule(context.Background())
	assert.ErrorIs(t, err, dicomerrors.ErrConnectionFailed)
	assert.Len(t, items, 1)
	assert.Equal(t, 1, assoc.closed)
}

func TestFetchSchedule_FailureStatusIsReported(t *testing.T) {
	assoc := &scriptedAssociation{responses: []*client.CFindResponse{
		{Status: types.StatusPending, Dataset: identifier("A1", "DOE^JOHN")},
		{Status: types.StatusOutOfResources},
	}}

	items, err := newScriptedClient(assoc).FetchSchedule(context.Background())
	require.Error(t, err)
	status, ok := dicomerrors.StatusOf(err)
	require.True(t, ok)
	assert.Equal(t, uint16(types.StatusOutOfResources), status)
	assert.Len(t, items, 1)
}

func TestFetchSchedule_SendsFilteredQuery(t *testing.T) {
	assoc := &scriptedAssociation{responses: []*client.CFindResponse{{Status: types.StatusSuccess}}}
	c := newScriptedClient(assoc, WithFilter(Filter{Modality: "CT", ScheduledDate: "20261018"}))

	_, _ = c.FetchSchedule(context.Background())

	require.NotNil(t, assoc.query)
	assert.Equal(t, types.ModalityWorklistInformationModelFind, assoc.query.SOPClassUID)
	steps := assoc.query.Dataset.GetSequence(dicom.TagScheduledProcedureStepSequence)
	require.Len(t, steps, 1)
	assert.Equal(t, "CT", steps[0].GetString(dicom.TagModality))
	assert.Equal(t, "20261018", steps[0].GetString(dicom.TagScheduledStartDate))
}

func TestFetchSchedule_RecordsMetrics(t *testing.T) {
	assoc := &scriptedAssociation{responses: []*client.CFindResponse{
		{Status: types.StatusPending, Dataset: identifier("A1", "DOE^JOHN")},
		{Status: types.StatusSuccess},
	}}
	rec := metrics.New()

	_, err := newScriptedClient(assoc, WithMetrics(rec)).FetchSchedule(context.Background())
	require.NoError(t, err)

	families, err := rec.Registry().Gather()
	require.NoError(t, err)
	var found bool
	for _, mf := range families {
		if mf.GetName() == "modalitysim_worklist_items_total" {
			found = true
			assert.Equal(t, 1.0, mf.GetMetric()[0].GetCounter().GetValue())
		}
	}
	assert.True(t, found)
}
