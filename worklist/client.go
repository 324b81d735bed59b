package worklist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/caio-sobreiro/modalitysim/client"
	"github.com/caio-sobreiro/modalitysim/config"
	dicomerrors "github.com/caio-sobreiro/modalitysim/errors"
	"github.com/caio-sobreiro/modalitysim/metrics"
	"github.com/caio-sobreiro/modalitysim/types"
)

// Association is the part of an open association the worklist client uses.
type Association interface {
	SendCFind(ctx context.Context, req *client.CFindRequest) ([]*client.CFindResponse, error)
	Close() error
}

// Connector opens an association to the worklist provider.
type Connector interface {
	Connect(ctx context.Context) (Association, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context) (Association, error)

func (f ConnectorFunc) Connect(ctx context.Context) (Association, error) {
	return f(ctx)
}

// Client fetches the schedule from one provider.
type Client struct {
	filter    Filter
	connector Connector
	logger    *slog.Logger
	metrics   *metrics.Recorder
}

// Option configures a Client.
type Option func(*Client)

// WithConnector replaces the network connector.
func WithConnector(c Connector) Option {
	return func(cl *Client) { cl.connector = c }
}

func WithLogger(logger *slog.Logger) Option {
	return func(cl *Client) { cl.logger = logger }
}

func WithMetrics(m *metrics.Recorder) Option {
	return func(cl *Client) { cl.metrics = m }
}

// WithFilter overrides the filter taken from the configuration.
func WithFilter(f Filter) Option {
	return func(cl *Client) { cl.filter = f }
}

// NewClient returns a client for the provider named in cfg. The
// association proposes Modality Worklist FIND only.
func NewClient(cfg config.Config, opts ...Option) *Client {
	c := &Client{
		filter: Filter{
			Modality:       cfg.Worklist.Modality,
			StationAETitle: cfg.Worklist.StationAETitle,
			ScheduledDate:  cfg.Worklist.ScheduledDate,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.connector == nil {
		c.connector = dialer(cfg, c.logger)
	}
	return c
}

func dialer(cfg config.Config, logger *slog.Logger) Connector {
	return ConnectorFunc(func(ctx context.Context) (Association, error) {
		assoc, err := client.Connect(ctx, cfg.Address(), client.Config{
			CallingAETitle: cfg.CallingAETitle,
			CalledAETitle:  cfg.CalledAETitle,
			MaxPDULength:   cfg.MaxPDULength,
			ConnectTimeout: cfg.ConnectTimeout,
			ReadTimeout:    cfg.ReadTimeout,
			WriteTimeout:   cfg.WriteTimeout,
			Logger:         logger,
			Contexts: []client.PresentationContextRequest{{
				AbstractSyntax: types.ModalityWorklistInformationModelFind,
				TransferSyntaxes: []string{
					types.ExplicitVRLittleEndian,
					types.ImplicitVRLittleEndian,
				},
			}},
		})
		if err != nil {
			return nil, err
		}
		return assoc, nil
	})
}

// FetchSchedule queries the provider and returns the matches in the order
// they arrived.
//
// A failed association yields an empty slice and an error matching
// errors.ErrConnectionFailed. A successful query without matches yields
// errors.ErrNoMatches. If the exchange breaks off, the items received so
// far are returned with the error.
func (c *Client) FetchSchedule(ctx context.Context) (items []Item, err error) {
	defer func() {
		c.metrics.WorklistQuery(outcome(err), len(items))
	}()

	assoc, err := c.connector.Connect(ctx)
	if err != nil {
		c.logger.Warn("Worklist association failed", "error", err)
		return []Item{}, fmt.Errorf("%w: %w", dicomerrors.ErrConnectionFailed, err)
	}
	defer func() {
		if cerr := assoc.Close(); cerr != nil {
			c.logger.Debug("Worklist association close failed", "error", cerr)
		}
	}()

	responses, err := assoc.SendCFind(ctx, &client.CFindRequest{
		SOPClassUID: types.ModalityWorklistInformationModelFind,
		Priority:    types.PriorityMedium,
		Dataset:     BuildQuery(c.filter),
	})
	items = collect(responses)
	if err != nil {
		if ctx.Err() != nil {
			return items, err
		}
		return items, fmt.Errorf("%w: %w", dicomerrors.ErrConnectionFailed, err)
	}

	if n := len(responses); n > 0 {
		final := responses[n-1].Status
		if final != types.StatusSuccess {
			return items, fmt.Errorf("%w: %w", dicomerrors.ErrConnectionFailed,
				dicomerrors.NewDIMSEError("C-FIND", final, "worklist query ended without success"))
		}
	}

	c.logger.Info("Worklist fetched", "items", len(items))
	if len(items) == 0 {
		return []Item{}, dicomerrors.ErrNoMatches
	}
	return items, nil
}

// collect keeps responses that both report a match and carry an identifier.
func collect(responses []*client.CFindResponse) []Item {
	items := []Item{}
	for _, resp := range responses {
		if resp == nil || resp.Dataset.Len() == 0 {
			continue
		}
		if !types.IsPendingStatus(resp.Status) && resp.Status != types.StatusSuccess {
			continue
		}
		items = append(items, ItemFromDataset(resp.Dataset))
	}
	return items
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, dicomerrors.ErrNoMatches):
		return "no_matches"
	case errors.Is(err, dicomerrors.ErrConnectionFailed):
		return "connection_failed"
	default:
		return "error"
	}
}
