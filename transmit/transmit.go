// Package transmit delivers bound objects to the picture archive over a
// fresh association per object.
package transmit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/caio-sobreiro/modalitysim/binder"
	"github.com/caio-sobreiro/modalitysim/client"
	"github.com/caio-sobreiro/modalitysim/config"
	dicomerrors "github.com/caio-sobreiro/modalitysim/errors"
	"github.com/caio-sobreiro/modalitysim/metrics"
	"github.com/caio-sobreiro/modalitysim/types"
)

// Context is the one presentation context requested for a transmission.
type Context struct {
	SOPClassUID       string
	TransferSyntaxUID string
}

// ContextOf returns the presentation context the object was authored in.
func ContextOf(obj *binder.OutgoingObject) Context {
	return Context{SOPClassUID: obj.SOPClassUID, TransferSyntaxUID: obj.TransferSyntaxUID}
}

// StoreOutcome is the archive's answer to one C-STORE.
type StoreOutcome struct {
	Status         uint16
	SOPInstanceUID string
	Elapsed        time.Duration
}

// Success reports whether the status is 0x0000.
func (o *StoreOutcome) Success() bool {
	return o != nil && o.Status == types.StatusSuccess
}

// Association is the part of an open association the transmit client uses.
type Association interface {
	PresentationContext(abstractSyntax string) (*client.PresentationContext, bool)
	SendCStore(ctx context.Context, req *client.CStoreRequest) (*client.CStoreResponse, error)
	Close() error
}

// Connector opens an association proposing exactly pc.
type Connector interface {
	Connect(ctx context.Context, pc Context) (Association, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context, pc Context) (Association, error)

func (f ConnectorFunc) Connect(ctx context.Context, pc Context) (Association, error) {
	return f(ctx, pc)
}

// Client sends objects to one archive.
type Client struct {
	connector Connector
	logger    *slog.Logger
	metrics   *metrics.Recorder
}

// Option configures a Client.
type Option func(*Client)

func WithConnector(c Connector) Option {
	return func(cl *Client) { cl.connector = c }
}

func WithLogger(logger *slog.Logger) Option {
	return func(cl *Client) { cl.logger = logger }
}

func WithMetrics(m *metrics.Recorder) Option {
	return func(cl *Client) { cl.metrics = m }
}

// NewClient returns a client for the archive named in cfg.
func NewClient(cfg config.Config, opts ...Option) *Client {
	c := &Client{logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	if c.connector == nil {
		c.connector = dialer(cfg, c.logger)
	}
	return c
}

func dialer(cfg config.Config, logger *slog.Logger) Connector {
	return ConnectorFunc(func(ctx context.Context, pc Context) (Association, error) {
		assoc, err := client.Connect(ctx, cfg.Address(), client.Config{
			CallingAETitle: cfg.CallingAETitle,
			CalledAETitle:  cfg.CalledAETitle,
			MaxPDULength:   cfg.MaxPDULength,
			ConnectTimeout: cfg.ConnectTimeout,
			ReadTimeout:    cfg.ReadTimeout,
			WriteTimeout:   cfg.WriteTimeout,
			Logger:         logger,
			Contexts: []client.PresentationContextRequest{{
				AbstractSyntax:   pc.SOPClassUID,
				TransferSyntaxes: []string{pc.TransferSyntaxUID},
			}},
		})
		if err != nil {
			return nil, err
		}
		return assoc, nil
	})
}

// Transmit stores obj using pc, which must be the template's own SOP class
// and transfer syntax.
//
// A refused association, or a context the archive did not accept as
// proposed, yields errors.ErrConnectionRejected. A non-zero status yields
// the outcome together with an error matching errors.ErrStoreRejected that
// carries the status as *errors.DIMSEError. The association is released on
// every path.
func (c *Client) Transmit(ctx context.Context, obj *binder.OutgoingObject, pc Context) (outcome *StoreOutcome, err error) {
	if obj == nil {
		return nil, fmt.Errorf("transmit: nil object")
	}
	start := time.Now()
	defer func() {
		c.metrics.Transmission(outcomeLabel(outcome, err), time.Since(start))
	}()

	data, err := obj.Encode()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", dicomerrors.ErrMalformedTemplate, err)
	}

	assoc, err := c.connector.Connect(ctx, pc)
	if err != nil {
		c.logger.Warn("Archive association failed", "error", err)
		return nil, fmt.Errorf("%w: %w", dicomerrors.ErrConnectionRejected, err)
	}
	defer func() {
		if cerr := assoc.Close(); cerr != nil {
			c.logger.Debug("Archive association close failed", "error", cerr)
		}
	}()

	accepted, ok := assoc.PresentationContext(pc.SOPClassUID)
	if !ok || accepted.TransferSyntax != pc.TransferSyntaxUID {
		return nil, fmt.Errorf("%w: %w: %s in %s",
			dicomerrors.ErrConnectionRejected, dicomerrors.ErrNoPresentationCtx, pc.SOPClassUID, pc.TransferSyntaxUID)
	}

	resp, err := assoc.SendCStore(ctx, &client.CStoreRequest{
		SOPClassUID:    pc.SOPClassUID,
		SOPInstanceUID: obj.SOPInstanceUID,
		Data:           data,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", dicomerrors.ErrStoreRejected, err)
	}

	outcome = &StoreOutcome{
		Status:         resp.Status,
		SOPInstanceUID: obj.SOPInstanceUID,
		Elapsed:        time.Since(start),
	}
	c.metrics.StoreStatus(resp.Status)

	if !outcome.Success() {
		c.logger.Warn("Archive refused object",
			"sop_instance", obj.SOPInstanceUID,
			"status", fmt.Sprintf("0x%04X", resp.Status))
		return outcome, fmt.Errorf("%w: %w", dicomerrors.ErrStoreRejected,
			dicomerrors.NewDIMSEError("C-STORE", resp.Status, "archive returned non-success status"))
	}

	c.logger.Info("Object stored",
		"accession", obj.AccessionNumber,
		"sop_instance", obj.SOPInstanceUID,
		"transfer_syntax", pc.TransferSyntaxUID,
		"bytes", len(data),
		"elapsed", outcome.Elapsed)
	return outcome, nil
}

func outcomeLabel(outcome *StoreOutcome, err error) string {
	switch {
	case err == nil:
		return "success"
	case outcome != nil:
		return "store_rejected"
	case errors.Is(err, dicomerrors.ErrConnectionRejected):
		return "connection_rejected"
	case errors.Is(err, dicomerrors.ErrMalformedTemplate):
		return "malformed_template"
	default:
		return "failed"
	}
}
