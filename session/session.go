// Package session drives the operator loop: fetch the schedule, let the
// operator pick an exam, then bind a random template to it and send it.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"

	"github.com/caio-sobreiro/modalitysim/binder"
	"github.com/caio-sobreiro/modalitysim/templates"
	"github.com/caio-sobreiro/modalitysim/transmit"
	"github.com/caio-sobreiro/modalitysim/worklist"
)

// ScheduleFetcher returns the current worklist.
type ScheduleFetcher interface {
	FetchSchedule(ctx context.Context) ([]worklist.Item, error)
}

// Transmitter sends one bound object.
type Transmitter interface {
	Transmit(ctx context.Context, obj *binder.OutgoingObject, pc transmit.Context) (*transmit.StoreOutcome, error)
}

// Session wires the pipeline stages together. It is safe to call Simulate
// from several goroutines.
type Session struct {
	Worklist    ScheduleFetcher
	Templates   templates.Store
	Binder      binder.Binder
	Transmitter Transmitter
	Picker      Picker
	Out         io.Writer
	Clock       binder.Clock
	Rand        *rand.Rand
	Logger      *slog.Logger

	mu sync.Mutex // guards Rand
}

// Result describes one simulated exam.
type Result struct {
	Item     worklist.Item
	Template string
	Object   *binder.OutgoingObject
	Outcome  *transmit.StoreOutcome
}

func (s *Session) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *Session) out() io.Writer {
	if s.Out == nil {
		return io.Discard
	}
	return s.Out
}

func (s *Session) pickTemplate() (templates.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return templates.Pick(s.Templates, s.Rand)
}

// Simulate runs one exam through the pipeline. The returned Result holds
// whatever stages completed, even on error.
func (s *Session) Simulate(ctx context.Context, item worklist.Item) (*Result, error) {
	res := &Result{Item: item}

	entry, err := s.pickTemplate()
	if err != nil {
		return res, err
	}
	res.Template = entry.Name

	tmpl, err := s.Templates.Load(entry)
	if err != nil {
		return res, err
	}

	obj, err := s.Binder.Bind(item, tmpl, s.Clock)
	if err != nil {
		return res, err
	}
	res.Object = obj

	s.logger().DebugContext(ctx, "Bound template",
		"accession", item.AccessionNumber,
		"template", tmpl.Name,
		"sop_class", tmpl.SOPClassUID,
		"transfer_syntax", tmpl.TransferSyntaxUID,
		"sop_instance", obj.SOPInstanceUID)

	outcome, err := s.Transmitter.Transmit(ctx, obj, transmit.Context{
		SOPClassUID:       tmpl.SOPClassUID,
		TransferSyntaxUID: tmpl.TransferSyntaxUID,
	})
	res.Outcome = outcome
	return res, err
}

// Run loops until the operator quits or ctx ends.
func (s *Session) Run(ctx context.Context) error {
	out := s.out()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		items, err := s.Worklist.FetchSchedule(ctx)
		if err != nil {
			fmt.Fprintln(out, Describe(err))
		}

		choice, err := s.Picker.Pick(ctx, items)
		if err != nil {
			return err
		}
		switch {
		case choice.Quit:
			return nil
		case choice.Refresh:
			continue
		}

		res, err := s.Simulate(ctx, items[choice.Index])
		fmt.Fprintln(out, Report(res, err))
		if err != nil {
			s.logger().WarnContext(ctx, "Simulation failed", "accession", items[choice.Index].AccessionNumber, "error", err)
		}

		if err := s.Picker.Pause(ctx); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// Report renders the result of Simulate for the operator.
func Report(res *Result, err error) string {
	if err != nil {
		return Describe(err)
	}
	return fmt.Sprintf("Sent %s (%s) for accession %s from template %s.",
		res.Object.SOPInstanceUID, res.Object.Modality, res.Item.AccessionNumber, res.Template)
}
