package session

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/caio-sobreiro/modalitysim/worklist"
)

// BatchOptions controls a non-interactive run.
type BatchOptions struct {
	Count   int     // simulations to run; items are reused round-robin
	Rate    float64 // simulations started per second; 0 means unthrottled
	Burst   int
	Workers int
}

// BatchResult is the result of one simulation in a batch.
type BatchResult struct {
	Seq    int
	Result *Result
	Err    error
}

// BatchSummary collects a batch in start order.
type BatchSummary struct {
	Results   []BatchResult
	Succeeded int
	Failed    int
}

// Batch runs Count simulations over items with up to Workers in flight.
// Each simulation opens its own association and mints its own UIDs.
// Cancelling ctx stops new simulations; the ones already started finish.
func (s *Session) Batch(ctx context.Context, items []worklist.Item, opts BatchOptions) (*BatchSummary, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("batch: no worklist items")
	}
	if opts.Count <= 0 {
		opts.Count = 1
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}

	limit := rate.Inf
	if opts.Rate > 0 {
		limit = rate.Limit(opts.Rate)
	}
	limiter := rate.NewLimiter(limit, opts.Burst)

	results := make([]BatchResult, opts.Count)
	jobs := make(chan int)

	var wg sync.WaitGroup
	for range opts.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for seq := range jobs {
				res, err := s.Simulate(ctx, items[seq%len(items)])
				results[seq] = BatchResult{Seq: seq + 1, Result: res, Err: err}
				s.logger().InfoContext(ctx, "Batch simulation finished",
					"seq", seq+1,
					"accession", items[seq%len(items)].AccessionNumber,
					"outcome", Report(res, err))
			}
		}()
	}

	var waitErr error
	started := 0
	for seq := 0; seq < opts.Count; seq++ {
		if err := limiter.Wait(ctx); err != nil {
			waitErr = err
			break
		}
		jobs <- seq
		started++
	}
	close(jobs)
	wg.Wait()

	summary := &BatchSummary{Results: results[:started]}
	for _, r := range summary.Results {
		if r.Err == nil {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}
	return summary, waitErr
}
