package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/caio-sobreiro/modalitysim/session"
	"github.com/caio-sobreiro/modalitysim/worklist"
)

// NewSendCmd simulates exams without a prompt.
func NewSendCmd(ctx context.Context, a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send",
		Short: "send bound templates for scheduled exams without prompting",
		Long: "Fetches the worklist and sends --count simulated exams. With --accession or --index only that " +
			"exam is used, otherwise every item is used in turn.",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			accession, _ := flags.GetString("accession")
			index, _ := flags.GetInt("index")
			var opts session.BatchOptions
			opts.Count, _ = flags.GetInt("count")
			opts.Rate, _ = flags.GetFloat64("rate")
			opts.Burst, _ = flags.GetInt("burst")
			opts.Workers, _ = flags.GetInt("workers")

			a.serveMetrics(ctx)
			sess := a.newSession(nil)

			items, err := sess.Worklist.FetchSchedule(ctx)
			if err != nil && len(items) == 0 {
				return err
			}
			selected, err := selectItems(items, accession, index)
			if err != nil {
				return err
			}

			summary, err := sess.Batch(ctx, selected, opts)
			if summary != nil {
				out := cmd.OutOrStdout()
				for _, r := range summary.Results {
					fmt.Fprintf(out, "%4d  %s\n", r.Seq, session.Report(r.Result, r.Err))
				}
				fmt.Fprintf(out, "%d sent, %d failed\n", summary.Succeeded, summary.Failed)
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			if summary != nil && summary.Failed > 0 {
				return fmt.Errorf("%d of %d simulations failed", summary.Failed, len(summary.Results))
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.String("accession", "", "only simulate the exam with this accession number")
	f.Int("index", 0, "only simulate the exam at this 1-based worklist position")
	f.Int("count", 1, "number of simulations to run")
	f.Float64("rate", 0, "simulations started per second (0 = unthrottled)")
	f.Int("burst", 1, "rate limiter burst")
	f.Int("workers", 1, "simulations in flight")
	return cmd
}

// selectItems narrows items to the one named by accession or a 1-based
// index. With neither set it returns items unchanged.
func selectItems(items []worklist.Item, accession string, index int) ([]worklist.Item, error) {
	switch {
	case accession != "":
		for _, item := range items {
			if item.AccessionNumber == accession {
				return []worklist.Item{item}, nil
			}
		}
		return nil, fmt.Errorf("accession %q is not on the worklist", accession)
	case index != 0:
		if index < 1 || index > len(items) {
			return nil, fmt.Errorf("index %d out of range 1-%d", index, len(items))
		}
		return []worklist.Item{items[index-1]}, nil
	default:
		return items, nil
	}
}
