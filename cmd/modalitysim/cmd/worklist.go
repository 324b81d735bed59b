package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	dicomerrors "github.com/caio-sobreiro/modalitysim/errors"
	"github.com/caio-sobreiro/modalitysim/session"
	"github.com/caio-sobreiro/modalitysim/worklist"
)

// NewWorklistCmd prints the current schedule and exits.
func NewWorklistCmd(ctx context.Context, a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worklist",
		Short: "print the scheduled exams",
		Long:  "Runs one Modality Worklist C-FIND against the provider and prints the matches.",
		RunE: func(cmd *cobra.Command, args []string) error {
			wl := worklist.NewClient(a.cfg, worklist.WithLogger(a.logger), worklist.WithMetrics(a.metrics))
			items, err := wl.FetchSchedule(ctx)
			switch {
			case errors.Is(err, dicomerrors.ErrNoMatches):
				fmt.Fprintln(cmd.OutOrStdout(), session.Describe(err))
				return nil
			case err != nil && len(items) == 0:
				return err
			case err != nil:
				a.logger.WarnContext(ctx, "Worklist incomplete", "items", len(items), "error", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), session.Table(items))
			return nil
		},
	}
	return cmd
}
