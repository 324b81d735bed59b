package cmd

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/caio-sobreiro/modalitysim/binder"
	"github.com/caio-sobreiro/modalitysim/session"
	"github.com/caio-sobreiro/modalitysim/templates"
	"github.com/caio-sobreiro/modalitysim/transmit"
	"github.com/caio-sobreiro/modalitysim/worklist"
)

// newSession wires the worklist, template, binder and transmit stages
// from the loaded configuration.
func (a *app) newSession(picker session.Picker) *session.Session {
	return &session.Session{
		Worklist: worklist.NewClient(a.cfg,
			worklist.WithLogger(a.logger),
			worklist.WithMetrics(a.metrics)),
		Templates: templates.DirStore{Dir: a.cfg.TemplateDir},
		Binder: binder.Binder{
			Institution:                 a.cfg.Institution,
			PropagateReferringPhysician: a.cfg.PropagateReferringPhysician,
		},
		Transmitter: transmit.NewClient(a.cfg,
			transmit.WithLogger(a.logger),
			transmit.WithMetrics(a.metrics)),
		Picker: picker,
		Out:    os.Stdout,
		Clock:  binder.SystemClock,
		Logger: a.logger,
	}
}

// NewRunCmd starts the interactive operator loop.
func NewRunCmd(ctx context.Context, a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "interactive session: pick a scheduled exam and send it",
		Long:  "Shows the worklist, sends a bound template for the chosen exam, and repeats until quit.",
		RunE: func(cmd *cobra.Command, args []string) error {
			form, _ := cmd.Flags().GetBool("form")
			accessible, _ := cmd.Flags().GetBool("accessible")

			var picker session.Picker = &session.LinePicker{In: os.Stdin, Out: os.Stdout}
			if form {
				picker = session.FormPicker{Accessible: accessible}
			}

			a.serveMetrics(ctx)
			a.logger.InfoContext(ctx, "Starting session",
				"peer", a.cfg.Address(),
				"calling_ae", a.cfg.CallingAETitle,
				"called_ae", a.cfg.CalledAETitle,
				"templates", a.cfg.TemplateDir)

			err := a.newSession(picker).Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	f := cmd.Flags()
	f.Bool("form", false, "use the interactive select instead of typed numbers")
	f.Bool("accessible", false, "accessible mode for --form (plain prompts, no redraw)")
	return cmd
}
