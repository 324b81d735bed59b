package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/caio-sobreiro/modalitysim/client"
	dicomerrors "github.com/caio-sobreiro/modalitysim/errors"
	"github.com/caio-sobreiro/modalitysim/types"
)

// NewEchoCmd verifies the peer with C-ECHO.
func NewEchoCmd(ctx context.Context, a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "echo",
		Short: "C-ECHO the peer",
		Long:  "Opens an association proposing Verification only and sends one C-ECHO.",
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			assoc, err := client.Connect(ctx, a.cfg.Address(), client.Config{
				CallingAETitle: a.cfg.CallingAETitle,
				CalledAETitle:  a.cfg.CalledAETitle,
				MaxPDULength:   a.cfg.MaxPDULength,
				ConnectTimeout: a.cfg.ConnectTimeout,
				ReadTimeout:    a.cfg.ReadTimeout,
				WriteTimeout:   a.cfg.WriteTimeout,
				Logger:         a.logger,
				Contexts: []client.PresentationContextRequest{{
					AbstractSyntax:   types.VerificationSOPClass,
					TransferSyntaxes: []string{types.ExplicitVRLittleEndian, types.ImplicitVRLittleEndian},
				}},
			})
			if err != nil {
				return fmt.Errorf("associate with %s: %w", a.cfg.Address(), err)
			}
			defer assoc.Close()

			resp, err := assoc.SendCEcho(ctx)
			if err != nil {
				return err
			}
			if resp.Status != types.StatusSuccess {
				return dicomerrors.NewDIMSEError("C-ECHO", resp.Status, "echo failed")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s at %s answered C-ECHO in %s\n",
				a.cfg.CalledAETitle, a.cfg.Address(), time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
	return cmd
}
