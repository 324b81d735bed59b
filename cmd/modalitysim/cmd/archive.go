package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/caio-sobreiro/modalitysim/interfaces"
	"github.com/caio-sobreiro/modalitysim/metrics"
	"github.com/caio-sobreiro/modalitysim/server"
	"github.com/caio-sobreiro/modalitysim/services"
	"github.com/caio-sobreiro/modalitysim/types"
)

// countingStore records every kept instance in the archive metrics.
type countingStore struct {
	next    interfaces.InstanceStore
	metrics *metrics.Recorder
}

func (s countingStore) Store(ctx context.Context, inst interfaces.StoredInstance) error {
	if err := s.next.Store(ctx, inst); err != nil {
		return err
	}
	s.metrics.ArchiveStored()
	return nil
}

// NewArchiveCmd runs a local worklist provider and picture archive for
// trying the simulator without a real PACS.
func NewArchiveCmd(ctx context.Context, a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "run a mock worklist provider and picture archive",
		Long: "Serves C-ECHO, Modality Worklist C-FIND from a YAML fixture, and C-STORE into memory. " +
			"It answers as --called-ae on --port.",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			fixture, _ := flags.GetString("worklist")
			statusText, _ := flags.GetString("status")
			strict, _ := flags.GetBool("strict-ae")
			listen, _ := flags.GetString("listen")

			status, err := strconv.ParseUint(statusText, 0, 16)
			if err != nil {
				return fmt.Errorf("invalid --status %q: %w", statusText, err)
			}

			worklist := services.DefaultWorklist()
			if fixture != "" {
				if worklist, err = services.LoadWorklistFile(fixture); err != nil {
					return err
				}
			}

			store := services.NewMemoryStore()
			registry := services.NewRegistry(a.logger)
			registry.RegisterHandler(types.CEchoRQ, services.NewEchoService(a.logger))
			registry.RegisterHandler(types.CFindRQ, services.NewWorklistService(worklist, a.logger))
			registry.RegisterHandler(types.CStoreRQ, services.NewStorageService(
				countingStore{next: store, metrics: a.metrics},
				services.WithStoreStatus(uint16(status)),
				services.WithStorageLogger(a.logger)))

			opts := []server.Option{
				server.WithLogger(a.logger),
				server.WithReadTimeout(a.cfg.ReadTimeout),
				server.WithWriteTimeout(a.cfg.WriteTimeout),
			}
			if strict {
				opts = append(opts, server.WithStrictCalledAETitle())
			}
			if listen == "" {
				listen = fmt.Sprintf(":%d", a.cfg.Port)
			}

			a.serveMetrics(ctx)
			a.logger.InfoContext(ctx, "Starting archive",
				"addr", listen,
				"ae_title", a.cfg.CalledAETitle,
				"store_status", fmt.Sprintf("0x%04X", status))

			err = server.ListenAndServe(ctx, listen, a.cfg.CalledAETitle, registry, opts...)
			switch {
			case err == nil, errors.Is(err, context.Canceled):
				a.logger.InfoContext(ctx, "Archive stopped", "instances_stored", store.Len())
				return nil
			default:
				return fmt.Errorf("archive terminated: %w", err)
			}
		},
	}
	f := cmd.Flags()
	f.String("listen", "", "listen address (default :<port>)")
	f.String("worklist", "", "YAML worklist fixture (default: built-in schedule)")
	f.String("status", "0x0000", "status returned for every C-STORE, e.g. 0xA700 to refuse")
	f.Bool("strict-ae", false, "reject associations not addressed to our AE title")
	return cmd
}
