package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/caio-sobreiro/modalitysim/config"
	"github.com/caio-sobreiro/modalitysim/logging"
	"github.com/caio-sobreiro/modalitysim/metrics"
)

// app is filled in by the root PersistentPreRunE and shared by every
// subcommand.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	metrics *metrics.Recorder
	logFile io.Closer
}

func NewRoot(ctx context.Context, gitsha string) *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "modalitysim",
		Short:         "a DICOM modality simulator",
		Long:          "Queries a modality worklist, binds a template image to a scheduled exam and sends it to the archive.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(ctx, cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logFile != nil {
				a.logFile.Close()
			}
		},
		Run: func(cmd *cobra.Command, args []string) {
			printCommandTree(cmd, 0)
		},
	}
	cmd.AddCommand(
		NewVersionCmd(ctx, gitsha),
		NewRunCmd(ctx, a),
		NewWorklistCmd(ctx, a),
		NewSendCmd(ctx, a),
		NewEchoCmd(ctx, a),
		NewArchiveCmd(ctx, a),
	)
	pf := cmd.PersistentFlags()
	pf.StringP("config", "c", "", "YAML config file (default: modalitysim.yaml or configs/modalitysim.yaml)")
	pf.String("log-level", "INFO", "Log level (DEBUG, INFO, WARN, ERROR)")
	pf.String("log-format", "text", "Log format (text|json)")
	pf.String("log-file", "", "Also write logs to this rotated file")
	pf.String("host", "", "Peer host")
	pf.Int("port", 0, "Peer port")
	pf.String("calling-ae", "", "Our AE title")
	pf.String("called-ae", "", "Peer AE title")
	pf.String("templates", "", "Template directory")
	pf.String("modality", "", "Worklist filter: scheduled modality")
	pf.String("station", "", "Worklist filter: scheduled station AE title")
	pf.String("date", "", "Worklist filter: scheduled date or range (YYYYMMDD, YYYYMMDD-YYYYMMDD)")
	pf.String("metrics-addr", "", "Serve /metrics on this address")
	return cmd
}

func (a *app) setup(ctx context.Context, cmd *cobra.Command) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadFromPath(path)
	if err != nil {
		return err
	}
	applyFlags(cmd, &cfg)

	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.Log.Level))); err != nil {
		level = slog.LevelInfo
	}
	var w io.Writer = os.Stderr
	if cfg.Log.File != "" {
		f := logging.FileWriter(cfg.Log.File)
		a.logFile = f
		w = io.MultiWriter(os.Stderr, f)
	}
	a.logger = logging.Logger(w, cfg.Log.Format == "json", level)
	slog.SetDefault(a.logger)

	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.Log.Level))); err != nil {
		slog.WarnContext(ctx, "Invalid log level, defaulting to INFO", "level", cfg.Log.Level, "error", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	a.cfg = cfg
	a.metrics = metrics.New()
	return nil
}

// applyFlags lets explicitly set flags win over the file and environment.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	str := func(name string, dst *string) {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	str("log-level", &cfg.Log.Level)
	str("log-format", &cfg.Log.Format)
	str("log-file", &cfg.Log.File)
	str("host", &cfg.Host)
	str("calling-ae", &cfg.CallingAETitle)
	str("called-ae", &cfg.CalledAETitle)
	str("templates", &cfg.TemplateDir)
	str("modality", &cfg.Worklist.Modality)
	str("station", &cfg.Worklist.StationAETitle)
	str("date", &cfg.Worklist.ScheduledDate)
	str("metrics-addr", &cfg.MetricsAddr)
	if flags.Changed("port") {
		cfg.Port, _ = flags.GetInt("port")
	}
}

// serveMetrics starts the /metrics endpoint when one is configured.
func (a *app) serveMetrics(ctx context.Context) {
	if a.cfg.MetricsAddr == "" {
		return
	}
	go func() {
		if err := a.metrics.Serve(ctx, a.cfg.MetricsAddr, a.logger); err != nil {
			a.logger.ErrorContext(ctx, "Metrics endpoint stopped", "error", err)
		}
	}()
}

func printCommandTree(cmd *cobra.Command, indent int) {
	fmt.Println(strings.Repeat("\t", indent), cmd.Use+":", cmd.Short)
	for _, subCmd := range cmd.Commands() {
		printCommandTree(subCmd, indent+1)
	}
}

func NewVersionCmd(ctx context.Context, gitsha string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "git sha for this build",
		Long:  "git sha for this build",
		// no config needed
		PersistentPreRun: func(cmd *cobra.Command, args []string) {},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(gitsha)
		},
	}
	return cmd
}
