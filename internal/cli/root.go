// Package cli implements the outlierd command tree: the HTTP server and
// one-shot analysis commands that write encoded reports to stdout.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/soulsense/soulsense-outliers/internal/analytics/report"
	"github.com/soulsense/soulsense-outliers/internal/audit"
	"github.com/soulsense/soulsense-outliers/internal/config"
	"github.com/soulsense/soulsense-outliers/internal/db"
	"github.com/soulsense/soulsense-outliers/internal/logging"
	"github.com/soulsense/soulsense-outliers/internal/tracing"
)

// Build information, set with -ldflags at release time.
var (
	Version   = "0.1.0"
	Commit    = "none"
	BuildDate = "unknown"
)

type app struct {
	configPath string
	format     string

	mgr config.ConfigManager
	cfg *config.Config

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func NewRootCommand() *cobra.Command {
	return newRootCommand(os.Stdin, os.Stdout, os.Stderr)
}

func NewRootCommandWithIO(in io.Reader, out, errOut io.Writer) *cobra.Command {
	return newRootCommand(in, out, errOut)
}

func newRootCommand(in io.Reader, out, errOut io.Writer) *cobra.Command {
	a := &app{stdin: in, stdout: out, stderr: errOut}

	cmd := &cobra.Command{
		Use:   "outlierd",
		Short: "Statistical outlier and consistency detection for assessment scores",
		Long: `outlierd flags unusual assessment scores within a user's history, an age
cohort or the whole population, and detects users whose scores swing
inconsistently over a recent window.

Run "outlierd serve" for the HTTP API or "outlierd analyze" for one-shot
reports encoded as JSON or YAML.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}
	cmd.SetVersionTemplate(fmt.Sprintf("outlierd {{.Version}} (commit %s, built %s)\n", Commit, BuildDate))
	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	cmd.PersistentFlags().StringVar(&a.configPath, "config", config.DefaultConfigPath, "path to the YAML config file")
	cmd.PersistentFlags().StringVar(&a.format, "format", "", "report output format: json or yaml (default from config)")

	cmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		return a.loadConfig(cmd.Context())
	}

	cmd.AddCommand(
		newServeCmd(a),
		newAnalyzeCmd(a),
		newIngestCmd(a),
		newReportsCmd(a),
		newVersionCmd(),
	)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show outlierd build information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "outlierd %s (commit %s, built %s)\n", Version, Commit, BuildDate)
			return nil
		},
	}
}

// ─── Shared setup ────────────────────────────────────────────────────────────

func (a *app) loadConfig(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	mgr, err := config.NewConfigManager(a.configPath)
	if err != nil {
		return err
	}
	if err := mgr.Load(ctx); err != nil {
		return fmt.Errorf("load config %s: %w", a.configPath, err)
	}
	if err := mgr.Validate(ctx); err != nil {
		return err
	}
	a.mgr = mgr
	a.cfg = mgr.Get(ctx)
	return nil
}

// outputFormat resolves --format against the report section.
func (a *app) outputFormat() (report.Format, error) {
	if a.format != "" {
		return report.ParseFormat(a.format)
	}
	return report.ParseFormat(a.cfg.Report.Format)
}

// runtime holds the resources every command opens from the config.
type runtime struct {
	logger      *zap.Logger
	store       db.Store
	auditLogger audit.Logger

	closers []func() error
}

func (a *app) openRuntime(ctx context.Context) (*runtime, error) {
	rt := &runtime{}

	logger, logCloser, err := logging.New(a.cfg)
	if err != nil {
		return nil, err
	}
	rt.logger = logger
	rt.closers = append(rt.closers, logCloser.Close, func() error {
		_ = logger.Sync()
		return nil
	})

	shutdown, err := tracing.Init(ctx, tracing.Options{
		ServiceName:  a.cfg.Tracing.ServiceName,
		Endpoint:     a.cfg.Tracing.Endpoint,
		Protocol:     a.cfg.Tracing.Protocol,
		SamplingRate: a.cfg.Tracing.SamplingRate,
		Insecure:     a.cfg.Tracing.Insecure,
	})
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	rt.closers = append(rt.closers, func() error { return shutdown(context.Background()) })

	store, err := db.Open(a.cfg)
	if err != nil {
		rt.close()
		return nil, err
	}
	rt.store = store
	rt.closers = append(rt.closers, store.Close)

	if a.cfg.Logging.AuditLogPath != "" {
		auditCfg := audit.DefaultConfig()
		auditCfg.AuditLogPath = a.cfg.Logging.AuditLogPath
		auditLogger, err := audit.NewLogger(auditCfg, logger)
		if err != nil {
			rt.close()
			return nil, err
		}
		rt.auditLogger = auditLogger
		rt.closers = append(rt.closers, auditLogger.Close)
	}

	return rt, nil
}

// close releases resources in reverse order of acquisition.
func (rt *runtime) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil && rt.logger != nil {
			rt.logger.Warn("Failed to release resource", zap.Error(err))
		}
	}
	rt.closers = nil
}
