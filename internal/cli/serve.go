package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/soulsense/soulsense-outliers/internal/audit"
	"github.com/soulsense/soulsense-outliers/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the outlier detection HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("port") {
				a.cfg.Server.Port = port
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides config)")
	return cmd
}

// serve runs the server until ctx is done.
func (a *app) serve(ctx context.Context) error {
	rt, err := a.openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	opts := []server.Option{server.WithConfigPath(a.configPath)}
	if rt.auditLogger != nil {
		opts = append(opts, server.WithAuditLogger(rt.auditLogger))
		_ = rt.auditLogger.Log(ctx, audit.NewEvent(audit.EventConfigLoaded).
			WithDescription(a.configPath))
	}

	srv, err := server.NewServer(a.cfg, rt.logger, rt.store, opts...)
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}
	srv.WatchConfig(a.mgr)

	<-ctx.Done()
	rt.logger.Info("Received shutdown signal", zap.Error(context.Cause(ctx)))
	return srv.Stop()
}
