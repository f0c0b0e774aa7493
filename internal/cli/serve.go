package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mybillbook/reconciler/internal/api"
)

// ServeFlags holds the CLI flags for the serve command.
type ServeFlags struct {
	Port int
}

func newServeCommand(global *GlobalFlags) *cobra.Command {
	flags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunServe(cmd.Context(), global, flags)
		},
	}
	cmd.Flags().IntVarP(&flags.Port, "port", "p", 0, "Port to listen on (overrides api.port)")
	return cmd
}

// RunServe runs the API server until SIGINT or SIGTERM.
func RunServe(ctx context.Context, global *GlobalFlags, flags *ServeFlags) error {
	a, err := newApp(ctx, global, "api")
	if err != nil {
		return err
	}
	defer a.Close()

	apiCfg := api.DefaultConfig()
	apiCfg.Port = a.cfg.API.Port
	if flags.Port > 0 {
		apiCfg.Port = flags.Port
	}
	if len(a.cfg.API.AllowedOrigins) > 0 {
		apiCfg.AllowedOrigins = a.cfg.API.AllowedOrigins
	}
	apiCfg.MetricsEnabled = a.cfg.Observability.Metrics.Enabled

	server := api.NewServer(apiCfg, api.Services{
		Intake:    a.intake,
		Reconcile: a.reconcile,
		Report:    a.report,
	}, a.logger)

	// Handle graceful shutdown
	done := make(chan bool, 1)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	go func() {
		<-quit
		a.logger.Info("received shutdown signal")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			a.logger.Error("server shutdown error", slog.Any("error", err))
		}
		close(done)
	}()

	// Start server (blocks until shutdown)
	if err := server.Start(); err != nil {
		return err
	}

	<-done
	a.logger.Info("server stopped")
	return nil
}
