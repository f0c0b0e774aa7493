// Package cli implements the reconciler command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/mybillbook/reconciler/internal/adapters/clients"
	"github.com/mybillbook/reconciler/internal/application/intake"
	"github.com/mybillbook/reconciler/internal/application/reconcile"
	"github.com/mybillbook/reconciler/internal/application/report"
	"github.com/mybillbook/reconciler/internal/infrastructure/config"
	"github.com/mybillbook/reconciler/internal/infrastructure/logging"
	"github.com/mybillbook/reconciler/internal/infrastructure/storage"
)

// NewRootCommand builds the reconciler command tree.
func NewRootCommand() *cobra.Command {
	flags := &GlobalFlags{}

	root := &cobra.Command{
		Use:   "reconciler",
		Short: "Match payments to invoices and settle confirmed matches",
		Long: `reconciler proposes invoice matches for a business's unreconciled payments
using a chat-completion model, and settles confirmed matches against invoice
balances. Run "reconciler serve" for the HTTP API.`,
		SilenceUsage: true,
	}
	flags.Register(root)

	root.AddCommand(
		newServeCommand(flags),
		newReconcileCommand(flags),
		newConfirmHighConfidenceCommand(flags),
		newMigrateCommand(flags),
	)
	return root
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

// app holds everything a command needs. Close releases it.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *storage.Storage
	clients   *clients.Clients
	intake    *intake.Service
	reconcile *reconcile.Service
	report    *report.Service
}

func newApp(ctx context.Context, flags *GlobalFlags, system string) (*app, error) {
	cfg := flags.LoadConfig()

	loggingCfg := cfg.Observability.Logging
	if flags.Verbose {
		loggingCfg.Level = "debug"
	}
	logger := logging.NewLoggerWithSystem(loggingCfg, system)

	store, err := storage.NewStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.Storage.DatabasePath, err)
	}

	c, err := clients.NewClients(ctx, cfg, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	threshold := decimal.NewFromFloat(cfg.Reconciliation.AutoConfirmThreshold).Round(2)
	return &app{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		clients: c,
		intake:  intake.NewService(store, logger.With("system", "intake")),
		reconcile: reconcile.NewService(store, c.Matcher, c.Locker, reconcile.Options{
			Workers:              cfg.Reconciliation.Workers,
			SettleRetries:        cfg.Reconciliation.SettleRetries,
			AutoConfirmThreshold: threshold,
		}, logger.With("system", "reconcile")),
		report: report.NewService(store),
	}, nil
}

func (a *app) Close() {
	if err := a.clients.Close(); err != nil {
		a.logger.Warn("failed to close clients", "error", err)
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close database", "error", err)
	}
}

func out(cmd *cobra.Command) io.Writer {
	return cmd.OutOrStdout()
}
