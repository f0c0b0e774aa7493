package cli

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/mybillbook/reconciler/internal/infrastructure/storage"
)

func newReconcileCommand(global *GlobalFlags) *cobra.Command {
	var userID int64
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run one matching pass over a user's unreconciled payments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkUser(userID); err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), global, "reconcile")
			if err != nil {
				return err
			}
			defer a.Close()

			PrintHeader(out(cmd), "reconcile", userID)
			result, err := a.reconcile.Run(cmd.Context(), userID)
			if err != nil {
				return err
			}
			PrintRunSummary(out(cmd), result)
			return nil
		},
	}
	addUserFlag(cmd, &userID)
	return cmd
}

func newConfirmHighConfidenceCommand(global *GlobalFlags) *cobra.Command {
	var (
		userID  int64
		minFlag string
	)
	cmd := &cobra.Command{
		Use:   "confirm-high-confidence",
		Short: "Confirm every pending suggestion at or above a confidence floor",
		Long: `Confirm every PENDING suggestion for the user whose confidence is at least
--min (default: reconciliation.auto_confirm_threshold). Failures are listed
and do not stop the remaining confirmations.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkUser(userID); err != nil {
				return err
			}
			var minConfidence *decimal.Decimal
			if cmd.Flags().Changed("min") {
				parsed, err := decimal.NewFromString(minFlag)
				if err != nil {
					return fmt.Errorf("invalid --min %q: %w", minFlag, err)
				}
				minConfidence = &parsed
			}

			a, err := newApp(cmd.Context(), global, "reconcile")
			if err != nil {
				return err
			}
			defer a.Close()

			PrintHeader(out(cmd), "confirm-high-confidence", userID)
			result, err := a.reconcile.BulkConfirmHighConfidence(cmd.Context(), minConfidence, userID)
			if err != nil {
				return err
			}
			PrintBulkSummary(out(cmd), result)
			return nil
		},
	}
	addUserFlag(cmd, &userID)
	cmd.Flags().StringVar(&minFlag, "min", "", "Minimum confidence, 0 to 1")
	return cmd
}

func newMigrateCommand(global *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := global.LoadConfig()

			// NewStorage applies pending migrations on open.
			store, err := storage.NewStorage(cfg.Storage.DatabasePath)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			version, err := storage.SchemaVersion(cmd.Context(), store.DB())
			if err != nil {
				return err
			}
			fmt.Fprintf(out(cmd), "%s: schema at version %d\n", cfg.Storage.DatabasePath, version)
			return nil
		},
	}
}
