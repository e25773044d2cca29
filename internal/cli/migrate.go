package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"triage/api/internal/store"
)

var migrateDown bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateDown, "down", false, "roll back the most recent migration instead")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	db, err := store.Open(ctx, cfg.DatabaseURL, cfg.DBTimeout)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if migrateDown {
		version, err := store.RollbackLast(ctx, db, cfg.MigrationsDir)
		if err != nil {
			return err
		}
		if version == "" {
			fmt.Fprintln(cmd.OutOrStdout(), "Nothing to roll back.")
			return nil
		}
		logger.Info("migration rolled back", zap.String("version", version))
		fmt.Fprintf(cmd.OutOrStdout(), "Rolled back %s\n", version)
		return nil
	}

	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	if err != nil {
		return err
	}
	for _, version := range applied {
		fmt.Fprintf(cmd.OutOrStdout(), "Applied %s\n", version)
	}
	if len(applied) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Database is up to date.")
	}
	logger.Info("migrations applied", zap.Int("count", len(applied)))
	return nil
}
