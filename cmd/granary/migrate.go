package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/granary/granary/internal/config"
	"github.com/granary/granary/internal/storage"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Initialize or update the ledger database schema to the latest version,
then seed the farm reference rows from the farms configuration.`,
		RunE: runMigrate,
	}

	cmd.Flags().Bool("skip-seed", false, "Apply schema changes without seeding farms")

	return cmd
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	skipSeed, _ := cmd.Flags().GetBool("skip-seed")
	ctx := cmd.Context()

	dbPath := viper.GetString("database.path")
	if dbPath == "" {
		dbPath = config.DefaultDatabasePath()
	}
	dbPath = config.ExpandPath(dbPath)

	slog.Info("Starting database migration", "database", dbPath)

	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = store.Close() }()

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	cmd.Printf("Database migrated to schema version %d\n", storage.ExpectedSchemaVersion)

	if skipSeed {
		return nil
	}

	farms, err := loadFarmsConfig()
	if err != nil {
		return err
	}
	if err := store.SeedFarms(ctx, farms.ReferenceRows()); err != nil {
		return fmt.Errorf("failed to seed farms: %w", err)
	}
	cmd.Printf("Seeded %d farms\n", len(farms.Farms))

	return nil
}
