package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/granary/granary/internal/classify"
	"github.com/granary/granary/internal/common"
	"github.com/granary/granary/internal/config"
	"github.com/granary/granary/internal/engine"
	"github.com/granary/granary/internal/review"
	"github.com/granary/granary/internal/service"
	"github.com/granary/granary/internal/storage"
)

// initStorage initializes the storage service with proper path expansion.
func initStorage(ctx context.Context) (service.Storage, error) {
	dbPath := viper.GetString("database.path")
	if dbPath == "" {
		dbPath = config.DefaultDatabasePath()
	}
	dbPath = config.ExpandPath(dbPath)

	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, err
	}

	if err := store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// loadFarmsConfig reads the farm reference configuration.
func loadFarmsConfig() (*config.FarmsConfig, error) {
	path := viper.GetString("farms.path")
	if path == "" {
		path = "$HOME/.config/granary/farms.yaml"
	}
	path = config.ExpandPath(path)

	farms, err := config.LoadFarms(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, common.NewUserError(
				fmt.Sprintf("farm configuration not found at %s (set farms.path)", path), err)
		}
		return nil, err
	}
	return farms, nil
}

// classifierPolicy reads the cascade thresholds from configuration.
func classifierPolicy() classify.Policy {
	policy := classify.DefaultPolicy()
	if viper.IsSet("classifier.confidence_threshold") {
		policy.ConfidenceThreshold = viper.GetFloat64("classifier.confidence_threshold")
	}
	if viper.IsSet("classifier.ambiguity_margin") {
		policy.AmbiguityMargin = viper.GetFloat64("classifier.ambiguity_margin")
	}
	return policy
}

// initEngine wires storage, farm config and the review manager into a
// resolution engine. The returned cleanup closes the database.
func initEngine(ctx context.Context) (*engine.Engine, service.Storage, func(), error) {
	store, err := initStorage(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	cleanup := func() { _ = store.Close() }

	farms, err := loadFarmsConfig()
	if err != nil {
		cleanup()
		return nil, nil, nil, err
	}

	if err := store.SeedFarms(ctx, farms.ReferenceRows()); err != nil {
		cleanup()
		return nil, nil, nil, fmt.Errorf("failed to seed farms: %w", err)
	}

	reviews := review.NewManager(store, nil)
	eng := engine.New(store, farms, reviews, classifierPolicy(), nil)
	return eng, store, cleanup, nil
}

// formatCents renders an integer cent amount as dollars.
func formatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}
