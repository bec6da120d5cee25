package storage

import (
	"context"
	"fmt"

	"github.com/granary/granary/internal/model"
)

// SeedFarms upserts the reference farm rows from configuration. Existing rows
// keep their creation time; display names follow the configuration.
func (s *SQLiteStorage) SeedFarms(ctx context.Context, farms []model.Farm) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if len(farms) == 0 {
		return fmt.Errorf("%w: farms", ErrEmptySlice)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO farms (farm_key, display_name)
		VALUES (?, ?)
		ON CONFLICT(farm_key) DO UPDATE SET display_name = excluded.display_name`

	for _, farm := range farms {
		if farm.Key == "" {
			return fmt.Errorf("%w: farm key", ErrEmptyString)
		}
		if _, err := tx.ExecContext(ctx, query, farm.Key, farm.DisplayName); err != nil {
			return fmt.Errorf("failed to seed farm %s: %w", farm.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit farm seed: %w", err)
	}
	return nil
}

// GetFarms returns all known farms ordered by key.
func (s *SQLiteStorage) GetFarms(ctx context.Context) ([]model.Farm, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `SELECT farm_key, display_name, created_at FROM farms ORDER BY farm_key`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query farms: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var farms []model.Farm
	for rows.Next() {
		var farm model.Farm
		if err := rows.Scan(&farm.Key, &farm.DisplayName, &farm.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan farm: %w", err)
		}
		farms = append(farms, farm)
	}
	return farms, rows.Err()
}

// ensureFarm lazily creates a farm reference row within an open transaction.
func ensureFarm(ctx context.Context, q queryable, farmKey, farmName string) error {
	if farmKey == "" {
		return nil
	}
	if farmName == "" {
		farmName = farmKey
	}
	query := `
		INSERT INTO farms (farm_key, display_name)
		VALUES (?, ?)
		ON CONFLICT(farm_key) DO NOTHING`
	if _, err := q.ExecContext(ctx, query, farmKey, farmName); err != nil {
		return fmt.Errorf("failed to ensure farm %s: %w", farmKey, err)
	}
	return nil
}

// ensureVendor lazily creates a vendor reference row within an open transaction.
func ensureVendor(ctx context.Context, q queryable, vendorKey, vendorName string) error {
	if vendorKey == "" {
		return nil
	}
	if vendorName == "" {
		vendorName = vendorKey
	}
	query := `
		INSERT INTO vendors (vendor_key, display_name)
		VALUES (?, ?)
		ON CONFLICT(vendor_key) DO NOTHING`
	if _, err := q.ExecContext(ctx, query, vendorKey, vendorName); err != nil {
		return fmt.Errorf("failed to ensure vendor %s: %w", vendorKey, err)
	}
	return nil
}
