package storage

import (
	"context"
	"path/filepath"
	"testing"
)

func TestMigrate(t *testing.T) {
	t.Run("reaches expected schema version", func(t *testing.T) {
		store, cleanup := createTestStorage(t)
		defer cleanup()

		var version int
		if err := store.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
			t.Fatalf("Failed to read schema version: %v", err)
		}
		if version != ExpectedSchemaVersion {
			t.Errorf("Schema version = %d, want %d", version, ExpectedSchemaVersion)
		}
	})

	t.Run("is idempotent", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "test.db")
		store, err := NewSQLiteStorage(dbPath)
		if err != nil {
			t.Fatalf("Failed to create storage: %v", err)
		}
		defer func() { _ = store.Close() }()

		ctx := context.Background()
		if err := store.Migrate(ctx); err != nil {
			t.Fatalf("First migrate failed: %v", err)
		}
		if err := store.Migrate(ctx); err != nil {
			t.Fatalf("Second migrate failed: %v", err)
		}
	})

	t.Run("creates all tables", func(t *testing.T) {
		store, cleanup := createTestStorage(t)
		defer cleanup()

		tables := []string{
			"documents", "farms", "vendors", "transactions",
			"transaction_line_items", "manual_review_queue",
			"manual_review_decisions", "tagging_events",
			"dynamic_rules", "rule_conflicts",
		}
		for _, table := range tables {
			var name string
			err := store.db.QueryRow(
				"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
			if err != nil {
				t.Errorf("Missing table %s: %v", table, err)
			}
		}
	})
}
