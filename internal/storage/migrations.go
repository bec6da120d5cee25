package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 3

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Documents, farms, vendors and the transaction ledger",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS documents (
					doc_id TEXT PRIMARY KEY,
					file_name TEXT NOT NULL,
					raw_text TEXT,
					content_fingerprint TEXT UNIQUE,
					extracted_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_documents_fingerprint ON documents(content_fingerprint)`,

				`CREATE TABLE IF NOT EXISTS farms (
					farm_key TEXT PRIMARY KEY,
					display_name TEXT NOT NULL,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,

				`CREATE TABLE IF NOT EXISTS vendors (
					vendor_key TEXT PRIMARY KEY,
					display_name TEXT NOT NULL,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,

				`CREATE TABLE IF NOT EXISTS transactions (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					doc_id TEXT NOT NULL UNIQUE,
					farm_key TEXT,
					farm_name TEXT,
					vendor_key TEXT,
					vendor_name TEXT,
					invoice_number TEXT,
					invoice_date TEXT,
					due_date TEXT,
					total_cents INTEGER NOT NULL DEFAULT 0,
					service_address TEXT,
					account_number TEXT,
					confidence REAL NOT NULL DEFAULT 0,
					status TEXT NOT NULL,
					needs_manual_review INTEGER NOT NULL DEFAULT 0,
					manual_override INTEGER NOT NULL DEFAULT 0,
					content_fingerprint TEXT,
					invoice_key TEXT,
					duplicate_detected INTEGER NOT NULL DEFAULT 0,
					duplicate_reason TEXT,
					duplicate_of_doc_id TEXT,
					parse_status TEXT NOT NULL DEFAULT 'success',
					parse_failure_reason TEXT,
					processed_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					FOREIGN KEY (doc_id) REFERENCES documents(doc_id)
				)`,
				// At most one non-duplicate transaction may hold an invoice key.
				`CREATE UNIQUE INDEX idx_transactions_invoice_key_original
					ON transactions(invoice_key)
					WHERE invoice_key IS NOT NULL AND invoice_key != '' AND duplicate_detected = 0`,
				`CREATE INDEX idx_transactions_status ON transactions(status)`,
				`CREATE INDEX idx_transactions_farm ON transactions(farm_key)`,
				`CREATE INDEX idx_transactions_parse_status ON transactions(parse_status)`,

				`CREATE TABLE IF NOT EXISTS transaction_line_items (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					doc_id TEXT NOT NULL,
					line_number INTEGER NOT NULL,
					description TEXT,
					amount_cents INTEGER NOT NULL DEFAULT 0,
					UNIQUE (doc_id, line_number),
					FOREIGN KEY (doc_id) REFERENCES documents(doc_id)
				)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "Manual review queue, decisions and tagging audit trail",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS manual_review_queue (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					doc_id TEXT NOT NULL,
					text_preview TEXT,
					candidates_json TEXT,
					confidence REAL NOT NULL DEFAULT 0,
					reason TEXT,
					status TEXT NOT NULL DEFAULT 'open',
					queued_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					resolved_at DATETIME,
					FOREIGN KEY (doc_id) REFERENCES documents(doc_id)
				)`,
				// One open entry per document; resolved history may accumulate.
				`CREATE UNIQUE INDEX idx_review_queue_open_doc
					ON manual_review_queue(doc_id)
					WHERE status = 'open'`,

				`CREATE TABLE IF NOT EXISTS manual_review_decisions (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					entry_id INTEGER NOT NULL UNIQUE,
					doc_id TEXT NOT NULL,
					content_fingerprint TEXT,
					invoice_key TEXT,
					farm_key TEXT NOT NULL,
					farm_name TEXT,
					decision_source TEXT NOT NULL,
					notes TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					FOREIGN KEY (entry_id) REFERENCES manual_review_queue(id)
				)`,
				`CREATE INDEX idx_review_decisions_doc ON manual_review_decisions(doc_id)`,
				`CREATE INDEX idx_review_decisions_fingerprint ON manual_review_decisions(content_fingerprint)`,

				`CREATE TABLE IF NOT EXISTS tagging_events (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					doc_id TEXT NOT NULL,
					stage TEXT NOT NULL,
					confidence REAL NOT NULL DEFAULT 0,
					needs_manual_review INTEGER NOT NULL DEFAULT 0,
					top_candidate_json TEXT,
					candidates_json TEXT,
					reason TEXT,
					features_json TEXT,
					tagged_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_tagging_events_doc ON tagging_events(doc_id)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query '%s': %w", query, err)
				}
			}
			return nil
		},
	},
	{
		Version:     3,
		Description: "Append-only dynamic rules with collision audit",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS dynamic_rules (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					rule_id TEXT NOT NULL UNIQUE,
					trigger_kind TEXT NOT NULL,
					trigger_key TEXT NOT NULL UNIQUE,
					vendor_key TEXT,
					account_number TEXT,
					service_address TEXT,
					farm_key TEXT NOT NULL,
					priority INTEGER NOT NULL DEFAULT 100,
					source_doc_id TEXT,
					decision_id INTEGER,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_dynamic_rules_farm ON dynamic_rules(farm_key)`,

				`CREATE TABLE IF NOT EXISTS rule_conflicts (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					trigger_key TEXT NOT NULL,
					proposed_farm_key TEXT NOT NULL,
					existing_farm_key TEXT NOT NULL,
					existing_rule_id TEXT NOT NULL,
					source_doc_id TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query '%s': %w", query, err)
				}
			}
			return nil
		},
	},
}

// Migrate applies all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	var finalVersion int
	err = s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}
