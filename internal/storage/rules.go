package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/granary/granary/internal/common"
	"github.com/granary/granary/internal/model"
)

// CommitDynamicRule appends a learned rule. The trigger key is the collision
// guard: if it already maps to the same farm the call is a no-op (false, nil);
// if it maps to a different farm the proposal is recorded in rule_conflicts
// and common.ErrRuleCollision is returned. Returns true when a new rule row
// was created.
func (s *SQLiteStorage) CommitDynamicRule(ctx context.Context, rule *model.DynamicRule) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	if err := validateRule(rule); err != nil {
		return false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx,
		`INSERT INTO dynamic_rules
			(rule_id, trigger_kind, trigger_key, vendor_key, account_number,
			 service_address, farm_key, priority, source_doc_id, decision_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.RuleID, string(rule.Kind), rule.TriggerKey,
		nullString(rule.VendorKey), nullString(rule.AccountNumber),
		nullString(rule.ServiceAddress), rule.FarmKey, rule.Priority,
		nullString(rule.SourceDocID), nullInt64(rule.DecisionID))
	if err == nil {
		rule.ID, err = result.LastInsertId()
		if err != nil {
			return false, fmt.Errorf("failed to get rule ID: %w", err)
		}
		if commitErr := tx.Commit(); commitErr != nil {
			return false, fmt.Errorf("failed to commit rule: %w", commitErr)
		}
		return true, nil
	}

	if !isUniqueViolation(err, "") {
		return false, fmt.Errorf("failed to insert rule: %w", err)
	}

	var existingRuleID, existingFarmKey string
	lookupErr := tx.QueryRowContext(ctx,
		`SELECT rule_id, farm_key FROM dynamic_rules WHERE trigger_key = ?`,
		rule.TriggerKey).Scan(&existingRuleID, &existingFarmKey)
	if errors.Is(lookupErr, sql.ErrNoRows) {
		// The rule_id collided instead of the trigger key. Deterministic IDs
		// make this a same-rule replay, not a conflict.
		return false, nil
	}
	if lookupErr != nil {
		return false, fmt.Errorf("failed to look up existing rule: %w", lookupErr)
	}

	if existingFarmKey == rule.FarmKey {
		return false, nil
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO rule_conflicts
			(trigger_key, proposed_farm_key, existing_farm_key, existing_rule_id, source_doc_id)
		 VALUES (?, ?, ?, ?, ?)`,
		rule.TriggerKey, rule.FarmKey, existingFarmKey, existingRuleID,
		nullString(rule.SourceDocID))
	if err != nil {
		return false, fmt.Errorf("failed to record rule conflict: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit rule conflict: %w", err)
	}
	return false, fmt.Errorf("trigger %s already maps to farm %s: %w",
		rule.TriggerKey, existingFarmKey, common.ErrRuleCollision)
}

// GetDynamicRules returns all rules ordered by priority then recency. The
// result is a consistent snapshot suitable for building an in-memory trigger
// index.
func (s *SQLiteStorage) GetDynamicRules(ctx context.Context) ([]model.DynamicRule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `
		SELECT id, rule_id, trigger_kind, trigger_key, vendor_key, account_number,
		       service_address, farm_key, priority, source_doc_id, decision_id, created_at
		FROM dynamic_rules
		ORDER BY priority, id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rules []model.DynamicRule
	for rows.Next() {
		var rule model.DynamicRule
		var kind string
		var vendorKey, accountNumber, serviceAddress, sourceDocID nullableString
		var decisionID sql.NullInt64

		err := rows.Scan(&rule.ID, &rule.RuleID, &kind, &rule.TriggerKey,
			&vendorKey, &accountNumber, &serviceAddress, &rule.FarmKey,
			&rule.Priority, &sourceDocID, &decisionID, &rule.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}

		rule.Kind = model.TriggerKind(kind)
		rule.VendorKey = string(vendorKey)
		rule.AccountNumber = string(accountNumber)
		rule.ServiceAddress = string(serviceAddress)
		rule.SourceDocID = string(sourceDocID)
		rule.DecisionID = decisionID.Int64
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// ListRuleConflicts returns the recorded conflicts, newest first.
func (s *SQLiteStorage) ListRuleConflicts(ctx context.Context) ([]model.RuleConflict, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `
		SELECT id, trigger_key, proposed_farm_key, existing_farm_key,
		       existing_rule_id, source_doc_id, created_at
		FROM rule_conflicts
		ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query rule conflicts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var conflicts []model.RuleConflict
	for rows.Next() {
		var conflict model.RuleConflict
		var sourceDocID nullableString
		err := rows.Scan(&conflict.ID, &conflict.TriggerKey, &conflict.ProposedFarmKey,
			&conflict.ExistingFarmKey, &conflict.ExistingRuleID, &sourceDocID,
			&conflict.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule conflict: %w", err)
		}
		conflict.SourceDocID = string(sourceDocID)
		conflicts = append(conflicts, conflict)
	}
	return conflicts, rows.Err()
}

// nullInt64 converts a zero ID to a SQL NULL.
func nullInt64(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}
