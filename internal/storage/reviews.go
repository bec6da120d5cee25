package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/granary/granary/internal/common"
	"github.com/granary/granary/internal/model"
)

// EnqueueReview opens a review case for a document. Enqueueing is idempotent:
// if the document already has an open entry the call is a no-op.
func (s *SQLiteStorage) EnqueueReview(ctx context.Context, entry *model.ReviewQueueEntry) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateReviewEntry(entry); err != nil {
		return err
	}

	candidatesJSON, err := json.Marshal(entry.Candidates)
	if err != nil {
		return fmt.Errorf("failed to marshal candidates: %w", err)
	}

	query := `
		INSERT INTO manual_review_queue (doc_id, text_preview, candidates_json, confidence, reason, status)
		VALUES (?, ?, ?, ?, ?, 'open')`

	result, err := s.db.ExecContext(ctx, query,
		entry.DocID, entry.TextPreview, string(candidatesJSON), entry.Confidence, entry.Reason)
	if err != nil {
		if isUniqueViolation(err, "manual_review_queue.doc_id") {
			return nil
		}
		return fmt.Errorf("failed to enqueue review: %w", err)
	}

	entry.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get review entry ID: %w", err)
	}
	entry.Status = model.ReviewOpen
	return nil
}

// GetReviewEntry retrieves a single queue entry by ID.
func (s *SQLiteStorage) GetReviewEntry(ctx context.Context, id int64) (*model.ReviewQueueEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `
		SELECT id, doc_id, text_preview, candidates_json, confidence, reason, status, queued_at, resolved_at
		FROM manual_review_queue
		WHERE id = ?`

	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query review entry: %w", err)
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to read review entry: %w", err)
		}
		return nil, fmt.Errorf("review entry %d: %w", id, common.ErrReviewNotFound)
	}
	return scanReviewEntry(rows)
}

// ListOpenReviews returns all open queue entries, oldest first.
func (s *SQLiteStorage) ListOpenReviews(ctx context.Context) ([]model.ReviewQueueEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `
		SELECT id, doc_id, text_preview, candidates_json, confidence, reason, status, queued_at, resolved_at
		FROM manual_review_queue
		WHERE status = 'open'
		ORDER BY queued_at, id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query open reviews: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.ReviewQueueEntry
	for rows.Next() {
		entry, err := scanReviewEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

func scanReviewEntry(row rowScanner) (*model.ReviewQueueEntry, error) {
	var entry model.ReviewQueueEntry
	var preview, candidatesJSON, reason nullableString
	var status string
	var resolvedAt sql.NullTime

	err := row.Scan(&entry.ID, &entry.DocID, &preview, &candidatesJSON,
		&entry.Confidence, &reason, &status, &entry.QueuedAt, &resolvedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan review entry: %w", err)
	}

	entry.TextPreview = string(preview)
	entry.Reason = string(reason)
	entry.Status = model.ReviewStatus(status)
	if resolvedAt.Valid {
		t := resolvedAt.Time
		entry.ResolvedAt = &t
	}
	if candidatesJSON != "" {
		if err := json.Unmarshal([]byte(candidatesJSON), &entry.Candidates); err != nil {
			return nil, fmt.Errorf("failed to unmarshal candidates: %w", err)
		}
	}
	return &entry, nil
}

// ResolveReview closes a queue entry exactly once: it flips the entry from
// open to resolved, appends the decision record, and rewrites the linked
// transaction, all in one unit of work. A second attempt on the same entry
// returns common.ErrAlreadyResolved and changes nothing.
func (s *SQLiteStorage) ResolveReview(ctx context.Context, entryID int64, decision *model.ReviewDecision) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateDecision(decision); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// The status guard makes the close race-free: only one resolver can
	// observe an affected row.
	result, err := tx.ExecContext(ctx,
		`UPDATE manual_review_queue
		 SET status = 'resolved', resolved_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = 'open'`, entryID)
	if err != nil {
		return fmt.Errorf("failed to close review entry: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check close result: %w", err)
	}
	if affected == 0 {
		var status string
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM manual_review_queue WHERE id = ?`, entryID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("review entry %d: %w", entryID, common.ErrReviewNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to inspect review entry: %w", err)
		}
		return fmt.Errorf("review entry %d: %w", entryID, common.ErrAlreadyResolved)
	}

	decisionResult, err := tx.ExecContext(ctx,
		`INSERT INTO manual_review_decisions
			(entry_id, doc_id, content_fingerprint, invoice_key, farm_key, farm_name, decision_source, notes)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entryID, decision.DocID,
		nullString(decision.ContentFingerprint), nullString(decision.InvoiceKey),
		decision.FarmKey, nullString(decision.FarmName),
		string(decision.Source), nullString(decision.Notes))
	if err != nil {
		if isUniqueViolation(err, "manual_review_decisions.entry_id") {
			return fmt.Errorf("review entry %d: %w", entryID, common.ErrAlreadyResolved)
		}
		return fmt.Errorf("failed to record decision: %w", err)
	}
	decision.ID, err = decisionResult.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get decision ID: %w", err)
	}
	decision.EntryID = entryID

	if err := ensureFarm(ctx, tx, decision.FarmKey, decision.FarmName); err != nil {
		return err
	}

	status := model.StatusManual
	manualOverride := true
	if decision.Source != model.SourceHuman {
		status = model.StatusAuto
		manualOverride = false
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE transactions
		 SET farm_key = ?, farm_name = ?, status = ?, confidence = 1.0,
		     needs_manual_review = 0, manual_override = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE doc_id = ?`,
		decision.FarmKey, nullString(decision.FarmName), string(status), manualOverride, decision.DocID)
	if err != nil {
		return fmt.Errorf("failed to finalize transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit resolution: %w", err)
	}
	return nil
}

// GetDecisionByFingerprint returns the most recent decision recorded for a
// content fingerprint, if any.
func (s *SQLiteStorage) GetDecisionByFingerprint(ctx context.Context, fingerprint string) (*model.ReviewDecision, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(fingerprint, "fingerprint"); err != nil {
		return nil, err
	}

	query := `
		SELECT id, entry_id, doc_id, content_fingerprint, invoice_key,
		       farm_key, farm_name, decision_source, notes, created_at
		FROM manual_review_decisions
		WHERE content_fingerprint = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1`

	var decision model.ReviewDecision
	var fp, invoiceKey, farmName, notes nullableString
	var source string

	err := s.db.QueryRowContext(ctx, query, fingerprint).Scan(
		&decision.ID, &decision.EntryID, &decision.DocID, &fp, &invoiceKey,
		&decision.FarmKey, &farmName, &source, &notes, &decision.CreatedAt)
	if err != nil {
		return nil, notFound(err, "review decision")
	}

	decision.ContentFingerprint = string(fp)
	decision.InvoiceKey = string(invoiceKey)
	decision.FarmName = string(farmName)
	decision.Notes = string(notes)
	decision.Source = model.DecisionSource(source)
	return &decision, nil
}
