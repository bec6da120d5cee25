// Package review manages the manual review queue: opening cases the cascade
// could not settle, resolving them exactly once, and teaching the rule
// learner from each resolution.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/granary/granary/internal/common"
	"github.com/granary/granary/internal/model"
	"github.com/granary/granary/internal/service"
)

// PreviewLimit caps the stored text preview of a queued document.
const PreviewLimit = 500

// Manager coordinates queue state, decisions and rule learning.
type Manager struct {
	storage service.Storage
	logger  *slog.Logger
}

// NewManager creates a review manager.
func NewManager(storage service.Storage, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{storage: storage, logger: logger}
}

// Enqueue opens a review case for a document the cascade declined to settle.
// Repeated enqueues for an open document are absorbed by storage.
func (m *Manager) Enqueue(ctx context.Context, doc *model.Document, event *model.TaggingEvent) error {
	if doc == nil {
		return fmt.Errorf("%w: document", common.ErrNotFound)
	}

	entry := &model.ReviewQueueEntry{
		DocID:       doc.DocID,
		TextPreview: truncatePreview(doc.RawText),
		Confidence:  event.Confidence,
		Reason:      event.Reason,
		Candidates:  event.Candidates,
	}
	if err := m.storage.EnqueueReview(ctx, entry); err != nil {
		return fmt.Errorf("failed to enqueue document %s: %w", doc.DocID, err)
	}

	m.logger.Info("queued document for review",
		"doc_id", doc.DocID,
		"reason", event.Reason,
		"candidates", len(event.Candidates))
	return nil
}

// ListOpen returns the open queue, oldest first.
func (m *Manager) ListOpen(ctx context.Context) ([]model.ReviewQueueEntry, error) {
	return m.storage.ListOpenReviews(ctx)
}

// Resolve closes a queue entry with a farm assignment, finalizes the linked
// transaction, and teaches the rule learner from the outcome. The resolution
// is exactly-once; a lost race surfaces as common.ErrAlreadyResolved. A rule
// collision never unwinds the resolution, it is recorded and logged.
func (m *Manager) Resolve(ctx context.Context, entryID int64, farmKey, farmName string, source model.DecisionSource, notes string) (*model.ReviewDecision, error) {
	entry, err := m.storage.GetReviewEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}

	txn, err := m.storage.GetTransactionByDocID(ctx, entry.DocID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction for %s: %w", entry.DocID, err)
	}

	decision := &model.ReviewDecision{
		EntryID:            entryID,
		DocID:              entry.DocID,
		ContentFingerprint: txn.ContentFingerprint,
		InvoiceKey:         txn.InvoiceKey,
		FarmKey:            farmKey,
		FarmName:           farmName,
		Source:             source,
		Notes:              notes,
	}
	if err := m.storage.ResolveReview(ctx, entryID, decision); err != nil {
		return nil, err
	}

	m.logger.Info("resolved review entry",
		"entry_id", entryID,
		"doc_id", entry.DocID,
		"farm", farmKey,
		"source", source)

	m.learn(ctx, txn, decision)
	return decision, nil
}

// learn commits the rule a resolution suggests, if any.
func (m *Manager) learn(ctx context.Context, txn *model.Transaction, decision *model.ReviewDecision) {
	rule := SuggestRule(txn, decision)
	if rule == nil {
		m.logger.Debug("no learnable signal in resolution", "doc_id", txn.DocID)
		return
	}

	created, err := m.storage.CommitDynamicRule(ctx, rule)
	switch {
	case errors.Is(err, common.ErrRuleCollision):
		m.logger.Warn("rule proposal conflicts with existing mapping",
			"trigger", rule.TriggerKey,
			"proposed_farm", rule.FarmKey)
	case err != nil:
		m.logger.Error("failed to commit learned rule",
			"trigger", rule.TriggerKey,
			"error", err)
	case created:
		m.logger.Info("learned dynamic rule",
			"rule_id", rule.RuleID,
			"kind", rule.Kind,
			"farm", rule.FarmKey)
	}
}

func truncatePreview(text string) string {
	runes := []rune(text)
	if len(runes) <= PreviewLimit {
		return text
	}
	return string(runes[:PreviewLimit])
}
