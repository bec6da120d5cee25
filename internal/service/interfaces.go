// Package service defines the interfaces shared between the resolution
// pipeline and the persistence layer.
package service

import (
	"context"

	"github.com/granary/granary/internal/model"
)

// TransactionFilter defines filtering options for ledger queries.
type TransactionFilter struct {
	FarmKey string
	Status  model.TransactionStatus
	Limit   int
}

// Storage defines the contract for our persistence layer.
type Storage interface {
	// Document operations. CreateDocument returns common.ErrDuplicateEntry
	// when the content fingerprint is already present.
	CreateDocument(ctx context.Context, doc *model.Document) error
	GetDocumentByID(ctx context.Context, docID string) (*model.Document, error)
	GetDocumentByFingerprint(ctx context.Context, fingerprint string) (*model.Document, error)

	// Farm and vendor reference data.
	SeedFarms(ctx context.Context, farms []model.Farm) error
	GetFarms(ctx context.Context) ([]model.Farm, error)

	// Ledger operations. CommitTransaction persists the transaction and its
	// line items atomically; it returns common.ErrInvoiceKeyTaken when a
	// non-duplicate row already holds the invoice key, and
	// common.ErrDuplicateEntry when the document already has a transaction.
	CommitTransaction(ctx context.Context, txn *model.Transaction, items []model.LineItem) error
	GetTransactionByDocID(ctx context.Context, docID string) (*model.Transaction, error)
	GetOriginalByInvoiceKey(ctx context.Context, invoiceKey string) (*model.Transaction, error)
	GetLineItems(ctx context.Context, docID string) ([]model.LineItem, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]model.Transaction, error)
	GetFarmTotals(ctx context.Context) ([]model.FarmTotal, error)
	GetLedgerSummary(ctx context.Context) (*model.LedgerSummary, error)

	// Review queue operations. EnqueueReview is idempotent per open document;
	// ResolveReview closes an entry exactly once and rewrites the linked
	// transaction in the same unit of work, returning common.ErrAlreadyResolved
	// on a second attempt.
	EnqueueReview(ctx context.Context, entry *model.ReviewQueueEntry) error
	GetReviewEntry(ctx context.Context, id int64) (*model.ReviewQueueEntry, error)
	ListOpenReviews(ctx context.Context) ([]model.ReviewQueueEntry, error)
	ResolveReview(ctx context.Context, entryID int64, decision *model.ReviewDecision) error
	GetDecisionByFingerprint(ctx context.Context, fingerprint string) (*model.ReviewDecision, error)

	// Dynamic rule operations. CommitDynamicRule appends a rule unless its
	// trigger key already maps to a different farm, in which case it records
	// the conflict and returns common.ErrRuleCollision.
	CommitDynamicRule(ctx context.Context, rule *model.DynamicRule) (bool, error)
	GetDynamicRules(ctx context.Context) ([]model.DynamicRule, error)
	ListRuleConflicts(ctx context.Context) ([]model.RuleConflict, error)

	// Audit trail.
	RecordTaggingEvent(ctx context.Context, event *model.TaggingEvent) error
	ListTaggingEvents(ctx context.Context, docID string) ([]model.TaggingEvent, error)

	// Database management.
	Migrate(ctx context.Context) error
	Close() error
}
