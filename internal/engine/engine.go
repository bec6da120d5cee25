// Package engine orchestrates document resolution: identity checks, the
// classification cascade, review queueing, and the atomic ledger commit.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/granary/granary/internal/classify"
	"github.com/granary/granary/internal/common"
	"github.com/granary/granary/internal/config"
	"github.com/granary/granary/internal/model"
	"github.com/granary/granary/internal/review"
	"github.com/granary/granary/internal/service"
)

// duplicateReasonInvoiceKey is recorded on stub transactions that lost an
// invoice-key race. Content resubmissions never produce a stub; they replay
// the original outcome.
const duplicateReasonInvoiceKey = "invoice_key"

// Engine resolves extraction results into ledger outcomes.
type Engine struct {
	storage service.Storage
	farms   *config.FarmsConfig
	reviews *review.Manager
	logger  *slog.Logger
	policy  classify.Policy
}

// New creates a resolution engine.
func New(storage service.Storage, farms *config.FarmsConfig, reviews *review.Manager, policy classify.Policy, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		storage: storage,
		farms:   farms,
		reviews: reviews,
		policy:  policy,
		logger:  logger,
	}
}

// Resolve processes one extraction result end to end and returns the ledger
// transaction it produced or replayed. Resubmitting the same document or the
// same content is safe: the first outcome stands and is returned.
func (e *Engine) Resolve(ctx context.Context, result *model.ExtractionResult) (*model.Transaction, error) {
	if result == nil {
		return nil, fmt.Errorf("%w: extraction result", ErrNilResult)
	}
	if result.DocID == "" {
		return nil, fmt.Errorf("extraction result for %s missing doc ID", result.FileName)
	}

	parseStatus, failureReason := assess(result)

	doc := &model.Document{
		DocID:              result.DocID,
		FileName:           result.FileName,
		RawText:            result.RawText,
		ContentFingerprint: result.ContentFingerprint,
	}
	// Fingerprint any document that carried text, failures included, so a
	// resubmission replays the recorded outcome instead of appending rows.
	if doc.ContentFingerprint == "" && result.RawText != "" {
		doc.ContentFingerprint = model.ContentFingerprint(result.RawText)
	}

	err := e.storage.CreateDocument(ctx, doc)
	switch {
	case errors.Is(err, common.ErrAlreadyProcessed):
		// Same document resubmitted. The first outcome stands.
		return e.replay(ctx, doc.DocID)
	case errors.Is(err, common.ErrDuplicateEntry):
		return e.resolveContentDuplicate(ctx, doc)
	case err != nil:
		return nil, err
	}

	if parseStatus != model.ParseSuccess {
		return e.commitFailure(ctx, doc, parseStatus, failureReason)
	}

	return e.classifyAndCommit(ctx, doc, result.Candidate)
}

// ErrNilResult is returned when Resolve is handed nothing.
var ErrNilResult = errors.New("nil extraction result")

// assess decides the parse outcome for an extraction result.
func assess(result *model.ExtractionResult) (model.ParseStatus, string) {
	if result.Candidate == nil {
		reason := result.FailureReason
		if reason == "" {
			reason = "no structured candidate extracted"
		}
		return model.ParseInvalidPayload, reason
	}
	c := result.Candidate
	switch {
	case c.VendorName == "":
		return model.ParseValidationFailed, "candidate missing vendor name"
	case c.InvoiceNumber == "":
		return model.ParseValidationFailed, "candidate missing invoice number"
	case c.TotalAmount <= 0:
		return model.ParseValidationFailed, "candidate missing positive total"
	}
	return model.ParseSuccess, ""
}

// resolveContentDuplicate short-circuits a resubmission of content already on
// file: no new document or transaction rows are written, the original
// document's outcome is replayed.
func (e *Engine) resolveContentDuplicate(ctx context.Context, doc *model.Document) (*model.Transaction, error) {
	original, err := e.storage.GetDocumentByFingerprint(ctx, doc.ContentFingerprint)
	if err != nil {
		return nil, fmt.Errorf("failed to find fingerprint original: %w", err)
	}

	e.logger.Info("content already processed",
		"doc_id", doc.DocID,
		"original", original.DocID)
	return e.replay(ctx, original.DocID)
}

// replay returns the standing outcome for an already-processed document. A
// pending row that lost its queue entry before it was written gets the entry
// restored from the recorded classification attempt; storage absorbs the
// common case where the entry is still open.
func (e *Engine) replay(ctx context.Context, docID string) (*model.Transaction, error) {
	txn, err := e.storage.GetTransactionByDocID(ctx, docID)
	if err != nil {
		return nil, err
	}
	if txn.Status != model.StatusPendingManual {
		return txn, nil
	}

	doc, err := e.storage.GetDocumentByID(ctx, docID)
	if err != nil {
		return nil, err
	}
	events, err := e.storage.ListTaggingEvents(ctx, docID)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return txn, nil
	}
	if err := e.reviews.Enqueue(ctx, doc, &events[len(events)-1]); err != nil {
		return nil, err
	}
	return txn, nil
}

// commitFailure records a document that produced no usable candidate.
func (e *Engine) commitFailure(ctx context.Context, doc *model.Document, status model.ParseStatus, reason string) (*model.Transaction, error) {
	txn := &model.Transaction{
		DocID:              doc.DocID,
		Status:             model.StatusFailed,
		ParseStatus:        status,
		ParseFailureReason: reason,
	}
	if err := e.storage.CommitTransaction(ctx, txn, nil); err != nil {
		if errors.Is(err, common.ErrDuplicateEntry) {
			return e.storage.GetTransactionByDocID(ctx, doc.DocID)
		}
		return nil, err
	}

	e.logger.Warn("document failed extraction",
		"doc_id", doc.DocID,
		"parse_status", status,
		"reason", reason)
	return txn, nil
}

// classifyAndCommit runs the cascade, records the attempt, and writes the
// ledger outcome. An invoice-key race is converted into a duplicate stub
// rather than surfaced.
func (e *Engine) classifyAndCommit(ctx context.Context, doc *model.Document, candidate *model.CandidateRecord) (*model.Transaction, error) {
	snap, err := e.snapshot(ctx, doc.ContentFingerprint)
	if err != nil {
		return nil, err
	}

	result := classify.Classify(classify.Input{
		DocID:     doc.DocID,
		RawText:   doc.RawText,
		Candidate: candidate,
	}, snap, e.policy)

	if err := e.storage.RecordTaggingEvent(ctx, &result.Event); err != nil {
		return nil, err
	}

	txn := e.buildTransaction(doc, candidate, result)
	items := buildLineItems(doc.DocID, candidate)

	if err := e.storage.CommitTransaction(ctx, txn, items); err != nil {
		if errors.Is(err, common.ErrInvoiceKeyTaken) {
			return e.commitInvoiceDuplicate(ctx, txn)
		}
		if errors.Is(err, common.ErrDuplicateEntry) {
			return e.storage.GetTransactionByDocID(ctx, doc.DocID)
		}
		return nil, err
	}

	if result.NeedsManualReview {
		if err := e.reviews.Enqueue(ctx, doc, &result.Event); err != nil {
			return nil, err
		}
		return txn, nil
	}

	e.logger.Info("document classified",
		"doc_id", doc.DocID,
		"farm", txn.FarmKey,
		"stage", result.Stage,
		"confidence", result.Confidence)
	return txn, nil
}

// commitInvoiceDuplicate converts a lost invoice-key race into a duplicate
// stub pointing at the row that holds the key.
func (e *Engine) commitInvoiceDuplicate(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
	original, err := e.storage.GetOriginalByInvoiceKey(ctx, txn.InvoiceKey)
	if err != nil {
		return nil, fmt.Errorf("failed to find invoice key holder: %w", err)
	}

	stub := *txn
	stub.Status = model.StatusDuplicate
	stub.DuplicateDetected = true
	stub.DuplicateReason = duplicateReasonInvoiceKey
	stub.DuplicateOfDocID = original.DocID
	stub.NeedsManualReview = false
	stub.FarmKey = original.FarmKey
	stub.FarmName = original.FarmName

	if err := e.storage.CommitTransaction(ctx, &stub, nil); err != nil {
		if errors.Is(err, common.ErrDuplicateEntry) {
			return e.storage.GetTransactionByDocID(ctx, txn.DocID)
		}
		return nil, err
	}

	e.logger.Info("invoice key duplicate detected",
		"doc_id", txn.DocID,
		"original", original.DocID,
		"invoice_key", txn.InvoiceKey)
	return &stub, nil
}

// snapshot freezes the state the cascade consults for one document.
func (e *Engine) snapshot(ctx context.Context, fingerprint string) (classify.Snapshot, error) {
	rules, err := e.storage.GetDynamicRules(ctx)
	if err != nil {
		return classify.Snapshot{}, err
	}

	snap := classify.Snapshot{
		Rules: classify.BuildRuleIndex(rules),
		Farms: e.farms.Farms,
	}

	if fingerprint != "" {
		decision, err := e.storage.GetDecisionByFingerprint(ctx, fingerprint)
		switch {
		case errors.Is(err, common.ErrNotFound):
		case err != nil:
			return classify.Snapshot{}, err
		default:
			snap.PriorDecision = decision
		}
	}
	return snap, nil
}

func (e *Engine) buildTransaction(doc *model.Document, candidate *model.CandidateRecord, result classify.Result) *model.Transaction {
	totalCents := model.ToCents(candidate.TotalAmount)
	status := model.StatusAuto
	if result.NeedsManualReview {
		status = model.StatusPendingManual
	}

	return &model.Transaction{
		DocID:              doc.DocID,
		FarmKey:            result.FarmKey,
		FarmName:           result.FarmName,
		VendorKey:          e.farms.ResolveVendorKey(candidate.VendorName),
		VendorName:         candidate.VendorName,
		InvoiceNumber:      candidate.InvoiceNumber,
		InvoiceDate:        candidate.InvoiceDate,
		DueDate:            candidate.DueDate,
		TotalCents:         totalCents,
		ServiceAddress:     candidate.ServiceAddress,
		AccountNumber:      candidate.AccountNumber,
		Confidence:         result.Confidence,
		Status:             status,
		NeedsManualReview:  result.NeedsManualReview,
		ContentFingerprint: doc.ContentFingerprint,
		InvoiceKey:         model.InvoiceKey(candidate.VendorName, candidate.InvoiceNumber, totalCents),
		ParseStatus:        model.ParseSuccess,
	}
}

func buildLineItems(docID string, candidate *model.CandidateRecord) []model.LineItem {
	if candidate == nil || len(candidate.LineItems) == 0 {
		return nil
	}
	items := make([]model.LineItem, 0, len(candidate.LineItems))
	for i, line := range candidate.LineItems {
		items = append(items, model.LineItem{
			DocID:       docID,
			LineNumber:  i + 1,
			Description: line.Description,
			AmountCents: model.ToCents(line.Amount),
		})
	}
	return items
}
