package engine

import (
	"context"

	"github.com/granary/granary/internal/classify"
	"github.com/granary/granary/internal/model"
)

// ReclassifySummary reports a sweep over the open review queue.
type ReclassifySummary struct {
	Examined int
	Resolved int
	Skipped  int
}

// Reclassify re-runs the cascade over every open review case. Entries that
// now match a learned rule, or a prior decision for identical content, are
// resolved through the review manager so the close stays exactly-once and
// audited. Entries the cascade still cannot settle are left open.
func (e *Engine) Reclassify(ctx context.Context) (*ReclassifySummary, error) {
	open, err := e.reviews.ListOpen(ctx)
	if err != nil {
		return nil, err
	}

	summary := &ReclassifySummary{}
	for _, entry := range open {
		summary.Examined++

		doc, err := e.storage.GetDocumentByID(ctx, entry.DocID)
		if err != nil {
			return summary, err
		}
		txn, err := e.storage.GetTransactionByDocID(ctx, entry.DocID)
		if err != nil {
			return summary, err
		}

		snap, err := e.snapshot(ctx, doc.ContentFingerprint)
		if err != nil {
			return summary, err
		}

		result := classify.Classify(classify.Input{
			DocID:     doc.DocID,
			RawText:   doc.RawText,
			Candidate: candidateFromTransaction(txn),
		}, snap, e.policy)

		// Only a rule-grade match may close a case without a human.
		if result.Stage != model.StageDynamicRule || result.NeedsManualReview {
			summary.Skipped++
			continue
		}

		if err := e.storage.RecordTaggingEvent(ctx, &result.Event); err != nil {
			return summary, err
		}
		if _, err := e.reviews.Resolve(ctx, entry.ID, result.FarmKey, result.FarmName,
			model.SourceDynamicRule, result.Reason); err != nil {
			return summary, err
		}
		summary.Resolved++
	}

	e.logger.Info("reclassified open reviews",
		"examined", summary.Examined,
		"resolved", summary.Resolved,
		"skipped", summary.Skipped)
	return summary, nil
}

// candidateFromTransaction rebuilds the structured candidate the cascade
// expects from a pending transaction's persisted fields.
func candidateFromTransaction(txn *model.Transaction) *model.CandidateRecord {
	if txn == nil {
		return nil
	}
	return &model.CandidateRecord{
		VendorName:     txn.VendorName,
		InvoiceNumber:  txn.InvoiceNumber,
		InvoiceDate:    txn.InvoiceDate,
		DueDate:        txn.DueDate,
		ServiceAddress: txn.ServiceAddress,
		AccountNumber:  txn.AccountNumber,
		TotalAmount:    float64(txn.TotalCents) / 100,
	}
}
