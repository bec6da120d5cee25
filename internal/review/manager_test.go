package review

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/granary/granary/internal/model"
	"github.com/granary/granary/internal/storage"
)

func newTestManager(t *testing.T) (*Manager, *storage.SQLiteStorage) {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(context.Background()))
	return NewManager(store, nil), store
}

func seedPendingDocument(t *testing.T, store *storage.SQLiteStorage, num int, accountNumber string) *model.Document {
	t.Helper()
	ctx := context.Background()
	text := fmt.Sprintf("Acme Water District statement %d account %s", num, accountNumber)
	doc := &model.Document{
		DocID:              fmt.Sprintf("doc-%03d", num),
		FileName:           fmt.Sprintf("statement-%03d.pdf", num),
		RawText:            text,
		ContentFingerprint: model.ContentFingerprint(text),
	}
	require.NoError(t, store.CreateDocument(ctx, doc))

	txn := &model.Transaction{
		DocID:              doc.DocID,
		VendorKey:          "acme-water",
		VendorName:         "Acme Water District",
		InvoiceNumber:      fmt.Sprintf("INV-%03d", num),
		TotalCents:         4200,
		AccountNumber:      accountNumber,
		Confidence:         0.25,
		Status:             model.StatusPendingManual,
		NeedsManualReview:  true,
		ContentFingerprint: doc.ContentFingerprint,
		InvoiceKey:         model.InvoiceKey("Acme Water District", fmt.Sprintf("INV-%03d", num), 4200),
		ParseStatus:        model.ParseSuccess,
	}
	require.NoError(t, store.CommitTransaction(ctx, txn, nil))
	return doc
}

func TestManagerEnqueue(t *testing.T) {
	manager, store := newTestManager(t)
	ctx := context.Background()

	doc := seedPendingDocument(t, store, 1, "AC-100")
	event := &model.TaggingEvent{
		DocID:      doc.DocID,
		Stage:      model.StageManual,
		Confidence: 0.25,
		Reason:     "ambiguous candidates",
		Candidates: []model.Candidate{
			{FarmKey: "north-ridge", Score: 0.5},
			{FarmKey: "south-field", Score: 0.4},
		},
	}

	require.NoError(t, manager.Enqueue(ctx, doc, event))

	open, err := manager.ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, doc.DocID, open[0].DocID)
	assert.Len(t, open[0].Candidates, 2)

	// Re-enqueueing the same open document changes nothing.
	require.NoError(t, manager.Enqueue(ctx, doc, event))
	open, err = manager.ListOpen(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestManagerEnqueueTruncatesPreview(t *testing.T) {
	manager, store := newTestManager(t)
	ctx := context.Background()

	doc := seedPendingDocument(t, store, 2, "AC-200")
	doc.RawText = strings.Repeat("water ", 200)
	event := &model.TaggingEvent{DocID: doc.DocID, Stage: model.StageManual, Reason: "low confidence"}

	require.NoError(t, manager.Enqueue(ctx, doc, event))

	open, err := manager.ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Len(t, []rune(open[0].TextPreview), PreviewLimit)
}

func TestManagerResolve(t *testing.T) {
	manager, store := newTestManager(t)
	ctx := context.Background()

	t.Run("resolution finalizes and learns a rule", func(t *testing.T) {
		doc := seedPendingDocument(t, store, 10, "AC-1010")
		event := &model.TaggingEvent{DocID: doc.DocID, Stage: model.StageManual, Reason: "low confidence"}
		require.NoError(t, manager.Enqueue(ctx, doc, event))

		open, err := manager.ListOpen(ctx)
		require.NoError(t, err)
		require.Len(t, open, 1)

		decision, err := manager.Resolve(ctx, open[0].ID, "north-ridge", "North Ridge", model.SourceHuman, "checked the barn ledger")
		require.NoError(t, err)
		assert.Equal(t, doc.DocID, decision.DocID)
		assert.Equal(t, doc.ContentFingerprint, decision.ContentFingerprint)

		txn, err := store.GetTransactionByDocID(ctx, doc.DocID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusManual, txn.Status)
		assert.Equal(t, "north-ridge", txn.FarmKey)

		rules, err := store.GetDynamicRules(ctx)
		require.NoError(t, err)
		require.Len(t, rules, 1)
		assert.Equal(t, model.TriggerAccountNumber, rules[0].Kind)
		assert.Equal(t, model.AccountTrigger("AC-1010"), rules[0].TriggerKey)
		assert.Equal(t, "north-ridge", rules[0].FarmKey)
	})

	t.Run("conflicting follow-up resolution stands while the rule is refused", func(t *testing.T) {
		first := seedPendingDocument(t, store, 11, "AC-1111")
		second := seedPendingDocument(t, store, 12, "AC-1111")

		for _, doc := range []*model.Document{first, second} {
			event := &model.TaggingEvent{DocID: doc.DocID, Stage: model.StageManual, Reason: "low confidence"}
			require.NoError(t, manager.Enqueue(ctx, doc, event))
		}
		open, err := manager.ListOpen(ctx)
		require.NoError(t, err)
		require.Len(t, open, 2)

		_, err = manager.Resolve(ctx, open[0].ID, "north-ridge", "North Ridge", model.SourceHuman, "")
		require.NoError(t, err)
		_, err = manager.Resolve(ctx, open[1].ID, "south-field", "South Field", model.SourceHuman, "")
		require.NoError(t, err)

		// Both transactions carry their human assignment.
		firstTxn, err := store.GetTransactionByDocID(ctx, first.DocID)
		require.NoError(t, err)
		assert.Equal(t, "north-ridge", firstTxn.FarmKey)
		secondTxn, err := store.GetTransactionByDocID(ctx, second.DocID)
		require.NoError(t, err)
		assert.Equal(t, "south-field", secondTxn.FarmKey)

		// The first mapping keeps the trigger; the conflict is on record.
		conflicts, err := store.ListRuleConflicts(ctx)
		require.NoError(t, err)
		require.Len(t, conflicts, 1)
		assert.Equal(t, model.AccountTrigger("AC-1111"), conflicts[0].TriggerKey)
		assert.Equal(t, "south-field", conflicts[0].ProposedFarmKey)
		assert.Equal(t, "north-ridge", conflicts[0].ExistingFarmKey)
	})
}

func TestSuggestRule(t *testing.T) {
	decision := &model.ReviewDecision{ID: 5, FarmKey: "north-ridge"}

	t.Run("prefers account number", func(t *testing.T) {
		txn := &model.Transaction{
			DocID:          "doc-a",
			VendorName:     "Acme Water District",
			AccountNumber:  "AC-9",
			ServiceAddress: "12 Canal Rd",
		}
		rule := SuggestRule(txn, decision)
		require.NotNil(t, rule)
		assert.Equal(t, model.TriggerAccountNumber, rule.Kind)
		assert.Equal(t, model.AccountTrigger("AC-9"), rule.TriggerKey)
		assert.Equal(t, int64(5), rule.DecisionID)
		assert.NotEmpty(t, rule.RuleID)
	})

	t.Run("falls back to vendor and address", func(t *testing.T) {
		txn := &model.Transaction{
			DocID:          "doc-b",
			VendorName:     "Acme Water District",
			ServiceAddress: "12 Canal Rd",
		}
		rule := SuggestRule(txn, decision)
		require.NotNil(t, rule)
		assert.Equal(t, model.TriggerVendorAddress, rule.Kind)
		assert.Equal(t, model.VendorAddressTrigger("Acme Water District", "12 Canal Rd"), rule.TriggerKey)
	})

	t.Run("no signal yields no rule", func(t *testing.T) {
		txn := &model.Transaction{DocID: "doc-c", VendorName: "Acme Water District"}
		assert.Nil(t, SuggestRule(txn, decision))
	})
}
