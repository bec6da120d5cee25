// Package storage provides the data persistence layer for the granary ledger.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/granary/granary/internal/model"
)

// Validation errors.
var (
	ErrNilContext        = errors.New("context cannot be nil")
	ErrEmptyString       = errors.New("string parameter cannot be empty")
	ErrNilParameter      = errors.New("parameter cannot be nil")
	ErrEmptySlice        = errors.New("slice cannot be empty")
	ErrInvalidStatus     = errors.New("invalid transaction status")
	ErrInvalidDocument   = errors.New("invalid document")
	ErrInvalidTxn        = errors.New("invalid transaction")
	ErrInvalidRule       = errors.New("invalid dynamic rule")
	ErrInvalidDecision   = errors.New("invalid review decision")
	ErrInvalidEvent      = errors.New("invalid tagging event")
	ErrInvalidReviewItem = errors.New("invalid review queue entry")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateDocument validates a document before persistence.
func validateDocument(doc *model.Document) error {
	if doc == nil {
		return fmt.Errorf("%w: document", ErrNilParameter)
	}
	if doc.DocID == "" {
		return fmt.Errorf("%w: missing doc ID", ErrInvalidDocument)
	}
	if doc.FileName == "" {
		return fmt.Errorf("%w: missing file name", ErrInvalidDocument)
	}
	return nil
}

// validateTransaction validates a ledger transaction.
func validateTransaction(txn *model.Transaction) error {
	if txn == nil {
		return fmt.Errorf("%w: transaction", ErrNilParameter)
	}
	if txn.DocID == "" {
		return fmt.Errorf("%w: missing doc ID", ErrInvalidTxn)
	}
	switch txn.Status {
	case model.StatusAuto, model.StatusPendingManual, model.StatusManual,
		model.StatusDuplicate, model.StatusFailed:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStatus, txn.Status)
	}
	if txn.ParseStatus == "" {
		return fmt.Errorf("%w: missing parse status", ErrInvalidTxn)
	}
	return nil
}

// validateReviewEntry validates a manual review queue entry.
func validateReviewEntry(entry *model.ReviewQueueEntry) error {
	if entry == nil {
		return fmt.Errorf("%w: review entry", ErrNilParameter)
	}
	if entry.DocID == "" {
		return fmt.Errorf("%w: missing doc ID", ErrInvalidReviewItem)
	}
	return nil
}

// validateDecision validates a manual review decision.
func validateDecision(decision *model.ReviewDecision) error {
	if decision == nil {
		return fmt.Errorf("%w: decision", ErrNilParameter)
	}
	if decision.EntryID <= 0 {
		return fmt.Errorf("%w: missing entry ID", ErrInvalidDecision)
	}
	if decision.DocID == "" {
		return fmt.Errorf("%w: missing doc ID", ErrInvalidDecision)
	}
	if decision.FarmKey == "" {
		return fmt.Errorf("%w: missing farm key", ErrInvalidDecision)
	}
	switch decision.Source {
	case model.SourceHuman, model.SourceDynamicRule, model.SourceDeterministic:
	default:
		return fmt.Errorf("%w: unknown source %q", ErrInvalidDecision, decision.Source)
	}
	return nil
}

// validateRule validates a dynamic rule before persistence.
func validateRule(rule *model.DynamicRule) error {
	if rule == nil {
		return fmt.Errorf("%w: rule", ErrNilParameter)
	}
	if rule.RuleID == "" {
		return fmt.Errorf("%w: missing rule ID", ErrInvalidRule)
	}
	if rule.TriggerKey == "" {
		return fmt.Errorf("%w: missing trigger key", ErrInvalidRule)
	}
	if rule.FarmKey == "" {
		return fmt.Errorf("%w: missing farm key", ErrInvalidRule)
	}
	switch rule.Kind {
	case model.TriggerAccountNumber, model.TriggerVendorAddress:
	default:
		return fmt.Errorf("%w: unknown trigger kind %q", ErrInvalidRule, rule.Kind)
	}
	return nil
}

// validateEvent validates a tagging event.
func validateEvent(event *model.TaggingEvent) error {
	if event == nil {
		return fmt.Errorf("%w: tagging event", ErrNilParameter)
	}
	if event.DocID == "" {
		return fmt.Errorf("%w: missing doc ID", ErrInvalidEvent)
	}
	if event.Stage == "" {
		return fmt.Errorf("%w: missing stage", ErrInvalidEvent)
	}
	return nil
}
