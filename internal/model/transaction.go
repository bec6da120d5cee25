package model

import "time"

// TransactionStatus is the terminal resolution state of a transaction.
type TransactionStatus string

// Transaction status constants.
const (
	StatusAuto          TransactionStatus = "auto"
	StatusPendingManual TransactionStatus = "pending_manual"
	StatusManual        TransactionStatus = "manual"
	StatusDuplicate     TransactionStatus = "duplicate"
	StatusFailed        TransactionStatus = "failed"
)

// ParseStatus records the outcome of upstream extraction and validation.
type ParseStatus string

// Parse status constants.
const (
	ParseSuccess          ParseStatus = "success"
	ParseInvalidPayload   ParseStatus = "invalid_payload"
	ParseValidationFailed ParseStatus = "validation_failed"
)

// Transaction is the resolved ledger outcome for one document. Exactly one
// exists per document; at most one non-duplicate row may hold a given
// invoice key.
type Transaction struct {
	ProcessedAt        time.Time
	UpdatedAt          time.Time
	DocID              string
	FarmKey            string
	FarmName           string
	VendorKey          string
	VendorName         string
	InvoiceNumber      string
	InvoiceDate        string
	DueDate            string
	ServiceAddress     string
	AccountNumber      string
	ContentFingerprint string
	InvoiceKey         string
	Status             TransactionStatus
	DuplicateReason    string
	DuplicateOfDocID   string
	ParseStatus        ParseStatus
	ParseFailureReason string
	ID                 int64
	TotalCents         int64
	Confidence         float64
	NeedsManualReview  bool
	ManualOverride     bool
	DuplicateDetected  bool
}

// LineItem is one ordered child row of a transaction, written atomically with
// its parent and immutable after that.
type LineItem struct {
	DocID       string
	Description string
	ID          int64
	LineNumber  int
	AmountCents int64
}

// Countable reports whether the row participates in ledger sums.
func (t *Transaction) Countable() bool {
	if t.DuplicateDetected {
		return false
	}
	return t.Status == StatusAuto || t.Status == StatusManual
}
