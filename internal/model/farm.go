package model

import "time"

// Farm is a reference entity that transactions are attributed to. Farms are
// created lazily on first confident assignment and never deleted.
type Farm struct {
	CreatedAt   time.Time
	Key         string
	DisplayName string
}

// Vendor is a reference entity for the billing party on an invoice.
type Vendor struct {
	CreatedAt   time.Time
	Key         string
	DisplayName string
}

// FarmTotal is an aggregate of committed spend for one farm.
type FarmTotal struct {
	FarmKey    string
	FarmName   string
	TotalCents int64
	Count      int
}

// LedgerSummary holds the headline dashboard numbers.
type LedgerSummary struct {
	ConfirmedCents     int64
	PendingManualCents int64
	ConfirmedCount     int
	PendingManualCount int
	DuplicateCount     int
	ParseFailureCount  int
}
