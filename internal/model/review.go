package model

import "time"

// ReviewStatus is the lifecycle state of a queue entry.
type ReviewStatus string

// Review status constants.
const (
	ReviewOpen     ReviewStatus = "open"
	ReviewResolved ReviewStatus = "resolved"
)

// DecisionSource records who or what produced a review resolution.
type DecisionSource string

// Decision source constants.
const (
	SourceHuman         DecisionSource = "human"
	SourceDynamicRule   DecisionSource = "dynamic_rule"
	SourceDeterministic DecisionSource = "deterministic"
)

// ReviewQueueEntry is one open case awaiting human input. At most one open
// entry exists per document; closing it is exactly-once.
type ReviewQueueEntry struct {
	QueuedAt    time.Time
	ResolvedAt  *time.Time
	DocID       string
	TextPreview string
	Reason      string
	Status      ReviewStatus
	Candidates  []Candidate
	ID          int64
	Confidence  float64
}

// ReviewDecision is the immutable audit record of a resolution. Append-only;
// one per resolved queue entry.
type ReviewDecision struct {
	CreatedAt          time.Time
	DocID              string
	ContentFingerprint string
	InvoiceKey         string
	FarmKey            string
	FarmName           string
	Source             DecisionSource
	Notes              string
	ID                 int64
	EntryID            int64
}
