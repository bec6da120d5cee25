package model

import "time"

// Stage identifies which classifier stage produced a result.
type Stage string

// Classification stage constants.
const (
	StageDynamicRule   Stage = "dynamic_rule"
	StageDeterministic Stage = "deterministic"
	StageManual        Stage = "manual"
)

// Candidate is a single farm match with its score and the rules that fired.
type Candidate struct {
	FarmKey      string
	FarmName     string
	MatchedRules []string
	Score        float64
}

// TaggingEvent is the append-only audit record of one classification attempt.
// Every attempt writes one, whether or not it produced a confident assignment.
type TaggingEvent struct {
	TaggedAt          time.Time
	DocID             string
	Stage             Stage
	Reason            string
	Top               *Candidate
	Candidates        []Candidate
	Features          map[string]float64
	ID                int64
	Confidence        float64
	NeedsManualReview bool
}
