// Package classify implements the farm attribution cascade: learned dynamic
// rules first, deterministic scoring second, manual review as the floor.
// The package is pure; callers supply a snapshot of everything it may
// consult and persist the resulting tagging event themselves.
package classify

import (
	"fmt"
	"sort"
	"strings"

	"github.com/granary/granary/internal/config"
	"github.com/granary/granary/internal/model"
)

// Default policy values.
const (
	DefaultConfidenceThreshold = 0.85
	DefaultAmbiguityMargin     = 0.3
)

// Deterministic scoring weights.
const (
	farmIdentifierWeight   = 1.0
	vendorIdentifierWeight = 1.0
	vendorKeywordWeight    = 0.25
	farmKeywordWeight      = 0.15
)

// Policy holds the thresholds that gate automatic assignment.
type Policy struct {
	ConfidenceThreshold float64
	AmbiguityMargin     float64
}

// DefaultPolicy returns the standard thresholds.
func DefaultPolicy() Policy {
	return Policy{
		ConfidenceThreshold: DefaultConfidenceThreshold,
		AmbiguityMargin:     DefaultAmbiguityMargin,
	}
}

// Snapshot is the frozen state the cascade consults for one document. Rules
// is keyed by normalized trigger signature.
type Snapshot struct {
	Rules         map[string]model.DynamicRule
	PriorDecision *model.ReviewDecision
	Farms         []config.FarmConfig
}

// BuildRuleIndex converts a rule list into the trigger lookup the cascade
// uses. Later rules never displace earlier ones; the storage layer guarantees
// trigger keys are unique anyway.
func BuildRuleIndex(rules []model.DynamicRule) map[string]model.DynamicRule {
	index := make(map[string]model.DynamicRule, len(rules))
	for _, rule := range rules {
		if _, ok := index[rule.TriggerKey]; !ok {
			index[rule.TriggerKey] = rule
		}
	}
	return index
}

// Input is one document to attribute.
type Input struct {
	DocID     string
	RawText   string
	Candidate *model.CandidateRecord
}

// Result is the cascade outcome plus the audit event describing it.
type Result struct {
	Event             model.TaggingEvent
	FarmKey           string
	FarmName          string
	Reason            string
	MatchedRuleID     string
	Stage             model.Stage
	Confidence        float64
	NeedsManualReview bool
}

// Classify runs the cascade for one document.
func Classify(input Input, snap Snapshot, policy Policy) Result {
	if result, ok := classifyByPriorDecision(input, snap); ok {
		return result
	}
	if result, ok := classifyByDynamicRule(input, snap); ok {
		return result
	}
	return classifyDeterministic(input, snap, policy)
}

// classifyByPriorDecision replays an earlier human resolution for identical
// content. Confidence is absolute: same bytes, same answer.
func classifyByPriorDecision(input Input, snap Snapshot) (Result, bool) {
	decision := snap.PriorDecision
	if decision == nil {
		return Result{}, false
	}

	result := Result{
		FarmKey:    decision.FarmKey,
		FarmName:   decision.FarmName,
		Stage:      model.StageDynamicRule,
		Confidence: 1.0,
		Reason:     fmt.Sprintf("prior decision for identical content (entry %d)", decision.EntryID),
	}
	result.Event = buildEvent(input.DocID, result, nil, nil)
	return result, true
}

// classifyByDynamicRule consults the learned trigger index.
func classifyByDynamicRule(input Input, snap Snapshot) (Result, bool) {
	if input.Candidate == nil || len(snap.Rules) == 0 {
		return Result{}, false
	}

	var triggers []string
	if input.Candidate.AccountNumber != "" {
		triggers = append(triggers, model.AccountTrigger(input.Candidate.AccountNumber))
	}
	if input.Candidate.ServiceAddress != "" {
		triggers = append(triggers,
			model.VendorAddressTrigger(input.Candidate.VendorName, input.Candidate.ServiceAddress))
	}

	for _, trigger := range triggers {
		rule, ok := snap.Rules[trigger]
		if !ok {
			continue
		}
		result := Result{
			FarmKey:       rule.FarmKey,
			FarmName:      farmDisplayName(snap.Farms, rule.FarmKey),
			Stage:         model.StageDynamicRule,
			Confidence:    1.0,
			Reason:        fmt.Sprintf("matched %s rule %s", rule.Kind, rule.RuleID),
			MatchedRuleID: rule.RuleID,
		}
		result.Event = buildEvent(input.DocID, result, nil, nil)
		return result, true
	}
	return Result{}, false
}

// classifyDeterministic scores every configured farm against the document
// text and structured fields. Its confidence is capped below the dynamic
// stage so a learned rule always wins a rematch.
func classifyDeterministic(input Input, snap Snapshot, policy Policy) Result {
	scorable := input.RawText
	if input.Candidate != nil {
		scorable += " " + input.Candidate.VendorName +
			" " + input.Candidate.ServiceAddress +
			" " + input.Candidate.AccountNumber
	}
	normText := model.NormalizeText(scorable)
	squashed := model.NormalizeIdentifier(scorable)

	candidates, features := scoreFarms(snap.Farms, normText, squashed)

	if len(candidates) == 0 {
		result := Result{
			Stage:             model.StageManual,
			Reason:            "no farm signals in document",
			NeedsManualReview: true,
		}
		result.Event = buildEvent(input.DocID, result, nil, features)
		return result
	}

	top := candidates[0]
	gap := top.Score
	if len(candidates) > 1 {
		gap = top.Score - candidates[1].Score
	}

	confidence := scoreConfidence(top.Score, gap)
	reason := fmt.Sprintf("top score %.2f with gap %.2f", top.Score, gap)

	needsReview := confidence < policy.ConfidenceThreshold
	if len(candidates) > 1 && gap < policy.AmbiguityMargin {
		needsReview = true
		reason = fmt.Sprintf("ambiguous: gap %.2f below margin %.2f", gap, policy.AmbiguityMargin)
	}
	if keywordOnly(top) && len(candidates) > 1 {
		needsReview = true
		reason = "keyword-only match with competing candidates"
	}

	result := Result{
		Stage:             model.StageDeterministic,
		Confidence:        confidence,
		Reason:            reason,
		NeedsManualReview: needsReview,
	}
	if !needsReview {
		result.FarmKey = top.FarmKey
		result.FarmName = top.FarmName
	} else {
		result.Stage = model.StageManual
	}
	result.Event = buildEvent(input.DocID, result, candidates, features)
	if result.Event.Top == nil {
		best := top
		result.Event.Top = &best
	}
	return result
}

func scoreFarms(farms []config.FarmConfig, normText, squashed string) ([]model.Candidate, map[string]float64) {
	features := make(map[string]float64)
	var candidates []model.Candidate

	for _, farm := range farms {
		var score float64
		var matched []string

		for _, ident := range farm.Identifiers {
			if identifierInText(ident, squashed) {
				score += farmIdentifierWeight
				matched = append(matched, "farm_identifier:"+ident)
			}
		}
		for _, keyword := range farm.Keywords {
			if keywordInText(keyword, normText) {
				score += farmKeywordWeight
				matched = append(matched, "farm_keyword:"+keyword)
			}
		}
		for vendorKey, vendor := range farm.Vendors {
			for _, ident := range vendor.Identifiers {
				if identifierInText(ident, squashed) {
					score += vendorIdentifierWeight
					matched = append(matched, "vendor_identifier:"+vendorKey+":"+ident)
				}
			}
			for _, keyword := range vendor.Keywords {
				if keywordInText(keyword, normText) {
					score += vendorKeywordWeight
					matched = append(matched, "vendor_keyword:"+vendorKey+":"+keyword)
				}
			}
		}

		if score > 0 {
			sort.Strings(matched)
			candidates = append(candidates, model.Candidate{
				FarmKey:      farm.Key,
				FarmName:     farm.Name,
				MatchedRules: matched,
				Score:        score,
			})
			features[farm.Key] = score
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].FarmKey < candidates[j].FarmKey
	})
	return candidates, features
}

// scoreConfidence maps a raw score and runner-up gap onto a confidence value.
// The ceiling is 0.95 so deterministic attribution never outranks a learned
// rule or a human decision.
func scoreConfidence(top, gap float64) float64 {
	switch {
	case top >= 1.0 && gap >= 0.5:
		return 0.95
	case top >= 1.0 && gap >= 0.3:
		return 0.85
	case top >= 0.5:
		return 0.70
	default:
		return top / 2
	}
}

// keywordOnly reports whether a candidate matched without any identifier.
func keywordOnly(c model.Candidate) bool {
	for _, rule := range c.MatchedRules {
		if strings.HasPrefix(rule, "farm_identifier:") ||
			strings.HasPrefix(rule, "vendor_identifier:") {
			return false
		}
	}
	return true
}

func identifierInText(identifier, squashed string) bool {
	norm := model.NormalizeIdentifier(identifier)
	return norm != "" && strings.Contains(squashed, norm)
}

func keywordInText(keyword, normText string) bool {
	norm := model.NormalizeText(keyword)
	return norm != "" && strings.Contains(normText, norm)
}

func farmDisplayName(farms []config.FarmConfig, key string) string {
	for _, farm := range farms {
		if farm.Key == key {
			return farm.Name
		}
	}
	return key
}

func buildEvent(docID string, result Result, candidates []model.Candidate, features map[string]float64) model.TaggingEvent {
	event := model.TaggingEvent{
		DocID:             docID,
		Stage:             result.Stage,
		Confidence:        result.Confidence,
		Reason:            result.Reason,
		Candidates:        candidates,
		Features:          features,
		NeedsManualReview: result.NeedsManualReview,
	}
	if result.FarmKey != "" {
		event.Top = &model.Candidate{
			FarmKey:  result.FarmKey,
			FarmName: result.FarmName,
			Score:    result.Confidence,
		}
	}
	return event
}
