package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/granary/granary/internal/config"
	"github.com/granary/granary/internal/model"
)

func testFarms() []config.FarmConfig {
	return []config.FarmConfig{
		{
			Key:         "north-ridge",
			Name:        "North Ridge",
			Identifiers: []string{"NR-4401"},
			Keywords:    []string{"north ridge"},
			Vendors: map[string]config.VendorConfig{
				"acme-water": {
					Name:        "Acme Water District",
					Identifiers: []string{"AW-77-1001"},
					Keywords:    []string{"acme water"},
				},
			},
		},
		{
			Key:         "south-field",
			Name:        "South Field",
			Identifiers: []string{"SF-9902"},
			Keywords:    []string{"south field"},
			Vendors: map[string]config.VendorConfig{
				"acme-water": {
					Name:        "Acme Water District",
					Identifiers: []string{"AW-77-2002"},
					Keywords:    []string{"acme water"},
				},
			},
		},
	}
}

func TestClassifyPriorDecision(t *testing.T) {
	snap := Snapshot{
		Farms: testFarms(),
		PriorDecision: &model.ReviewDecision{
			EntryID:  7,
			FarmKey:  "south-field",
			FarmName: "South Field",
		},
	}

	result := Classify(Input{DocID: "doc-1", RawText: "anything"}, snap, DefaultPolicy())

	assert.Equal(t, model.StageDynamicRule, result.Stage)
	assert.Equal(t, "south-field", result.FarmKey)
	assert.Equal(t, 1.0, result.Confidence)
	assert.False(t, result.NeedsManualReview)
	require.NotNil(t, result.Event.Top)
	assert.Equal(t, "south-field", result.Event.Top.FarmKey)
}

func TestClassifyDynamicRule(t *testing.T) {
	accountRule := model.DynamicRule{
		RuleID:     "rule_abc123def456",
		Kind:       model.TriggerAccountNumber,
		TriggerKey: model.AccountTrigger("AC-555"),
		FarmKey:    "north-ridge",
	}
	snap := Snapshot{
		Farms: testFarms(),
		Rules: BuildRuleIndex([]model.DynamicRule{accountRule}),
	}

	t.Run("account trigger wins over deterministic signals", func(t *testing.T) {
		input := Input{
			DocID:   "doc-2",
			RawText: "invoice mentioning south field everywhere",
			Candidate: &model.CandidateRecord{
				VendorName:    "Acme Water District",
				InvoiceNumber: "INV-1",
				TotalAmount:   120.50,
				AccountNumber: "AC-555",
			},
		}
		result := Classify(input, snap, DefaultPolicy())

		assert.Equal(t, model.StageDynamicRule, result.Stage)
		assert.Equal(t, "north-ridge", result.FarmKey)
		assert.Equal(t, 1.0, result.Confidence)
		assert.Equal(t, "rule_abc123def456", result.MatchedRuleID)
	})

	t.Run("account format variants hit the same trigger", func(t *testing.T) {
		input := Input{
			DocID: "doc-3",
			Candidate: &model.CandidateRecord{
				VendorName:    "Acme Water District",
				InvoiceNumber: "INV-2",
				TotalAmount:   10,
				AccountNumber: "ac 555",
			},
		}
		result := Classify(input, snap, DefaultPolicy())
		assert.Equal(t, "north-ridge", result.FarmKey)
		assert.Equal(t, model.StageDynamicRule, result.Stage)
	})

	t.Run("vendor address trigger matches", func(t *testing.T) {
		addrRule := model.DynamicRule{
			RuleID:     "rule_99aabbccddee",
			Kind:       model.TriggerVendorAddress,
			TriggerKey: model.VendorAddressTrigger("Rural Power Co", "88 Barn Lane"),
			FarmKey:    "south-field",
		}
		snapAddr := Snapshot{
			Farms: testFarms(),
			Rules: BuildRuleIndex([]model.DynamicRule{addrRule}),
		}
		input := Input{
			DocID: "doc-4",
			Candidate: &model.CandidateRecord{
				VendorName:     "Rural Power Co",
				InvoiceNumber:  "RP-7",
				TotalAmount:    55,
				ServiceAddress: "88 Barn Lane",
			},
		}
		result := Classify(input, snapAddr, DefaultPolicy())
		assert.Equal(t, "south-field", result.FarmKey)
		assert.Equal(t, model.StageDynamicRule, result.Stage)
	})
}

func TestClassifyDeterministic(t *testing.T) {
	snap := Snapshot{Farms: testFarms()}

	t.Run("unique identifier assigns with high confidence", func(t *testing.T) {
		input := Input{
			DocID:   "doc-10",
			RawText: "Acme Water District account AW-77-1001 service at the dairy",
		}
		result := Classify(input, snap, DefaultPolicy())

		assert.Equal(t, model.StageDeterministic, result.Stage)
		assert.Equal(t, "north-ridge", result.FarmKey)
		assert.False(t, result.NeedsManualReview)
		assert.GreaterOrEqual(t, result.Confidence, 0.85)
		assert.Less(t, result.Confidence, 1.0)
	})

	t.Run("shared vendor keyword alone routes to review", func(t *testing.T) {
		input := Input{
			DocID:   "doc-11",
			RawText: "Acme Water monthly statement",
		}
		result := Classify(input, snap, DefaultPolicy())

		assert.Equal(t, model.StageManual, result.Stage)
		assert.True(t, result.NeedsManualReview)
		assert.Empty(t, result.FarmKey)
		assert.Len(t, result.Event.Candidates, 2)
	})

	t.Run("close scores route to review", func(t *testing.T) {
		input := Input{
			DocID:   "doc-12",
			RawText: "account NR-4401 and also SF-9902 appear on this combined statement",
		}
		result := Classify(input, snap, DefaultPolicy())

		assert.True(t, result.NeedsManualReview)
		assert.Equal(t, model.StageManual, result.Stage)
	})

	t.Run("no signals at all route to review", func(t *testing.T) {
		input := Input{
			DocID:   "doc-13",
			RawText: "completely unrelated text",
		}
		result := Classify(input, snap, DefaultPolicy())

		assert.True(t, result.NeedsManualReview)
		assert.Empty(t, result.Event.Candidates)
		assert.Nil(t, result.Event.Top)
	})

	t.Run("candidate fields participate in scoring", func(t *testing.T) {
		input := Input{
			DocID:   "doc-14",
			RawText: "scanned text too blurry",
			Candidate: &model.CandidateRecord{
				VendorName:    "Acme Water District",
				InvoiceNumber: "INV-9",
				TotalAmount:   42,
				AccountNumber: "AW-77-2002",
			},
		}
		result := Classify(input, snap, DefaultPolicy())

		assert.Equal(t, "south-field", result.FarmKey)
		assert.False(t, result.NeedsManualReview)
	})
}

func TestScoreConfidence(t *testing.T) {
	tests := []struct {
		name string
		top  float64
		gap  float64
		want float64
	}{
		{"strong match with clear gap", 1.15, 1.15, 0.95},
		{"strong match with moderate gap", 1.0, 0.35, 0.85},
		{"strong match with tiny gap", 1.0, 0.1, 0.70},
		{"moderate match", 0.5, 0.5, 0.70},
		{"weak match", 0.25, 0.25, 0.125},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, scoreConfidence(tt.top, tt.gap), 1e-9)
		})
	}
}

func TestBuildRuleIndex(t *testing.T) {
	rules := []model.DynamicRule{
		{RuleID: "rule_a", TriggerKey: "acct:1", FarmKey: "north-ridge"},
		{RuleID: "rule_b", TriggerKey: "acct:2", FarmKey: "south-field"},
	}
	index := BuildRuleIndex(rules)
	require.Len(t, index, 2)
	assert.Equal(t, "rule_a", index["acct:1"].RuleID)
}
