package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/granary/granary/internal/common"
	"github.com/granary/granary/internal/model"
)

func testRule(farmKey, account string) *model.DynamicRule {
	rule := &model.DynamicRule{
		Kind:          model.TriggerAccountNumber,
		TriggerKey:    model.AccountTrigger(account),
		AccountNumber: account,
		FarmKey:       farmKey,
		Priority:      100,
		SourceDocID:   "doc-rule-src",
	}
	rule.RuleID = rule.GenerateRuleID()
	return rule
}

func TestCommitDynamicRule(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	t.Run("creates a new rule", func(t *testing.T) {
		created, err := store.CommitDynamicRule(ctx, testRule("north-ridge", "AC-1001"))
		if err != nil {
			t.Fatalf("Failed to commit rule: %v", err)
		}
		if !created {
			t.Error("Expected rule to be created")
		}
	})

	t.Run("replay of the same rule is a no-op", func(t *testing.T) {
		if _, err := store.CommitDynamicRule(ctx, testRule("north-ridge", "AC-1002")); err != nil {
			t.Fatalf("Failed to commit rule: %v", err)
		}
		created, err := store.CommitDynamicRule(ctx, testRule("north-ridge", "AC-1002"))
		if err != nil {
			t.Fatalf("Expected replay to succeed, got %v", err)
		}
		if created {
			t.Error("Expected replay to be a no-op")
		}
	})

	t.Run("conflicting farm is rejected and recorded", func(t *testing.T) {
		if _, err := store.CommitDynamicRule(ctx, testRule("north-ridge", "AC-1003")); err != nil {
			t.Fatalf("Failed to commit rule: %v", err)
		}

		created, err := store.CommitDynamicRule(ctx, testRule("south-field", "AC-1003"))
		if !errors.Is(err, common.ErrRuleCollision) {
			t.Fatalf("Expected ErrRuleCollision, got %v", err)
		}
		if created {
			t.Error("Expected no rule to be created on collision")
		}

		conflicts, err := store.ListRuleConflicts(ctx)
		if err != nil {
			t.Fatalf("Failed to list conflicts: %v", err)
		}
		if len(conflicts) != 1 {
			t.Fatalf("Expected 1 conflict, got %d", len(conflicts))
		}
		conflict := conflicts[0]
		if conflict.ProposedFarmKey != "south-field" || conflict.ExistingFarmKey != "north-ridge" {
			t.Errorf("Conflict = %+v, want south-field proposed over north-ridge", conflict)
		}
		if conflict.TriggerKey != model.AccountTrigger("AC-1003") {
			t.Errorf("TriggerKey = %q, want %q", conflict.TriggerKey, model.AccountTrigger("AC-1003"))
		}

		// The original mapping survives untouched.
		rules, err := store.GetDynamicRules(ctx)
		if err != nil {
			t.Fatalf("Failed to get rules: %v", err)
		}
		for _, rule := range rules {
			if rule.TriggerKey == model.AccountTrigger("AC-1003") && rule.FarmKey != "north-ridge" {
				t.Errorf("Rule for AC-1003 maps to %q, want north-ridge", rule.FarmKey)
			}
		}
	})

	t.Run("vendor address trigger round trips", func(t *testing.T) {
		rule := &model.DynamicRule{
			Kind:           model.TriggerVendorAddress,
			TriggerKey:     model.VendorAddressTrigger("Acme Water District", "12 Canal Rd"),
			VendorKey:      "acme-water",
			ServiceAddress: "12 Canal Rd",
			FarmKey:        "south-field",
			Priority:       100,
		}
		rule.RuleID = rule.GenerateRuleID()

		created, err := store.CommitDynamicRule(ctx, rule)
		if err != nil {
			t.Fatalf("Failed to commit rule: %v", err)
		}
		if !created {
			t.Error("Expected rule to be created")
		}

		rules, err := store.GetDynamicRules(ctx)
		if err != nil {
			t.Fatalf("Failed to get rules: %v", err)
		}
		found := false
		for _, got := range rules {
			if got.RuleID == rule.RuleID {
				found = true
				if got.Kind != model.TriggerVendorAddress {
					t.Errorf("Kind = %q, want vendor_address", got.Kind)
				}
				if got.ServiceAddress != "12 Canal Rd" {
					t.Errorf("ServiceAddress = %q, want 12 Canal Rd", got.ServiceAddress)
				}
			}
		}
		if !found {
			t.Error("Expected committed rule in snapshot")
		}
	})

	t.Run("rejects malformed rule", func(t *testing.T) {
		rule := &model.DynamicRule{TriggerKey: "acct:1", FarmKey: "north-ridge"}
		if _, err := store.CommitDynamicRule(ctx, rule); err == nil {
			t.Fatal("Expected validation error for missing rule ID")
		}
	})
}

func TestTaggingEvents(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	doc := createTestDocument(t, store, 60)

	first := &model.TaggingEvent{
		DocID: doc.DocID,
		Stage: model.StageDeterministic,
		Top:   &model.Candidate{FarmKey: "north-ridge", Score: 0.5},
		Candidates: []model.Candidate{
			{FarmKey: "north-ridge", Score: 0.5},
			{FarmKey: "south-field", Score: 0.4},
		},
		Features:          map[string]float64{"vendor_keyword": 0.25},
		Confidence:        0.25,
		Reason:            "ambiguous candidates",
		NeedsManualReview: true,
	}
	if err := store.RecordTaggingEvent(ctx, first); err != nil {
		t.Fatalf("Failed to record event: %v", err)
	}

	second := &model.TaggingEvent{
		DocID:      doc.DocID,
		Stage:      model.StageDynamicRule,
		Top:        &model.Candidate{FarmKey: "north-ridge", Score: 1.0},
		Confidence: 1.0,
		Reason:     "matched account rule",
	}
	if err := store.RecordTaggingEvent(ctx, second); err != nil {
		t.Fatalf("Failed to record event: %v", err)
	}

	events, err := store.ListTaggingEvents(ctx, doc.DocID)
	if err != nil {
		t.Fatalf("Failed to list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	if events[0].Stage != model.StageDeterministic || events[1].Stage != model.StageDynamicRule {
		t.Error("Events not in insertion order")
	}
	if !events[0].NeedsManualReview {
		t.Error("Expected first event to need review")
	}
	if events[0].Features["vendor_keyword"] != 0.25 {
		t.Errorf("Features = %v, want vendor_keyword 0.25", events[0].Features)
	}
	if events[1].Top == nil || events[1].Top.FarmKey != "north-ridge" {
		t.Errorf("Top = %+v, want north-ridge", events[1].Top)
	}
	if events[1].Candidates != nil && len(events[1].Candidates) != 0 {
		t.Errorf("Expected no candidates on second event, got %v", events[1].Candidates)
	}
}
