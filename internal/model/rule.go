package model

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// TriggerKind distinguishes the two learned trigger shapes.
type TriggerKind string

// Trigger kind constants.
const (
	TriggerAccountNumber TriggerKind = "account_number"
	TriggerVendorAddress TriggerKind = "vendor_address"
)

// DynamicRule is a learned trigger-to-farm mapping derived from a past review
// decision. Rules are append-only and keyed by a normalized trigger signature;
// a signature maps to exactly one farm for the lifetime of the ledger.
type DynamicRule struct {
	CreatedAt      time.Time
	RuleID         string
	Kind           TriggerKind
	TriggerKey     string
	VendorKey      string
	AccountNumber  string
	ServiceAddress string
	FarmKey        string
	SourceDocID    string
	ID             int64
	DecisionID     int64
	Priority       int
}

// RuleConflict is the append-only record of a rejected rule proposal whose
// trigger already mapped to a different farm.
type RuleConflict struct {
	CreatedAt       time.Time
	TriggerKey      string
	ProposedFarmKey string
	ExistingFarmKey string
	ExistingRuleID  string
	SourceDocID     string
	ID              int64
}

// AccountTrigger builds the normalized signature for an account-number rule.
func AccountTrigger(accountNumber string) string {
	return "acct:" + NormalizeIdentifier(accountNumber)
}

// VendorAddressTrigger builds the normalized signature for a
// vendor-plus-service-address rule.
func VendorAddressTrigger(vendorName, serviceAddress string) string {
	return "addr:" + NormalizeIdentifier(vendorName) + "|" + NormalizeText(serviceAddress)
}

// GenerateRuleID derives the deterministic identifier for a rule from its
// normalized trigger and target.
func (r *DynamicRule) GenerateRuleID() string {
	payload := fmt.Sprintf("%s|%s|%s", r.Kind, r.TriggerKey, NormalizeIdentifier(r.FarmKey))
	digest := sha256.Sum256([]byte(payload))
	return fmt.Sprintf("rule_%x", digest[:6])
}
