package review

import (
	"github.com/granary/granary/internal/model"
)

// SuggestRule proposes the dynamic rule a resolution should teach the
// cascade. An account number is the strongest signal and wins when present;
// otherwise the vendor plus service address pair is used. Returns nil when
// the transaction carries neither signal.
func SuggestRule(txn *model.Transaction, decision *model.ReviewDecision) *model.DynamicRule {
	if txn == nil || decision == nil {
		return nil
	}

	rule := &model.DynamicRule{
		VendorKey:   txn.VendorKey,
		FarmKey:     decision.FarmKey,
		Priority:    100,
		SourceDocID: txn.DocID,
		DecisionID:  decision.ID,
	}

	switch {
	case txn.AccountNumber != "":
		rule.Kind = model.TriggerAccountNumber
		rule.AccountNumber = txn.AccountNumber
		rule.TriggerKey = model.AccountTrigger(txn.AccountNumber)
	case txn.ServiceAddress != "" && txn.VendorName != "":
		rule.Kind = model.TriggerVendorAddress
		rule.ServiceAddress = txn.ServiceAddress
		rule.TriggerKey = model.VendorAddressTrigger(txn.VendorName, txn.ServiceAddress)
	default:
		return nil
	}

	rule.RuleID = rule.GenerateRuleID()
	return rule
}
