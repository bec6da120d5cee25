package main

import (
	"github.com/spf13/cobra"
)

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect learned dynamic rules",
	}

	cmd.AddCommand(rulesListCmd())

	return cmd
}

func rulesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List committed rules and flagged conflicts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			rules, err := store.GetDynamicRules(ctx)
			if err != nil {
				return err
			}
			if len(rules) == 0 {
				cmd.Println("No dynamic rules learned yet")
			} else {
				cmd.Printf("%d rules:\n", len(rules))
				for _, rule := range rules {
					cmd.Printf("  %s  %-15s %-35s -> %s  (from %s)\n",
						rule.RuleID, rule.Kind, rule.TriggerKey, rule.FarmKey, rule.SourceDocID)
				}
			}

			conflicts, err := store.ListRuleConflicts(ctx)
			if err != nil {
				return err
			}
			if len(conflicts) > 0 {
				cmd.Printf("\n%d flagged conflicts:\n", len(conflicts))
				for _, conflict := range conflicts {
					cmd.Printf("  %s: proposed %s, kept %s (rule %s)\n",
						conflict.TriggerKey, conflict.ProposedFarmKey,
						conflict.ExistingFarmKey, conflict.ExistingRuleID)
				}
			}
			return nil
		},
	}
}
