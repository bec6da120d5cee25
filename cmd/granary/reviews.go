package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/granary/granary/internal/model"
	"github.com/granary/granary/internal/review"
)

func reviewsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reviews",
		Short: "Inspect and resolve the manual review queue",
	}

	cmd.AddCommand(reviewsListCmd())
	cmd.AddCommand(reviewsResolveCmd())

	return cmd
}

func reviewsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List open review queue entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			entries, err := store.ListOpenReviews(ctx)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				cmd.Println("Review queue is empty")
				return nil
			}

			cmd.Printf("%d open entries:\n\n", len(entries))
			for _, entry := range entries {
				cmd.Printf("Entry %d  doc %s  queued %s\n",
					entry.ID, entry.DocID, entry.QueuedAt.Format("2006-01-02 15:04"))
				cmd.Printf("  Reason: %s\n", entry.Reason)
				for _, candidate := range entry.Candidates {
					cmd.Printf("  Candidate: %-20s score %.2f  (%s)\n",
						candidate.FarmKey, candidate.Score, strings.Join(candidate.MatchedRules, ", "))
				}
				if entry.TextPreview != "" {
					preview := entry.TextPreview
					if len(preview) > 120 {
						preview = preview[:120] + "..."
					}
					cmd.Printf("  Text: %s\n", preview)
				}
				cmd.Println()
			}
			return nil
		},
	}
}

func reviewsResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <entry-id>",
		Short: "Resolve a review entry to a farm",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entryID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid entry ID %q: %w", args[0], err)
			}
			farmKey, _ := cmd.Flags().GetString("farm")
			notes, _ := cmd.Flags().GetString("notes")
			if farmKey == "" {
				return fmt.Errorf("--farm is required")
			}

			ctx := cmd.Context()
			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			farms, err := loadFarmsConfig()
			if err != nil {
				return err
			}

			manager := review.NewManager(store, nil)
			decision, err := manager.Resolve(ctx, entryID,
				farmKey, farms.FarmName(farmKey), model.SourceHuman, notes)
			if err != nil {
				return err
			}

			cmd.Printf("Entry %d resolved: %s -> %s\n", entryID, decision.DocID, decision.FarmKey)

			rules, err := store.GetDynamicRules(ctx)
			if err != nil {
				return err
			}
			for _, rule := range rules {
				if rule.DecisionID == decision.ID {
					cmd.Printf("Learned rule %s (%s on %s)\n", rule.RuleID, rule.Kind, rule.TriggerKey)
				}
			}

			conflicts, err := store.ListRuleConflicts(ctx)
			if err != nil {
				return err
			}
			for _, conflict := range conflicts {
				if conflict.SourceDocID == decision.DocID {
					cmd.Printf("Rule conflict flagged: trigger %s already maps to %s\n",
						conflict.TriggerKey, conflict.ExistingFarmKey)
				}
			}
			return nil
		},
	}

	cmd.Flags().String("farm", "", "Farm key to assign (required)")
	cmd.Flags().String("notes", "", "Optional note recorded with the decision")
	_ = cmd.MarkFlagRequired("farm")

	return cmd
}
