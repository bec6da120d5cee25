package main

import (
	"github.com/spf13/cobra"
)

func reportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Show farm totals and ledger summary",
		Long: `Print per-farm committed spend and the headline ledger numbers. Totals
cover confirmed rows only: duplicates, pending reviews and failed documents
are counted separately, never summed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			totals, err := store.GetFarmTotals(ctx)
			if err != nil {
				return err
			}
			summary, err := store.GetLedgerSummary(ctx)
			if err != nil {
				return err
			}

			if len(totals) == 0 {
				cmd.Println("No confirmed spend on the ledger yet")
			} else {
				cmd.Println("Farm totals:")
				for _, total := range totals {
					cmd.Printf("  %-25s %12s  (%d invoices)\n",
						total.FarmName, formatCents(total.TotalCents), total.Count)
				}
			}

			cmd.Printf("\nConfirmed:       %s across %d invoices\n",
				formatCents(summary.ConfirmedCents), summary.ConfirmedCount)
			cmd.Printf("Pending review:  %s across %d invoices\n",
				formatCents(summary.PendingManualCents), summary.PendingManualCount)
			cmd.Printf("Duplicates:      %d\n", summary.DuplicateCount)
			cmd.Printf("Parse failures:  %d\n", summary.ParseFailureCount)
			return nil
		},
	}
}
