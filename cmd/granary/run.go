package main

import (
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/granary/granary/internal/engine"
	"github.com/granary/granary/internal/ingest"
	"github.com/granary/granary/internal/model"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process extraction results into the ledger",
		Long: `Run extracted invoice documents through the resolution pipeline:
duplicate detection, farm attribution, and the atomic ledger commit.

Use --file for a single extraction JSON file, or --all with --dir to sweep a
directory. Reprocessing the same input is safe and changes nothing.`,
		RunE: runRun,
	}

	cmd.Flags().String("file", "", "Single extraction result JSON file")
	cmd.Flags().Bool("all", false, "Process every .json file in a directory")
	cmd.Flags().String("dir", ".", "Directory to sweep with --all")

	return cmd
}

func runRun(cmd *cobra.Command, _ []string) error {
	file, _ := cmd.Flags().GetString("file")
	all, _ := cmd.Flags().GetBool("all")
	dir, _ := cmd.Flags().GetString("dir")
	ctx := cmd.Context()

	if file == "" && !all {
		return fmt.Errorf("either --file or --all is required")
	}

	eng, _, cleanup, err := initEngine(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if file != "" {
		result, err := ingest.ReadFile(file)
		if err != nil {
			return err
		}
		txn, err := eng.Resolve(ctx, result)
		if err != nil {
			return err
		}
		printOutcome(cmd, txn)
		return nil
	}

	results, err := ingest.ReadDir(dir)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		cmd.Printf("No extraction files found in %s\n", dir)
		return nil
	}

	bar := progressbar.NewOptions(len(results),
		progressbar.OptionSetDescription("Resolving documents"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	summary, err := eng.ResolveBatch(ctx, results, func(engine.BatchOutcome) {
		_ = bar.Add(1)
	})
	if err != nil {
		return err
	}

	cmd.Printf("\nProcessed %d documents: %d auto, %d pending review, %d duplicates, %d failed",
		len(results), summary.Auto, summary.Pending, summary.Duplicate, summary.Failed)
	if summary.Errors > 0 {
		cmd.Printf(", %d errors", summary.Errors)
		for _, outcome := range summary.Outcomes {
			if outcome.Err != nil {
				cmd.Printf("\n  %s: %v", outcome.FileName, outcome.Err)
			}
		}
	}
	cmd.Println()
	return nil
}

func printOutcome(cmd *cobra.Command, txn *model.Transaction) {
	switch {
	case txn.DuplicateDetected:
		cmd.Printf("%s: duplicate of %s (%s)\n", txn.DocID, txn.DuplicateOfDocID, txn.DuplicateReason)
	case txn.Status == model.StatusPendingManual:
		cmd.Printf("%s: queued for manual review\n", txn.DocID)
	case txn.Status == model.StatusFailed:
		cmd.Printf("%s: failed (%s)\n", txn.DocID, txn.ParseFailureReason)
	default:
		cmd.Printf("%s: %s -> %s (%s, confidence %.2f)\n",
			txn.DocID, formatCents(txn.TotalCents), txn.FarmKey, txn.Status, txn.Confidence)
	}
}
