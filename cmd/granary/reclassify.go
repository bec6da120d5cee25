package main

import (
	"github.com/spf13/cobra"
)

func reclassifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reclassify",
		Short: "Re-run classification over the open review queue",
		Long: `Sweep every open review case through the cascade again. Cases that now
match a learned rule are resolved automatically and audited; the rest stay
queued for a human.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			eng, _, cleanup, err := initEngine(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			summary, err := eng.Reclassify(ctx)
			if err != nil {
				return err
			}

			cmd.Printf("Examined %d open cases: %d resolved by rules, %d still need review\n",
				summary.Examined, summary.Resolved, summary.Skipped)
			return nil
		},
	}
}
