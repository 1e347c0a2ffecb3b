package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newRebuildBaselineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild-baseline <process-identity>",
		Short: "Recompute a process baseline from scored history",
		Long: "Discard the stored baseline for a process identity and recompute it by\n" +
			"folding in every successfully scored batch, oldest first.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			app, cleanup, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := app.Pipeline.RebuildBaseline(ctx, args[0]); err != nil {
				return fmt.Errorf("failed to rebuild baseline: %w", err)
			}
			if !quiet {
				successColor.Printf("Rebuilt baseline for %s\n", args[0])
			}
			return nil
		},
	}
}
