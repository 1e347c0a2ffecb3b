package cmd

import (
	"context"
	"fmt"
	"time"

	"procwatch/service"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
)

func newBackfillCmd() *cobra.Command {
	var force bool
	var showProgress bool

	cmd := &cobra.Command{
		Use:   "backfill [batch-id]",
		Short: "Re-score existing batches",
		Long: "Re-run detection for one batch, or for every batch without a successful\n" +
			"run when no batch id is given (target \"" + service.RescoreAllTarget + "\").",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			app, cleanup, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			target := service.RescoreAllTarget
			if len(args) == 1 {
				target = args[0]
			}

			var s *spinner.Spinner
			if showProgress && !outputJSON && !quiet {
				s = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
				s.Suffix = " Re-scoring..."
				s.Start()
			}

			if target == service.RescoreAllTarget {
				report, err := app.Pipeline.RescoreAll(ctx, force)
				if s != nil {
					s.Stop()
				}
				if err != nil {
					return err
				}
				if outputJSON {
					return outputAsJSON(report)
				}
				renderSweepReport(report)
				return nil
			}

			report, err := app.Pipeline.Rescore(ctx, target, force)
			if s != nil {
				s.Stop()
			}
			if err != nil {
				return fmt.Errorf("failed to re-score batch: %w", err)
			}
			if outputJSON {
				return outputAsJSON(report)
			}
			renderRunReport(report)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Supersede runs left in progress by a crashed process")
	cmd.Flags().BoolVar(&showProgress, "progress", true, "Show progress indicator")

	return cmd
}
