package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

func newResultsCmd() *cobra.Command {
	var anomaliesOnly bool

	cmd := &cobra.Command{
		Use:   "results <table-name>",
		Short: "Show row scores for a batch",
		Long:  "Show the committed per-row detection verdicts for a batch, addressed by its table name.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			app, cleanup, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			scores, err := app.Pipeline.Results(ctx, args[0])
			if err != nil {
				return err
			}

			if anomaliesOnly {
				filtered := scores[:0]
				for _, score := range scores {
					if score.IsAnomaly {
						filtered = append(filtered, score)
					}
				}
				scores = filtered
			}

			if outputJSON {
				return outputAsJSON(scores)
			}
			renderScoresTable(scores)
			return nil
		},
	}

	cmd.Flags().BoolVar(&anomaliesOnly, "anomalies", false, "Show only anomalous rows")

	return cmd
}
