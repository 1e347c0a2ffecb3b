// Package cmd provides the procwatch command-line interface.
package cmd

import (
	"context"
	"time"

	"procwatch/bootstrap"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// Global flags shared by all subcommands
var (
	outputJSON bool
	noColor    bool
	quiet      bool
)

const defaultTimeout = 5 * time.Minute

// NewRootCmd creates the procwatch root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "procwatch",
		Short: "Process-measurement anomaly detection",
		Long: "Procwatch ingests CSV batches of manufacturing process measurements,\n" +
			"maintains per-process statistical baselines and flags rows outside the\n" +
			"control limits.",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
	}

	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress non-essential output")

	rootCmd.AddCommand(newIngestCmd())
	rootCmd.AddCommand(newBackfillCmd())
	rootCmd.AddCommand(newResultsCmd())
	rootCmd.AddCommand(newBatchesCmd())
	rootCmd.AddCommand(newRebuildBaselineCmd())
	rootCmd.AddCommand(newServeMetricsCmd())

	return rootCmd
}

// initApp builds the application and returns a cleanup function.
func initApp(ctx context.Context) (*bootstrap.App, func(), error) {
	app, err := bootstrap.NewApp(ctx)
	if err != nil {
		return nil, nil, err
	}
	return app, app.Shutdown, nil
}
