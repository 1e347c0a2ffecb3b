package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newBatchesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "batches",
		Short: "List ingested batches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			app, cleanup, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			batches, err := app.Batches.ListBatches(ctx)
			if err != nil {
				return fmt.Errorf("failed to list batches: %w", err)
			}

			if outputJSON {
				return outputAsJSON(batches)
			}
			renderBatchesTable(batches)
			return nil
		},
	}
}

func newServeMetricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve-metrics",
		Short: "Expose the Prometheus metrics endpoint",
		Long:  "Start the Prometheus metrics endpoint and block until interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := initApp(context.Background())
			if err != nil {
				return err
			}
			defer cleanup()

			if !app.Config.Metrics.Enabled {
				return fmt.Errorf("metrics are disabled; enable metrics.enabled in the configuration")
			}

			app.StartMetrics()
			if !quiet {
				infoColor.Printf("Serving metrics on :%d, press Ctrl+C to stop\n", app.Config.Metrics.Port)
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh
			return nil
		},
	}
}
