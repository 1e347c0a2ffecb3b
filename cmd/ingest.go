package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
)

// maxIngestFileSize bounds one CSV file read from disk
const maxIngestFileSize = 64 * 1024 * 1024

func newIngestCmd() *cobra.Command {
	var batchName string
	var processIdentity string
	var showProgress bool

	cmd := &cobra.Command{
		Use:   "ingest <file.csv>",
		Short: "Ingest and score a CSV batch",
		Long: "Ingest a CSV file of process measurements, provision a per-batch table\n" +
			"and score every row against the process baseline.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			path := args[0]
			info, err := os.Stat(path)
			if err != nil {
				return fmt.Errorf("failed to stat file: %w", err)
			}
			if info.Size() > maxIngestFileSize {
				return fmt.Errorf("file exceeds %d bytes", maxIngestFileSize)
			}

			raw, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read file: %w", err)
			}

			app, cleanup, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			name := batchName
			if name == "" {
				name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			}

			var s *spinner.Spinner
			if showProgress && !outputJSON && !quiet {
				s = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
				s.Suffix = " Ingesting and scoring..."
				s.Start()
			}

			result, err := app.Pipeline.IngestAndScore(ctx, raw, name, ingestOptions(processIdentity))

			if s != nil {
				s.Stop()
			}

			if err != nil {
				return err
			}

			if outputJSON {
				return outputAsJSON(result)
			}

			successColor.Printf("Ingested batch %s\n", result.BatchID)
			fmt.Printf("  Table: %s\n", result.TableName)
			fmt.Printf("  Rows:  %d\n", result.RowCount)
			return nil
		},
	}

	cmd.Flags().StringVar(&batchName, "name", "", "Batch name (default: file name)")
	cmd.Flags().StringVar(&processIdentity, "process", "", "Process identity override (default: schema fingerprint)")
	cmd.Flags().BoolVar(&showProgress, "progress", true, "Show progress indicator")

	return cmd
}
