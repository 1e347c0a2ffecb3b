package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"procwatch/core"
	"procwatch/runner"
	"procwatch/service"

	"github.com/fatih/color"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

func outputAsJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func ingestOptions(processIdentity string) *service.IngestOptions {
	if processIdentity == "" {
		return nil
	}
	return &service.IngestOptions{ProcessIdentity: processIdentity}
}

// renderBatchesTable displays batches in a formatted table
func renderBatchesTable(batches []core.Batch) {
	if len(batches) == 0 {
		warningColor.Println("No batches ingested")
		return
	}

	headerColor.Println("BATCHES")
	headerColor.Println(strings.Repeat("=", 100))
	fmt.Printf("%-30s %-14s %-8s %-10s %-20s\n",
		"Table", "Process", "Rows", "Status", "Ingested")
	fmt.Println(strings.Repeat("-", 100))

	for _, batch := range batches {
		fmt.Printf("%-30s %-14s %-8d %-10s %-20s\n",
			truncate(batch.TableName, 30), batch.ProcessIdentity, batch.RowCount,
			batch.Status, batch.IngestedAt.Format("2006-01-02 15:04:05"))
	}

	fmt.Println(strings.Repeat("=", 100))
	fmt.Printf("Total: %d batches\n", len(batches))
}

// renderScoresTable displays row scores, coloring the severity column.
func renderScoresTable(scores []core.RowScore) {
	if len(scores) == 0 {
		warningColor.Println("No scores recorded")
		return
	}

	headerColor.Printf("SCORES for %s\n", scores[0].TableName)
	headerColor.Println(strings.Repeat("=", 90))
	fmt.Printf("%-10s %-10s %-10s %-8s %s\n",
		"Row", "Composite", "Severity", "Anomaly", "Columns")
	fmt.Println(strings.Repeat("-", 90))

	anomalies := 0
	for _, score := range scores {
		if score.IsAnomaly {
			anomalies++
		}
		fmt.Printf("%-10d %-10.3f %-10s %-8s %s\n",
			score.RowIndex, score.CompositeScore, formatSeverity(score.Severity),
			formatBool(score.IsAnomaly), strings.Join(score.AnomalyColumns, ", "))
	}

	fmt.Println(strings.Repeat("=", 90))
	fmt.Printf("Total: %d rows, %d anomalies\n", len(scores), anomalies)
}

// renderRunReport displays the result of a single re-score.
func renderRunReport(report *service.RunReport) {
	if report.Outcome == core.RunSuccess {
		successColor.Printf("Run %s succeeded\n", report.RunID)
	} else {
		errorColor.Printf("Run %s %s\n", report.RunID, report.Outcome)
	}
	fmt.Printf("  Batch:     %s\n", report.BatchID)
	fmt.Printf("  Rows:      %d\n", report.RowsScored)
	fmt.Printf("  Anomalies: %d\n", report.AnomalyCount)
	fmt.Printf("  Baseline:  %s\n", report.BaselineSource)
	if report.Error != "" {
		errorColor.Printf("  Error:     %s\n", report.Error)
	}
}

// renderSweepReport displays the result of a backfill sweep.
func renderSweepReport(report *runner.SweepReport) {
	if report.Scanned == 0 {
		infoColor.Println("No unscored batches found")
		return
	}

	fmt.Printf("Scanned %d batches: %d succeeded, %d skipped, %d failed\n",
		report.Scanned, len(report.Succeeded), len(report.Skipped), len(report.Failed))

	for _, id := range report.Succeeded {
		successColor.Printf("  ok      %s\n", id)
	}
	for _, id := range sortedKeys(report.Skipped) {
		warningColor.Printf("  skipped %s: %s\n", id, report.Skipped[id])
	}
	for _, id := range sortedKeys(report.Failed) {
		errorColor.Printf("  failed  %s: %s\n", id, report.Failed[id])
	}
}

func formatSeverity(severity core.Severity) string {
	switch severity {
	case core.SeverityRed:
		return color.RedString(string(severity))
	case core.SeverityAmber:
		return color.YellowString(string(severity))
	default:
		return color.GreenString(string(severity))
	}
}

func formatBool(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
