package runner

import (
	"context"
	"errors"
	"sort"
	"sync"

	"procwatch/core"

	"golang.org/x/sync/errgroup"
)

// SweepReport summarizes a backfill sweep. Per-batch failures are collected
// here instead of aborting the sweep; one corrupted batch never blocks
// scoring of unrelated batches.
type SweepReport struct {
	Scanned   int               `json:"scanned"`
	Succeeded []string          `json:"succeeded"`
	Skipped   map[string]string `json:"skipped,omitempty"`
	Failed    map[string]string `json:"failed,omitempty"`
}

// Sweep re-scores every previously ingested batch that has no successful
// run, applying the per-batch state machine to each independently. Batches
// are processed with bounded parallelism; the per-process-identity baseline
// serialization and the per-batch run guard still apply.
func (c *Coordinator) Sweep(ctx context.Context, force bool) (*SweepReport, error) {
	batches, err := c.batches.ListUnscoredBatches(ctx)
	if err != nil {
		return nil, core.NewScoringError("", "failed to list unscored batches", err)
	}

	report := &SweepReport{
		Scanned: len(batches),
		Skipped: make(map[string]string),
		Failed:  make(map[string]string),
	}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.sweepParallelism)

	for i := range batches {
		batch := batches[i]
		g.Go(func() error {
			_, err := c.RunBatch(gctx, &batch, core.TriggerManualBackfill, force)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				report.Succeeded = append(report.Succeeded, batch.ID)
			case isConcurrency(err):
				report.Skipped[batch.ID] = err.Error()
			default:
				report.Failed[batch.ID] = err.Error()
			}
			// Individual failures never abort the sweep.
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return report, err
	}
	sort.Strings(report.Succeeded)

	c.logger.Infow("Backfill sweep finished",
		"scanned", report.Scanned,
		"succeeded", len(report.Succeeded),
		"skipped", len(report.Skipped),
		"failed", len(report.Failed))
	return report, nil
}

func isConcurrency(err error) bool {
	var concurrencyErr *core.ConcurrencyError
	return errors.As(err, &concurrencyErr)
}
