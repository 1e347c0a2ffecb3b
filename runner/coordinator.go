// Package runner orchestrates detection runs. It owns the per-batch run
// state machine (none → in_progress → success | failed), enforces
// at-most-one-concurrent-run-per-batch, and commits row scores and the
// baseline update as one transaction.
package runner

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"procwatch/baseline"
	"procwatch/core"
	"procwatch/metrics"
	"procwatch/scoring"
	"procwatch/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config holds configuration for the coordinator.
type Config struct {
	SweepParallelism int // concurrent batches in a backfill sweep (default 4)
	Logger           *zap.SugaredLogger
}

// Coordinator drives a batch through scoring and commit.
type Coordinator struct {
	db        *storage.SQLite
	batches   *storage.BatchStorage
	runs      *storage.RunStorage
	baselines *baseline.Engine
	scorer    *scoring.Engine
	logger    *zap.SugaredLogger

	sweepParallelism int

	mu     sync.Mutex
	active map[string]bool // batch ids with a run in flight in this process
}

// NewCoordinator creates a new run coordinator.
func NewCoordinator(db *storage.SQLite, batches *storage.BatchStorage, runs *storage.RunStorage,
	baselines *baseline.Engine, scorer *scoring.Engine, config *Config) *Coordinator {
	if config == nil {
		config = &Config{}
	}
	if config.SweepParallelism == 0 {
		config.SweepParallelism = core.DefaultSweepParallelism
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop().Sugar()
	}

	return &Coordinator{
		db:               db,
		batches:          batches,
		runs:             runs,
		baselines:        baselines,
		scorer:           scorer,
		logger:           config.Logger,
		sweepParallelism: config.SweepParallelism,
		active:           make(map[string]bool),
	}
}

// tryAcquire claims the in-process run slot for a batch.
func (c *Coordinator) tryAcquire(batchID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active[batchID] {
		return false
	}
	c.active[batchID] = true
	return true
}

func (c *Coordinator) release(batchID string) {
	c.mu.Lock()
	delete(c.active, batchID)
	c.mu.Unlock()
}

// RunBatch executes one detection run for a batch. Exactly one of two
// callers wins when invoked concurrently for the same batch; the loser gets
// a ConcurrencyError immediately. force additionally supersedes runs left
// in_progress by a crashed process before starting.
func (c *Coordinator) RunBatch(ctx context.Context, batch *core.Batch, trigger core.RunTrigger, force bool) (*core.DetectionRun, error) {
	if !c.tryAcquire(batch.ID) {
		return nil, core.NewConcurrencyError(batch.ID)
	}
	defer c.release(batch.ID)

	if force {
		superseded, err := c.runs.SupersedeStaleRuns(ctx, batch.ID)
		if err != nil {
			return nil, core.NewScoringError(batch.ID, "failed to supersede stale runs", err)
		}
		if superseded > 0 {
			c.logger.Warnw("Superseded stale runs", "batch_id", batch.ID, "count", superseded)
		}
	}

	// A successfully scored batch is only re-scored by an explicit backfill.
	if trigger == core.TriggerUpload {
		scored, err := c.runs.HasSuccessfulRun(ctx, batch.ID)
		if err != nil {
			return nil, core.NewScoringError(batch.ID, "failed to check run history", err)
		}
		if scored {
			return nil, core.NewScoringError(batch.ID, "batch already scored; use a backfill to re-score", nil)
		}
	}

	run := &core.DetectionRun{
		ID:        uuid.New().String(),
		BatchID:   batch.ID,
		Trigger:   trigger,
		StartedAt: time.Now().UTC(),
	}
	if err := c.runs.CreateRun(ctx, run); err != nil {
		if errors.Is(err, storage.ErrRunConflict) {
			return nil, core.NewConcurrencyError(batch.ID)
		}
		return nil, core.NewScoringError(batch.ID, "failed to open run", err)
	}

	c.logger.Infow("Detection run started",
		"run_id", run.ID,
		"batch_id", batch.ID,
		"trigger", string(trigger))

	if err := c.executeRun(ctx, batch, run); err != nil {
		c.failRun(ctx, batch, run, err)
		metrics.RunsTotal.WithLabelValues(string(trigger), string(core.RunFailed)).Inc()
		return run, err
	}

	metrics.RunsTotal.WithLabelValues(string(trigger), string(core.RunSuccess)).Inc()
	c.logger.Infow("Detection run succeeded",
		"run_id", run.ID,
		"batch_id", batch.ID,
		"rows", run.RowsScored,
		"anomalies", run.AnomalyCount,
		"baseline_source", string(run.BaselineSource))
	return run, nil
}

// executeRun performs scoring and the all-or-nothing commit. Any error
// before the commit leaves the database exactly as it was.
func (c *Coordinator) executeRun(ctx context.Context, batch *core.Batch, run *core.DetectionRun) error {
	start := time.Now()

	rows, err := c.batches.LoadNumericRows(ctx, batch)
	if err != nil {
		return core.NewScoringError(batch.ID, "failed to load rows", err)
	}

	// A batch feeds the baseline exactly once, on its first successful run.
	// Re-scoring must not fold it in again, or repeat backfills would read a
	// drifting baseline and stop being idempotent.
	folded, err := c.runs.HasSuccessfulRun(ctx, batch.ID)
	if err != nil {
		return core.NewScoringError(batch.ID, "failed to check run history", err)
	}

	numericCols := batch.Schema.NumericColumns()

	// Snapshot the baseline before this run. On a first run the batch has
	// not been folded in yet; on a re-score the stored stats are exactly
	// those of the first run, so repeat backfills see the same snapshot.
	snap, err := c.baselines.Snapshot(ctx, batch.ProcessIdentity, numericCols, rows)
	if err != nil {
		return core.NewScoringError(batch.ID, "failed to snapshot baseline", err)
	}

	scores := c.scorer.ScoreAll(batch.TableName, rows, snap)

	run.BaselineSource = snap.Source
	run.RowsScored = int64(len(scores))
	for _, s := range scores {
		if s.IsAnomaly {
			run.AnomalyCount++
			metrics.AnomaliesFlagged.WithLabelValues(s.Severity.String()).Inc()
		}
		if s.CompositeScore > run.MaxComposite {
			run.MaxComposite = s.CompositeScore
		}
	}
	run.Outcome = core.RunSuccess

	batchStats := baseline.AccumulateRows(rows, numericCols)

	// Baseline update is the last step of a successful run and is serialized
	// per process identity. Scores, baseline, run outcome and batch status
	// commit together or not at all.
	unlock := c.baselines.Lock(batch.ProcessIdentity)
	defer unlock()

	err = c.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		if err := storage.ReplaceScoresTx(tx, batch.TableName, scores); err != nil {
			return err
		}
		if !folded {
			if err := c.baselines.ApplyBatchTx(tx, batch.ProcessIdentity, batch.ID, batchStats); err != nil {
				return err
			}
		}
		if err := storage.FinishRunTx(tx, run); err != nil {
			return err
		}
		return storage.UpdateBatchStatusTx(tx, batch.ID, core.BatchStatusScored)
	})
	if err != nil {
		run.Outcome = core.RunInProgress // commit did not happen
		return core.NewScoringError(batch.ID, "failed to commit run", err)
	}

	if !folded {
		c.baselines.Invalidate(batch.ProcessIdentity)
	}
	metrics.RowsScored.Add(float64(run.RowsScored))
	metrics.ScoringDuration.Observe(time.Since(start).Seconds())
	return nil
}

// RebuildBaseline recomputes a process identity's stored baselines from its
// scored history. Serialized against run commits for the same identity.
func (c *Coordinator) RebuildBaseline(ctx context.Context, processIdentity string) error {
	unlock := c.baselines.Lock(processIdentity)
	defer unlock()

	err := c.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		return c.baselines.Rebuild(ctx, tx, processIdentity, c.batches)
	})
	if err != nil {
		return core.NewScoringError("", "failed to rebuild baselines for "+processIdentity, err)
	}
	c.baselines.Invalidate(processIdentity)
	return nil
}

// failRun records the failure. The prior successful state of the batch, if
// any, is untouched: the commit transaction never ran or rolled back.
func (c *Coordinator) failRun(ctx context.Context, batch *core.Batch, run *core.DetectionRun, cause error) {
	run.Outcome = core.RunFailed
	run.Error = cause.Error()

	if err := c.runs.FailRun(ctx, run.ID, cause.Error()); err != nil {
		c.logger.Errorw("Failed to record run failure",
			"run_id", run.ID,
			"batch_id", batch.ID,
			"error", err)
	}

	err := c.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		return storage.UpdateBatchStatusTx(tx, batch.ID, core.BatchStatusFailed)
	})
	if err != nil {
		c.logger.Errorw("Failed to update batch status",
			"batch_id", batch.ID,
			"error", err)
	}

	c.logger.Errorw("Detection run failed",
		"run_id", run.ID,
		"batch_id", batch.ID,
		"error", cause)
}
