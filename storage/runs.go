package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"procwatch/core"

	"go.uber.org/zap"
)

// RunStorage persists detection run records.
type RunStorage struct {
	db     *SQLite
	logger *zap.SugaredLogger
}

// NewRunStorage creates a new run storage.
func NewRunStorage(db *SQLite, logger *zap.SugaredLogger) *RunStorage {
	return &RunStorage{
		db:     db,
		logger: logger,
	}
}

// CreateRun inserts a new in_progress run, but only if the batch has no other
// in_progress run. The conditional insert is the crash-safe half of the
// at-most-one-concurrent-run-per-batch invariant; the runner's in-process
// lock is the fast path. Returns ErrRunConflict when the guard rejects.
func (s *RunStorage) CreateRun(ctx context.Context, run *core.DetectionRun) error {
	res, err := s.db.WriteDB.ExecContext(ctx, `
		INSERT INTO detection_runs (id, batch_id, run_trigger, started_at, outcome)
		SELECT ?, ?, ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM detection_runs
			WHERE batch_id = ? AND outcome = 'in_progress'
		)`,
		run.ID, run.BatchID, string(run.Trigger), run.StartedAt, string(core.RunInProgress),
		run.BatchID)
	if err != nil {
		return fmt.Errorf("failed to create run for batch %s: %w", run.BatchID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check run insert: %w", err)
	}
	if n == 0 {
		return ErrRunConflict
	}
	run.Outcome = core.RunInProgress
	return nil
}

// FinishRunTx sets a run's terminal state inside an existing transaction.
// The WHERE clause only matches in_progress runs, so a terminal outcome is
// written exactly once.
func FinishRunTx(tx *sql.Tx, run *core.DetectionRun) error {
	if !run.Outcome.Terminal() {
		return fmt.Errorf("run %s outcome %q is not terminal", run.ID, run.Outcome)
	}
	finished := time.Now().UTC()
	res, err := tx.Exec(`
		UPDATE detection_runs
		SET outcome = ?, finished_at = ?, error = ?, baseline_source = ?,
		    rows_scored = ?, anomaly_count = ?, max_composite = ?
		WHERE id = ? AND outcome = 'in_progress'`,
		string(run.Outcome), finished, run.Error, string(run.BaselineSource),
		run.RowsScored, run.AnomalyCount, run.MaxComposite, run.ID)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", run.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check run update: %w", err)
	}
	if n == 0 {
		return ErrRunNotFound
	}
	run.FinishedAt = &finished
	return nil
}

// FailRun marks a run failed outside any larger transaction. Used on error
// paths where the per-run work never reached the commit stage.
func (s *RunStorage) FailRun(ctx context.Context, runID string, cause string) error {
	return s.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			UPDATE detection_runs
			SET outcome = ?, finished_at = ?, error = ?
			WHERE id = ? AND outcome = 'in_progress'`,
			string(core.RunFailed), time.Now().UTC(), cause, runID)
		if err != nil {
			return fmt.Errorf("failed to fail run %s: %w", runID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check run update: %w", err)
		}
		if n == 0 {
			return ErrRunNotFound
		}
		return nil
	})
}

// SupersedeStaleRuns marks every in_progress run for a batch as failed.
// A run left in_progress by a crashed process blocks new runs forever; a
// forced backfill calls this first, which is the only sanctioned unblock.
func (s *RunStorage) SupersedeStaleRuns(ctx context.Context, batchID string) (int64, error) {
	var superseded int64
	err := s.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			UPDATE detection_runs
			SET outcome = ?, finished_at = ?, error = 'superseded by forced backfill'
			WHERE batch_id = ? AND outcome = 'in_progress'`,
			string(core.RunFailed), time.Now().UTC(), batchID)
		if err != nil {
			return fmt.Errorf("failed to supersede runs for batch %s: %w", batchID, err)
		}
		superseded, err = res.RowsAffected()
		return err
	})
	return superseded, err
}

// GetRun returns a run by id.
func (s *RunStorage) GetRun(ctx context.Context, runID string) (*core.DetectionRun, error) {
	row := s.db.ReadDB.QueryRowContext(ctx, `
		SELECT id, batch_id, run_trigger, started_at, finished_at, outcome,
		       COALESCE(error, ''), COALESCE(baseline_source, ''),
		       rows_scored, anomaly_count, max_composite
		FROM detection_runs WHERE id = ?`, runID)
	return scanRun(row)
}

// GetRunsForBatch returns all runs for a batch, newest first.
func (s *RunStorage) GetRunsForBatch(ctx context.Context, batchID string) ([]core.DetectionRun, error) {
	rows, err := s.db.ReadDB.QueryContext(ctx, `
		SELECT id, batch_id, run_trigger, started_at, finished_at, outcome,
		       COALESCE(error, ''), COALESCE(baseline_source, ''),
		       rows_scored, anomaly_count, max_composite
		FROM detection_runs
		WHERE batch_id = ?
		ORDER BY started_at DESC, id`, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs for batch %s: %w", batchID, err)
	}
	defer func() { _ = rows.Close() }()

	var runs []core.DetectionRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// HasSuccessfulRun reports whether the batch has ever been scored to success.
func (s *RunStorage) HasSuccessfulRun(ctx context.Context, batchID string) (bool, error) {
	var n int64
	err := s.db.ReadDB.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM detection_runs WHERE batch_id = ? AND outcome = 'success'", batchID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check runs for batch %s: %w", batchID, err)
	}
	return n > 0, nil
}

func scanRun(row rowScanner) (*core.DetectionRun, error) {
	var r core.DetectionRun
	var trigger, outcome, baselineSource string
	var finished sql.NullTime
	err := row.Scan(&r.ID, &r.BatchID, &trigger, &r.StartedAt, &finished, &outcome,
		&r.Error, &baselineSource, &r.RowsScored, &r.AnomalyCount, &r.MaxComposite)
	if err == sql.ErrNoRows {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	r.Trigger = core.RunTrigger(trigger)
	r.Outcome = core.RunOutcome(outcome)
	r.BaselineSource = core.BaselineSource(baselineSource)
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	return &r, nil
}
