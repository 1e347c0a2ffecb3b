package runner

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"procwatch/baseline"
	"procwatch/core"
	"procwatch/scoring"
	"procwatch/storage"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testHarness struct {
	db      *storage.SQLite
	batches *storage.BatchStorage
	runs    *storage.RunStorage
	scores  *storage.ScoreStorage
	coord   *Coordinator
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	logger := zap.NewNop().Sugar()

	db, err := storage.NewSQLite(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	batches := storage.NewBatchStorage(db, logger)
	runs := storage.NewRunStorage(db, logger)
	engine, err := baseline.NewEngine(storage.NewBaselineStorage(db, logger), nil)
	require.NoError(t, err)

	return &testHarness{
		db:      db,
		batches: batches,
		runs:    runs,
		scores:  storage.NewScoreStorage(db, logger),
		coord: NewCoordinator(db, batches, runs, engine,
			scoring.NewEngine(nil), &Config{Logger: logger}),
	}
}

func (h *testHarness) provision(t *testing.T, name string, values []float64) *core.Batch {
	t.Helper()
	schema := core.ColumnSchema{{Name: "value", SourceName: "Value", Type: core.ColumnTypeFloat}}
	rows := make([][]interface{}, len(values))
	for i, v := range values {
		rows[i] = []interface{}{v}
	}
	batch, err := h.batches.ProvisionBatch(context.Background(), name, name+".csv", "p_run", schema, rows)
	require.NoError(t, err)
	return batch
}

func coldStartValues() []float64 {
	return []float64{10, 10, 10, 10, 10, 10, 10, 10, 10, 1000}
}

func TestRunBatchColdStart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	batch := h.provision(t, "cold", coldStartValues())
	run, err := h.coord.RunBatch(ctx, batch, core.TriggerUpload, false)
	require.NoError(t, err)

	assert.Equal(t, core.RunSuccess, run.Outcome)
	assert.Equal(t, core.BaselineSourceSelf, run.BaselineSource)
	assert.Equal(t, int64(10), run.RowsScored)
	assert.Equal(t, int64(1), run.AnomalyCount)

	scores, err := h.scores.GetScores(ctx, batch.TableName)
	require.NoError(t, err)
	require.Len(t, scores, 10)
	for i := 0; i < 9; i++ {
		assert.False(t, scores[i].IsAnomaly, "row %d", i)
	}
	assert.True(t, scores[9].IsAnomaly)

	got, err := h.batches.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, core.BatchStatusScored, got.Status)
}

func TestRunBatchUploadRejectsRescore(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	batch := h.provision(t, "once", []float64{10, 11, 9})
	_, err := h.coord.RunBatch(ctx, batch, core.TriggerUpload, false)
	require.NoError(t, err)

	_, err = h.coord.RunBatch(ctx, batch, core.TriggerUpload, false)
	require.Error(t, err)
	var scoringErr *core.ScoringError
	assert.ErrorAs(t, err, &scoringErr)

	// A manual backfill is the sanctioned way to re-score.
	run, err := h.coord.RunBatch(ctx, batch, core.TriggerManualBackfill, false)
	require.NoError(t, err)
	assert.Equal(t, core.RunSuccess, run.Outcome)
}

func TestRunBatchRescoreIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	batch := h.provision(t, "idem", coldStartValues())
	_, err := h.coord.RunBatch(ctx, batch, core.TriggerUpload, false)
	require.NoError(t, err)

	first, err := h.scores.GetScores(ctx, batch.TableName)
	require.NoError(t, err)

	_, err = h.coord.RunBatch(ctx, batch, core.TriggerManualBackfill, false)
	require.NoError(t, err)
	second, err := h.scores.GetScores(ctx, batch.TableName)
	require.NoError(t, err)
	require.Len(t, second, len(first))

	_, err = h.coord.RunBatch(ctx, batch, core.TriggerManualBackfill, false)
	require.NoError(t, err)
	third, err := h.scores.GetScores(ctx, batch.TableName)
	require.NoError(t, err)

	// Replace, not append: the batch is folded into the baseline once, so
	// repeat backfills without new data reproduce the same score set.
	assert.Equal(t, second, third)
}

func TestRunBatchConcurrentExactlyOneWins(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	batch := h.provision(t, "race", []float64{10, 11, 9, 10, 12})
	_, err := h.coord.RunBatch(ctx, batch, core.TriggerUpload, false)
	require.NoError(t, err)

	// Deterministic half: while one caller holds the batch's run slot, a
	// second call observes ConcurrencyError immediately.
	require.True(t, h.coord.tryAcquire(batch.ID))
	_, err = h.coord.RunBatch(ctx, batch, core.TriggerManualBackfill, false)
	require.Error(t, err)
	assert.True(t, isConcurrency(err))
	h.coord.release(batch.ID)

	// Racing half: every caller either succeeds or gets ConcurrencyError,
	// never a partial state.
	const attempts = 4
	results := make([]error, attempts)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, results[i] = h.coord.RunBatch(ctx, batch, core.TriggerManualBackfill, false)
		}(i)
	}
	close(start)
	wg.Wait()

	var successes, conflicts int
	for _, err := range results {
		switch {
		case err == nil:
			successes++
		case isConcurrency(err):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.GreaterOrEqual(t, successes, 1)
	assert.Equal(t, attempts, successes+conflicts)
}

func TestRunBatchStaleRunBlocksUntilForced(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	batch := h.provision(t, "stuck", []float64{10, 11, 9})

	// Simulate a crashed process: an in_progress run with no owner.
	stale := &core.DetectionRun{
		ID:        uuid.New().String(),
		BatchID:   batch.ID,
		Trigger:   core.TriggerUpload,
		StartedAt: time.Now().UTC(),
	}
	require.NoError(t, h.runs.CreateRun(ctx, stale))

	_, err := h.coord.RunBatch(ctx, batch, core.TriggerManualBackfill, false)
	require.Error(t, err)
	assert.True(t, isConcurrency(err))

	run, err := h.coord.RunBatch(ctx, batch, core.TriggerManualBackfill, true)
	require.NoError(t, err)
	assert.Equal(t, core.RunSuccess, run.Outcome)

	superseded, err := h.runs.GetRun(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, core.RunFailed, superseded.Outcome)
}

func TestRunBatchFailurePreservesPriorScores(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	batch := h.provision(t, "frail", coldStartValues())
	_, err := h.coord.RunBatch(ctx, batch, core.TriggerUpload, false)
	require.NoError(t, err)

	before, err := h.scores.GetScores(ctx, batch.TableName)
	require.NoError(t, err)
	require.NotEmpty(t, before)

	// Break the batch's row table so the next run fails before commit.
	_, err = h.db.WriteDB.Exec(fmt.Sprintf("DROP TABLE %s", batch.TableName))
	require.NoError(t, err)

	run, err := h.coord.RunBatch(ctx, batch, core.TriggerManualBackfill, false)
	require.Error(t, err)
	var scoringErr *core.ScoringError
	assert.ErrorAs(t, err, &scoringErr)
	require.NotNil(t, run)
	assert.Equal(t, core.RunFailed, run.Outcome)

	after, err := h.scores.GetScores(ctx, batch.TableName)
	require.NoError(t, err)
	assert.Equal(t, before, after, "failed run must not disturb committed scores")

	got, err := h.batches.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, core.BatchStatusFailed, got.Status)
}

func TestSweepIsolatesFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	good1 := h.provision(t, "good_one", []float64{10, 11, 9})
	broken := h.provision(t, "broken", []float64{10, 11, 9})
	good2 := h.provision(t, "good_two", []float64{10, 12, 8})

	_, err := h.db.WriteDB.Exec("DROP TABLE broken")
	require.NoError(t, err)

	report, err := h.coord.Sweep(ctx, false)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Scanned)
	assert.Equal(t, []string{good1.ID, good2.ID}, report.Succeeded)
	assert.Empty(t, report.Skipped)
	assert.Contains(t, report.Failed, broken.ID)

	// Scored batches leave the sweep scope; the broken one remains.
	report, err = h.coord.Sweep(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Scanned)
	assert.Empty(t, report.Succeeded)
	assert.Contains(t, report.Failed, broken.ID)
}

func TestSweepEmptyScope(t *testing.T) {
	h := newHarness(t)

	report, err := h.coord.Sweep(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Scanned)
	assert.Empty(t, report.Succeeded)
}
