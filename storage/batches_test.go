package storage

import (
	"context"
	"database/sql"
	"testing"

	"procwatch/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newBatchStorage(t *testing.T) (*BatchStorage, *SQLite) {
	t.Helper()
	db := newTestDB(t)
	return NewBatchStorage(db, zap.NewNop().Sugar()), db
}

func TestProvisionBatch(t *testing.T) {
	bs, db := newBatchStorage(t)
	ctx := context.Background()

	batch, err := bs.ProvisionBatch(ctx, "morning_run", "morning_run.csv", "p_abc",
		testSchema(), testRows([2]float64{10, 1}, [2]float64{11, 2}))
	require.NoError(t, err)

	assert.Equal(t, "morning_run", batch.TableName)
	assert.Equal(t, batch.TableName, batch.ID)
	assert.Equal(t, int64(2), batch.RowCount)
	assert.Equal(t, core.BatchStatusIngested, batch.Status)

	// Row table exists and holds the rows.
	var n int
	require.NoError(t, db.WriteDB.QueryRow("SELECT COUNT(1) FROM morning_run").Scan(&n))
	assert.Equal(t, 2, n)

	got, err := bs.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, batch.TableName, got.TableName)
	assert.Equal(t, "p_abc", got.ProcessIdentity)
	require.Len(t, got.Schema, 3)
	assert.Equal(t, "Temperature", got.Schema[0].SourceName)
}

func TestProvisionBatchDisambiguatesTableName(t *testing.T) {
	bs, _ := newBatchStorage(t)
	ctx := context.Background()

	names := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		batch, err := bs.ProvisionBatch(ctx, "daily", "daily.csv", "p_abc",
			testSchema(), testRows([2]float64{10, 1}))
		require.NoError(t, err)
		names = append(names, batch.TableName)
	}

	assert.Equal(t, []string{"daily", "daily_2", "daily_3"}, names)
}

func TestProvisionBatchSuffixesPastInternalTables(t *testing.T) {
	bs, db := newBatchStorage(t)
	ctx := context.Background()

	// A batch named after an internal table gets the same deterministic
	// suffix treatment as one colliding with a prior batch.
	for _, reserved := range []string{"batches", "row_scores", "column_baselines", "detection_runs"} {
		batch, err := bs.ProvisionBatch(ctx, reserved, reserved+".csv", "p_abc",
			testSchema(), testRows([2]float64{10, 1}))
		require.NoError(t, err)
		assert.Equal(t, reserved+"_2", batch.TableName)

		var n int
		require.NoError(t, db.WriteDB.QueryRow("SELECT COUNT(1) FROM "+batch.TableName).Scan(&n))
		assert.Equal(t, 1, n)
	}
}

func TestProvisionBatchRejectsEmptyInput(t *testing.T) {
	bs, _ := newBatchStorage(t)
	ctx := context.Background()

	var schemaErr *core.SchemaError

	_, err := bs.ProvisionBatch(ctx, "b", "b.csv", "p", core.ColumnSchema{}, testRows([2]float64{1, 2}))
	require.Error(t, err)
	assert.ErrorAs(t, err, &schemaErr)

	_, err = bs.ProvisionBatch(ctx, "b", "b.csv", "p", testSchema(), nil)
	require.Error(t, err)
	assert.ErrorAs(t, err, &schemaErr)
}

func TestProvisionBatchRejectsUnsafeName(t *testing.T) {
	bs, db := newBatchStorage(t)
	ctx := context.Background()

	_, err := bs.ProvisionBatch(ctx, "bad;name", "x", "p", testSchema(), testRows([2]float64{1, 2}))
	require.Error(t, err)

	// Nothing half-created: the registry is still empty.
	var n int
	require.NoError(t, db.WriteDB.QueryRow("SELECT COUNT(1) FROM batches").Scan(&n))
	assert.Equal(t, 0, n)
}

func TestGetBatchNotFound(t *testing.T) {
	bs, _ := newBatchStorage(t)

	_, err := bs.GetBatch(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrBatchNotFound)

	_, err = bs.GetBatchByTable(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrBatchNotFound)
}

func TestListUnscoredBatches(t *testing.T) {
	bs, db := newBatchStorage(t)
	runs := NewRunStorage(db, zap.NewNop().Sugar())
	ctx := context.Background()

	first, err := bs.ProvisionBatch(ctx, "one", "one.csv", "p", testSchema(), testRows([2]float64{1, 2}))
	require.NoError(t, err)
	second, err := bs.ProvisionBatch(ctx, "two", "two.csv", "p", testSchema(), testRows([2]float64{3, 4}))
	require.NoError(t, err)

	unscored, err := bs.ListUnscoredBatches(ctx)
	require.NoError(t, err)
	require.Len(t, unscored, 2)

	// A successful run removes a batch from the sweep scope.
	run := newTestRun(first.ID)
	require.NoError(t, runs.CreateRun(ctx, run))
	run.Outcome = core.RunSuccess
	require.NoError(t, db.WithTransaction(ctx, func(tx *sql.Tx) error { return FinishRunTx(tx, run) }))

	unscored, err = bs.ListUnscoredBatches(ctx)
	require.NoError(t, err)
	require.Len(t, unscored, 1)
	assert.Equal(t, second.ID, unscored[0].ID)

	// A failed run does not.
	failedRun := newTestRun(second.ID)
	require.NoError(t, runs.CreateRun(ctx, failedRun))
	require.NoError(t, runs.FailRun(ctx, failedRun.ID, "scoring failed"))

	unscored, err = bs.ListUnscoredBatches(ctx)
	require.NoError(t, err)
	assert.Len(t, unscored, 1)
}

func TestUpdateBatchStatusTx(t *testing.T) {
	bs, db := newBatchStorage(t)
	ctx := context.Background()

	batch, err := bs.ProvisionBatch(ctx, "b", "b.csv", "p", testSchema(), testRows([2]float64{1, 2}))
	require.NoError(t, err)

	err = db.WithTransaction(ctx, func(tx *sql.Tx) error {
		return UpdateBatchStatusTx(tx, batch.ID, core.BatchStatusScored)
	})
	require.NoError(t, err)

	got, err := bs.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, core.BatchStatusScored, got.Status)

	err = db.WithTransaction(ctx, func(tx *sql.Tx) error {
		return UpdateBatchStatusTx(tx, "missing", core.BatchStatusScored)
	})
	assert.ErrorIs(t, err, ErrBatchNotFound)
}

func TestLoadNumericRows(t *testing.T) {
	bs, _ := newBatchStorage(t)
	ctx := context.Background()

	rows := [][]interface{}{
		{10.5, 1.0, "line_a"},
		{nil, 2.0, "line_b"},
	}
	batch, err := bs.ProvisionBatch(ctx, "m", "m.csv", "p", testSchema(), rows)
	require.NoError(t, err)

	numeric, err := bs.LoadNumericRows(ctx, batch)
	require.NoError(t, err)
	require.Len(t, numeric, 2)

	assert.Equal(t, int64(0), numeric[0].Index)
	assert.Equal(t, map[string]float64{"temperature": 10.5, "pressure": 1.0}, numeric[0].Values)

	// NULL temperature is omitted, not zero.
	assert.Equal(t, map[string]float64{"pressure": 2.0}, numeric[1].Values)
}
