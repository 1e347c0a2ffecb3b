package storage

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"procwatch/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestDB(t *testing.T) *SQLite {
	t.Helper()
	db, err := NewSQLite(":memory:", zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestNewSQLiteCreatesSchema(t *testing.T) {
	db := newTestDB(t)

	for _, table := range []string{"batches", "column_baselines", "row_scores", "detection_runs"} {
		var n int
		err := db.WriteDB.QueryRow(
			"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&n)
		require.NoError(t, err)
		assert.Equal(t, 1, n, "table %s", table)
	}
}

func TestWithTransactionRollsBackOnError(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	err := db.WithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO batches (id, table_name, source_name, process_identity, column_schema, row_count, ingested_at, status)
			VALUES ('b1', 'b1', 's', 'p', '[]', 1, CURRENT_TIMESTAMP, 'ingested')`)
		require.NoError(t, err)
		return errors.New("boom")
	})
	require.Error(t, err)

	var n int
	require.NoError(t, db.WriteDB.QueryRow("SELECT COUNT(1) FROM batches").Scan(&n))
	assert.Equal(t, 0, n)
}

func TestWithTransactionCommits(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	err := db.WithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO batches (id, table_name, source_name, process_identity, column_schema, row_count, ingested_at, status)
			VALUES ('b1', 'b1', 's', 'p', '[]', 1, CURRENT_TIMESTAMP, 'ingested')`)
		return err
	})
	require.NoError(t, err)

	var n int
	require.NoError(t, db.WriteDB.QueryRow("SELECT COUNT(1) FROM batches").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestHealthCheck(t *testing.T) {
	db := newTestDB(t)
	assert.NoError(t, db.HealthCheck(context.Background()))
}

func TestValidateDatabasePath(t *testing.T) {
	assert.NoError(t, validateDatabasePath(":memory:"))
	assert.NoError(t, validateDatabasePath("data/procwatch.db"))
	assert.Error(t, validateDatabasePath(""))
	assert.Error(t, validateDatabasePath("../escape.db"))
}

// testSchema is a minimal layout with two numeric columns and one text column.
func testSchema() core.ColumnSchema {
	return core.ColumnSchema{
		{Name: "temperature", SourceName: "Temperature", Type: core.ColumnTypeFloat},
		{Name: "pressure", SourceName: "Pressure", Type: core.ColumnTypeFloat},
		{Name: "station", SourceName: "Station", Type: core.ColumnTypeText},
	}
}

func testRows(values ...[2]float64) [][]interface{} {
	rows := make([][]interface{}, 0, len(values))
	for _, v := range values {
		rows = append(rows, []interface{}{v[0], v[1], "line_a"})
	}
	return rows
}
