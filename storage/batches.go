package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"procwatch/core"

	"go.uber.org/zap"
)

// BatchStorage handles the batch registry and the per-batch row tables.
type BatchStorage struct {
	db     *SQLite
	logger *zap.SugaredLogger
}

// NewBatchStorage creates a new batch storage.
func NewBatchStorage(db *SQLite, logger *zap.SugaredLogger) *BatchStorage {
	return &BatchStorage{
		db:     db,
		logger: logger,
	}
}

// ProvisionBatch allocates durable storage for a full row set: it resolves a
// unique table name from baseName, creates the typed row table, inserts every
// row and records the batch in the registry, all in one transaction, so a
// half-created table is never visible as a Batch.
func (bs *BatchStorage) ProvisionBatch(ctx context.Context, baseName, sourceName, processIdentity string, schema core.ColumnSchema, rows [][]interface{}) (*core.Batch, error) {
	if len(schema) == 0 {
		return nil, core.NewSchemaError("batch has no columns")
	}
	if len(rows) == 0 {
		return nil, core.NewSchemaError("batch has no rows")
	}

	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal column schema: %w", err)
	}

	var batch *core.Batch
	err = bs.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		tableName, err := resolveTableName(tx, baseName)
		if err != nil {
			return err
		}

		if err := createRowTable(tx, tableName, schema); err != nil {
			return err
		}
		if err := insertRows(tx, tableName, schema, rows); err != nil {
			return err
		}

		now := time.Now().UTC()
		batch = &core.Batch{
			ID:              tableName,
			TableName:       tableName,
			SourceName:      sourceName,
			ProcessIdentity: processIdentity,
			Schema:          schema,
			RowCount:        int64(len(rows)),
			IngestedAt:      now,
			Status:          core.BatchStatusIngested,
		}

		_, err = tx.Exec(`
			INSERT INTO batches (id, table_name, source_name, process_identity, column_schema, row_count, ingested_at, status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			batch.ID, batch.TableName, batch.SourceName, batch.ProcessIdentity,
			string(schemaJSON), batch.RowCount, batch.IngestedAt, string(batch.Status))
		if err != nil {
			return fmt.Errorf("failed to insert batch record: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	bs.logger.Infow("Provisioned batch",
		"batch_id", batch.ID,
		"table", batch.TableName,
		"rows", batch.RowCount,
		"process_identity", batch.ProcessIdentity)
	return batch, nil
}

// resolveTableName returns the first free name in the deterministic sequence
// base, base_2, base_3, ... Candidates are checked against sqlite_master
// rather than the registry, so a batch named after an internal table
// (batches, row_scores, ...) suffixes past it the same way a prior batch
// would.
func resolveTableName(tx *sql.Tx, baseName string) (string, error) {
	if baseName == "" {
		return "", core.NewSchemaError("empty table name")
	}

	candidate := baseName
	for suffix := 2; ; suffix++ {
		var exists int
		err := tx.QueryRow(
			"SELECT COUNT(1) FROM sqlite_master WHERE type = 'table' AND name = ?",
			candidate).Scan(&exists)
		if err != nil {
			return "", fmt.Errorf("failed to check table name %q: %w", candidate, err)
		}
		if exists == 0 {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s_%d", baseName, suffix)
		if suffix > 10000 {
			return "", core.NewSchemaError("could not disambiguate table name %q", baseName)
		}
	}
}

// GetBatch returns a batch by id.
func (bs *BatchStorage) GetBatch(ctx context.Context, batchID string) (*core.Batch, error) {
	row := bs.db.ReadDB.QueryRowContext(ctx, `
		SELECT id, table_name, source_name, process_identity, column_schema, row_count, ingested_at, status
		FROM batches WHERE id = ?`, batchID)
	return scanBatch(row)
}

// GetBatchByTable returns a batch by its table name.
func (bs *BatchStorage) GetBatchByTable(ctx context.Context, tableName string) (*core.Batch, error) {
	row := bs.db.ReadDB.QueryRowContext(ctx, `
		SELECT id, table_name, source_name, process_identity, column_schema, row_count, ingested_at, status
		FROM batches WHERE table_name = ?`, tableName)
	return scanBatch(row)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBatch(row rowScanner) (*core.Batch, error) {
	var b core.Batch
	var schemaJSON, status string
	err := row.Scan(&b.ID, &b.TableName, &b.SourceName, &b.ProcessIdentity,
		&schemaJSON, &b.RowCount, &b.IngestedAt, &status)
	if err == sql.ErrNoRows {
		return nil, ErrBatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan batch: %w", err)
	}
	if err := json.Unmarshal([]byte(schemaJSON), &b.Schema); err != nil {
		return nil, fmt.Errorf("failed to unmarshal column schema for batch %s: %w", b.ID, err)
	}
	b.Status = core.BatchStatus(status)
	return &b, nil
}

// ListBatches returns all batches ordered by ingestion time.
func (bs *BatchStorage) ListBatches(ctx context.Context) ([]core.Batch, error) {
	return bs.listBatches(ctx, `
		SELECT id, table_name, source_name, process_identity, column_schema, row_count, ingested_at, status
		FROM batches ORDER BY ingested_at, id`)
}

// ListUnscoredBatches returns the batches without a successful detection run,
// oldest first. This is the scope of a backfill sweep.
func (bs *BatchStorage) ListUnscoredBatches(ctx context.Context) ([]core.Batch, error) {
	return bs.listBatches(ctx, `
		SELECT b.id, b.table_name, b.source_name, b.process_identity, b.column_schema, b.row_count, b.ingested_at, b.status
		FROM batches b
		WHERE NOT EXISTS (
			SELECT 1 FROM detection_runs r WHERE r.batch_id = b.id AND r.outcome = 'success'
		)
		ORDER BY b.ingested_at, b.id`)
}

func (bs *BatchStorage) listBatches(ctx context.Context, query string) ([]core.Batch, error) {
	rows, err := bs.db.ReadDB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query batches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var batches []core.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, *b)
	}
	return batches, rows.Err()
}

// UpdateBatchStatusTx sets a batch's status inside an existing transaction.
func UpdateBatchStatusTx(tx *sql.Tx, batchID string, status core.BatchStatus) error {
	res, err := tx.Exec("UPDATE batches SET status = ? WHERE id = ?", string(status), batchID)
	if err != nil {
		return fmt.Errorf("failed to update batch status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check batch status update: %w", err)
	}
	if n == 0 {
		return ErrBatchNotFound
	}
	return nil
}
