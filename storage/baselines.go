package storage

import (
	"context"
	"database/sql"
	"fmt"

	"procwatch/core"

	"go.uber.org/zap"
)

// BaselineStorage persists the Welford aggregates per
// (process identity, column).
type BaselineStorage struct {
	db     *SQLite
	logger *zap.SugaredLogger
}

// NewBaselineStorage creates a new baseline storage.
func NewBaselineStorage(db *SQLite, logger *zap.SugaredLogger) *BaselineStorage {
	return &BaselineStorage{
		db:     db,
		logger: logger,
	}
}

// GetBaselines returns all column baselines for a process identity. An
// identity with no history yields an empty slice, not an error.
func (s *BaselineStorage) GetBaselines(ctx context.Context, processIdentity string) ([]core.ColumnBaseline, error) {
	rows, err := s.db.ReadDB.QueryContext(ctx, `
		SELECT process_identity, column_name, mean, m2, std_dev, sample_count,
		       lower_limit, upper_limit, last_batch_id, updated_at
		FROM column_baselines
		WHERE process_identity = ?
		ORDER BY column_name`, processIdentity)
	if err != nil {
		return nil, fmt.Errorf("failed to query baselines for %s: %w", processIdentity, err)
	}
	defer func() { _ = rows.Close() }()

	var baselines []core.ColumnBaseline
	for rows.Next() {
		var b core.ColumnBaseline
		err := rows.Scan(&b.ProcessIdentity, &b.Column, &b.Mean, &b.M2, &b.StdDev,
			&b.SampleCount, &b.LowerLimit, &b.UpperLimit, &b.LastBatchID, &b.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan baseline: %w", err)
		}
		baselines = append(baselines, b)
	}
	return baselines, rows.Err()
}

// GetBaselinesTx reads the baselines for a process identity inside an
// existing transaction. The run commit reads and rewrites the aggregate in
// the same transaction, so concurrent commits for one identity can never
// interleave a lost update.
func GetBaselinesTx(tx *sql.Tx, processIdentity string) ([]core.ColumnBaseline, error) {
	rows, err := tx.Query(`
		SELECT process_identity, column_name, mean, m2, std_dev, sample_count,
		       lower_limit, upper_limit, last_batch_id, updated_at
		FROM column_baselines
		WHERE process_identity = ?
		ORDER BY column_name`, processIdentity)
	if err != nil {
		return nil, fmt.Errorf("failed to query baselines for %s: %w", processIdentity, err)
	}
	defer func() { _ = rows.Close() }()

	var baselines []core.ColumnBaseline
	for rows.Next() {
		var b core.ColumnBaseline
		err := rows.Scan(&b.ProcessIdentity, &b.Column, &b.Mean, &b.M2, &b.StdDev,
			&b.SampleCount, &b.LowerLimit, &b.UpperLimit, &b.LastBatchID, &b.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan baseline: %w", err)
		}
		baselines = append(baselines, b)
	}
	return baselines, rows.Err()
}

// UpsertBaselineTx writes one column baseline inside an existing transaction.
// Called only from the run commit, so a failed run never advances a baseline.
func UpsertBaselineTx(tx *sql.Tx, b *core.ColumnBaseline) error {
	_, err := tx.Exec(`
		INSERT INTO column_baselines
			(process_identity, column_name, mean, m2, std_dev, sample_count,
			 lower_limit, upper_limit, last_batch_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(process_identity, column_name) DO UPDATE SET
			mean = excluded.mean,
			m2 = excluded.m2,
			std_dev = excluded.std_dev,
			sample_count = excluded.sample_count,
			lower_limit = excluded.lower_limit,
			upper_limit = excluded.upper_limit,
			last_batch_id = excluded.last_batch_id,
			updated_at = excluded.updated_at`,
		b.ProcessIdentity, b.Column, b.Mean, b.M2, b.StdDev, b.SampleCount,
		b.LowerLimit, b.UpperLimit, b.LastBatchID, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert baseline %s/%s: %w", b.ProcessIdentity, b.Column, err)
	}
	return nil
}

// DeleteBaselinesTx removes all baselines for a process identity. Used by
// the explicit rebuild operation before recomputing from scored history.
func DeleteBaselinesTx(tx *sql.Tx, processIdentity string) error {
	if _, err := tx.Exec("DELETE FROM column_baselines WHERE process_identity = ?", processIdentity); err != nil {
		return fmt.Errorf("failed to delete baselines for %s: %w", processIdentity, err)
	}
	return nil
}
