package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"procwatch/core"

	"go.uber.org/zap"
)

// ScoreStorage persists row scores in a companion table keyed by table_name,
// which is the only identifier the external dashboard has.
type ScoreStorage struct {
	db     *SQLite
	logger *zap.SugaredLogger
}

// NewScoreStorage creates a new score storage.
func NewScoreStorage(db *SQLite, logger *zap.SugaredLogger) *ScoreStorage {
	return &ScoreStorage{
		db:     db,
		logger: logger,
	}
}

// ReplaceScoresTx deletes the prior score set for a table and inserts the new
// one, inside an existing transaction. Replace, not append: the old scores
// are never visible alongside the new ones.
func ReplaceScoresTx(tx *sql.Tx, tableName string, scores []core.RowScore) error {
	if _, err := tx.Exec("DELETE FROM row_scores WHERE table_name = ?", tableName); err != nil {
		return fmt.Errorf("failed to clear prior scores for %s: %w", tableName, err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO row_scores (table_name, row_index, deviations, is_anomaly, anomaly_columns, composite_score, severity)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare score insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, s := range scores {
		deviations, err := json.Marshal(s.Deviations)
		if err != nil {
			return fmt.Errorf("failed to marshal deviations for row %d: %w", s.RowIndex, err)
		}
		anomalyCols := s.AnomalyColumns
		if anomalyCols == nil {
			anomalyCols = []string{}
		}
		colsJSON, err := json.Marshal(anomalyCols)
		if err != nil {
			return fmt.Errorf("failed to marshal anomaly columns for row %d: %w", s.RowIndex, err)
		}

		isAnomaly := 0
		if s.IsAnomaly {
			isAnomaly = 1
		}
		_, err = stmt.Exec(tableName, s.RowIndex, string(deviations), isAnomaly,
			string(colsJSON), s.CompositeScore, string(s.Severity))
		if err != nil {
			return fmt.Errorf("failed to insert score for row %d of %s: %w", s.RowIndex, tableName, err)
		}
	}
	return nil
}

// GetScores returns the row scores for a table in row order.
func (s *ScoreStorage) GetScores(ctx context.Context, tableName string) ([]core.RowScore, error) {
	rows, err := s.db.ReadDB.QueryContext(ctx, `
		SELECT table_name, row_index, deviations, is_anomaly, anomaly_columns, composite_score, severity
		FROM row_scores
		WHERE table_name = ?
		ORDER BY row_index`, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to query scores for %s: %w", tableName, err)
	}
	defer func() { _ = rows.Close() }()

	var scores []core.RowScore
	for rows.Next() {
		var rs core.RowScore
		var deviationsJSON, colsJSON, severity string
		var isAnomaly int
		err := rows.Scan(&rs.TableName, &rs.RowIndex, &deviationsJSON, &isAnomaly,
			&colsJSON, &rs.CompositeScore, &severity)
		if err != nil {
			return nil, fmt.Errorf("failed to scan score: %w", err)
		}
		if err := json.Unmarshal([]byte(deviationsJSON), &rs.Deviations); err != nil {
			return nil, fmt.Errorf("failed to unmarshal deviations for row %d: %w", rs.RowIndex, err)
		}
		if err := json.Unmarshal([]byte(colsJSON), &rs.AnomalyColumns); err != nil {
			return nil, fmt.Errorf("failed to unmarshal anomaly columns for row %d: %w", rs.RowIndex, err)
		}
		rs.IsAnomaly = isAnomaly == 1
		rs.Severity = core.Severity(severity)
		scores = append(scores, rs)
	}
	return scores, rows.Err()
}

// CountScores returns how many score rows exist for a table.
func (s *ScoreStorage) CountScores(ctx context.Context, tableName string) (int64, error) {
	var n int64
	err := s.db.ReadDB.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM row_scores WHERE table_name = ?", tableName).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count scores for %s: %w", tableName, err)
	}
	return n, nil
}
