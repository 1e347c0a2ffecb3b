// Package storage persists every durable artifact of the pipeline in one
// SQLite database: the batch registry, the dynamic per-batch row tables, the
// column baselines, the row scores and the detection run records. Keeping
// them in a single database is what makes the scores-plus-baseline commit a
// plain transaction.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLite holds the database connection pools. WAL mode allows concurrent
// readers alongside a single writer, so reads and writes get separate pools.
type SQLite struct {
	WriteDB *sql.DB // single-connection pool, WAL single writer
	ReadDB  *sql.DB // concurrent read pool, query_only enforced
	Path    string
	Logger  *zap.SugaredLogger
}

// configureConnection applies the standard pragmas to a pool: WAL journal,
// foreign keys, busy timeout.
func configureConnection(db *sql.DB, dbPath string) error {
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	var fkEnabled int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fkEnabled); err != nil {
		return fmt.Errorf("failed to verify foreign keys: %w", err)
	}
	if fkEnabled != 1 {
		return fmt.Errorf("foreign keys not enabled (got %d)", fkEnabled)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	// In-memory databases report "memory" journal mode, not "wal"
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to query journal mode: %w", err)
	}
	if dbPath != ":memory:" && journalMode != "wal" {
		return fmt.Errorf("WAL mode not enabled (got %q)", journalMode)
	}

	return nil
}

// NewSQLite opens the database at dbPath, configures both pools and ensures
// the registry schema exists.
func NewSQLite(dbPath string, logger *zap.SugaredLogger) (*SQLite, error) {
	if err := validateDatabasePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	if dir := filepath.Dir(dbPath); dir != "." && dir != "" && dbPath != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// Two sql.Open(":memory:") calls create two separate databases; shared
	// cache makes both pools see the same one.
	actualPath := dbPath
	if dbPath == ":memory:" {
		actualPath = "file::memory:?cache=shared"
	}

	writeDB, err := sql.Open("sqlite", actualPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite write database: %w", err)
	}
	if err := configureConnection(writeDB, dbPath); err != nil {
		_ = writeDB.Close()
		return nil, fmt.Errorf("failed to configure write connection: %w", err)
	}
	writeDB.SetMaxOpenConns(1)
	writeDB.SetMaxIdleConns(1)
	writeDB.SetConnMaxLifetime(0)
	writeDB.SetConnMaxIdleTime(10 * time.Minute)

	readDB, err := sql.Open("sqlite", actualPath)
	if err != nil {
		_ = writeDB.Close()
		return nil, fmt.Errorf("failed to open SQLite read database: %w", err)
	}
	if err := configureConnection(readDB, dbPath); err != nil {
		_ = writeDB.Close()
		_ = readDB.Close()
		return nil, fmt.Errorf("failed to configure read connection: %w", err)
	}
	if _, err := readDB.Exec("PRAGMA query_only=ON"); err != nil {
		_ = writeDB.Close()
		_ = readDB.Close()
		return nil, fmt.Errorf("failed to enable query_only mode on read pool: %w", err)
	}
	readDB.SetMaxOpenConns(10)
	readDB.SetMaxIdleConns(5)
	readDB.SetConnMaxLifetime(5 * time.Minute)
	readDB.SetConnMaxIdleTime(10 * time.Minute)

	s := &SQLite{
		WriteDB: writeDB,
		ReadDB:  readDB,
		Path:    dbPath,
		Logger:  logger,
	}

	if err := s.createTables(); err != nil {
		_ = writeDB.Close()
		_ = readDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Infow("SQLite database initialized", "path", dbPath)
	return s, nil
}

// WithTransaction executes fn inside a write transaction, rolling back on
// error or panic. Every multi-statement invariant in the pipeline (batch
// provisioning, the scores-plus-baseline run commit) goes through here.
func (s *SQLite) WithTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.WriteDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("failed to rollback transaction (original error: %w, rollback error: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// createTables creates the registry tables. Per-batch row tables are created
// dynamically at ingest time (see rowstore.go).
func (s *SQLite) createTables() error {
	schema := `
	-- Batch registry: one row per ingested CSV
	CREATE TABLE IF NOT EXISTS batches (
		id TEXT PRIMARY KEY,
		table_name TEXT NOT NULL UNIQUE,
		source_name TEXT NOT NULL,
		process_identity TEXT NOT NULL,
		column_schema TEXT NOT NULL, -- JSON ordered column list
		row_count INTEGER NOT NULL,
		ingested_at TIMESTAMP NOT NULL,
		status TEXT NOT NULL DEFAULT 'ingested'
	);
	CREATE INDEX IF NOT EXISTS idx_batches_process ON batches(process_identity);
	CREATE INDEX IF NOT EXISTS idx_batches_status ON batches(status);

	-- Welford aggregates per (process identity, column)
	CREATE TABLE IF NOT EXISTS column_baselines (
		process_identity TEXT NOT NULL,
		column_name TEXT NOT NULL,
		mean REAL NOT NULL,
		m2 REAL NOT NULL,
		std_dev REAL NOT NULL,
		sample_count INTEGER NOT NULL,
		lower_limit REAL NOT NULL,
		upper_limit REAL NOT NULL,
		last_batch_id TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (process_identity, column_name)
	);

	-- Row scores, keyed by table_name so the dashboard can join on it alone
	CREATE TABLE IF NOT EXISTS row_scores (
		table_name TEXT NOT NULL,
		row_index INTEGER NOT NULL,
		deviations TEXT NOT NULL, -- JSON column -> z-score
		is_anomaly INTEGER NOT NULL,
		anomaly_columns TEXT NOT NULL, -- JSON array
		composite_score REAL NOT NULL,
		severity TEXT NOT NULL,
		PRIMARY KEY (table_name, row_index)
	);

	-- One record per scoring attempt
	CREATE TABLE IF NOT EXISTS detection_runs (
		id TEXT PRIMARY KEY,
		batch_id TEXT NOT NULL REFERENCES batches(id),
		run_trigger TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP,
		outcome TEXT NOT NULL,
		error TEXT,
		baseline_source TEXT,
		rows_scored INTEGER NOT NULL DEFAULT 0,
		anomaly_count INTEGER NOT NULL DEFAULT 0,
		max_composite REAL NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_runs_batch ON detection_runs(batch_id);
	CREATE INDEX IF NOT EXISTS idx_runs_outcome ON detection_runs(outcome);
	`

	if _, err := s.WriteDB.Exec(schema); err != nil {
		return fmt.Errorf("failed to create registry schema: %w", err)
	}
	return nil
}

// Close closes both connection pools.
func (s *SQLite) Close() error {
	var firstErr error
	if err := s.WriteDB.Close(); err != nil {
		firstErr = fmt.Errorf("failed to close write pool: %w", err)
	}
	if err := s.ReadDB.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to close read pool: %w", err)
	}
	return firstErr
}

// HealthCheck verifies both pools respond.
func (s *SQLite) HealthCheck(ctx context.Context) error {
	if err := s.WriteDB.PingContext(ctx); err != nil {
		return fmt.Errorf("write pool unhealthy: %w", err)
	}
	if err := s.ReadDB.PingContext(ctx); err != nil {
		return fmt.Errorf("read pool unhealthy: %w", err)
	}
	return nil
}

// validateDatabasePath rejects paths that could escape the working directory
// or hit special files. :memory: and temp directories (tests) are allowed.
func validateDatabasePath(dbPath string) error {
	if dbPath == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if dbPath == ":memory:" {
		return nil
	}
	if len(dbPath) > 512 {
		return fmt.Errorf("database path exceeds maximum length of 512 characters")
	}
	if strings.Contains(dbPath, "..") {
		return fmt.Errorf("path traversal not allowed (..): %s", dbPath)
	}
	if strings.Contains(dbPath, "\x00") {
		return fmt.Errorf("null bytes not allowed in path")
	}
	if filepath.IsAbs(dbPath) && !strings.Contains(dbPath, os.TempDir()) {
		return fmt.Errorf("absolute paths not allowed: %s", dbPath)
	}
	return nil
}
