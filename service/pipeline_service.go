// Package service exposes the two operation contracts the external
// collaborators call: ingest-and-score a new batch, and re-score
// ("backfill") existing batches. Everything behind these contracts (schema
// inference, storage provisioning, baseline maintenance, scoring and run
// coordination) is composed here.
package service

import (
	"context"
	"errors"
	"fmt"

	"procwatch/baseline"
	"procwatch/core"
	"procwatch/ingest"
	"procwatch/metrics"
	"procwatch/runner"
	"procwatch/storage"
	"procwatch/util"

	"go.uber.org/zap"
)

const (
	// maxUploadBytes bounds one CSV payload
	maxUploadBytes = 64 << 20
)

// RescoreAllTarget is the Rescore target meaning "all previously ingested
// batches without a successful run".
const RescoreAllTarget = "all-unscored"

// IngestResult is the response of a successful ingest-and-score.
type IngestResult struct {
	BatchID   string `json:"batch_id"`
	TableName string `json:"table_name"`
	RowCount  int64  `json:"row_count"`
}

// RunReport summarizes one re-score of a single batch.
type RunReport struct {
	BatchID        string              `json:"batch_id"`
	RunID          string              `json:"run_id"`
	Outcome        core.RunOutcome     `json:"outcome"`
	RowsScored     int64               `json:"rows_scored"`
	AnomalyCount   int64               `json:"anomaly_count"`
	MaxComposite   float64             `json:"max_composite"`
	BaselineSource core.BaselineSource `json:"baseline_source,omitempty"`
	Error          string              `json:"error,omitempty"`
}

// PipelineService is the core's public surface.
type PipelineService struct {
	batches     *storage.BatchStorage
	scores      *storage.ScoreStorage
	coordinator *runner.Coordinator
	hints       *ingest.SchemaHints
	logger      *zap.SugaredLogger
}

// NewPipelineService creates the pipeline service. hints may be nil to use
// the built-in schema hints.
func NewPipelineService(batches *storage.BatchStorage, scores *storage.ScoreStorage,
	coordinator *runner.Coordinator, hints *ingest.SchemaHints, logger *zap.SugaredLogger) *PipelineService {
	if hints == nil {
		hints = ingest.DefaultSchemaHints()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &PipelineService{
		batches:     batches,
		scores:      scores,
		coordinator: coordinator,
		hints:       hints,
		logger:      logger,
	}
}

// IngestOptions tweak a single ingest call.
type IngestOptions struct {
	// ProcessIdentity overrides the schema-fingerprint default, grouping
	// this batch with an explicitly named process.
	ProcessIdentity string
}

// IngestAndScore provisions storage for a raw CSV batch and scores it
// synchronously. Returns a SchemaError for unusable input and a
// ScoringError when the detection run fails; in the latter case the batch
// remains ingested and can be picked up by a backfill.
func (s *PipelineService) IngestAndScore(ctx context.Context, raw []byte, suggestedName string, opts *IngestOptions) (*IngestResult, error) {
	if len(raw) > maxUploadBytes {
		return nil, core.NewSchemaError("payload exceeds %d bytes", maxUploadBytes)
	}

	parsed, err := ingest.ParseCSV(raw)
	if err != nil {
		return nil, err
	}

	schema, err := ingest.InferSchema(parsed, s.hints)
	if err != nil {
		return nil, err
	}

	typed, err := ingest.ConvertRows(parsed, schema)
	if err != nil {
		return nil, err
	}

	identity := baseline.IdentityFor(schema)
	if opts != nil && opts.ProcessIdentity != "" {
		identity = util.SanitizeIdentifier(opts.ProcessIdentity)
	}

	baseName := util.SanitizeIdentifier(suggestedName)
	batch, err := s.batches.ProvisionBatch(ctx, baseName, suggestedName, identity, schema, typed)
	if err != nil {
		return nil, err
	}
	metrics.BatchesIngested.Inc()

	if _, err := s.coordinator.RunBatch(ctx, batch, core.TriggerUpload, false); err != nil {
		return nil, err
	}

	return &IngestResult{
		BatchID:   batch.ID,
		TableName: batch.TableName,
		RowCount:  batch.RowCount,
	}, nil
}

// Rescore re-runs detection for one batch (manual backfill). force
// supersedes a run left in_progress by a crashed process.
func (s *PipelineService) Rescore(ctx context.Context, batchID string, force bool) (*RunReport, error) {
	batch, err := s.batches.GetBatch(ctx, batchID)
	if err != nil {
		if errors.Is(err, storage.ErrBatchNotFound) {
			return nil, fmt.Errorf("batch %q: %w", batchID, err)
		}
		return nil, err
	}

	run, err := s.coordinator.RunBatch(ctx, batch, core.TriggerManualBackfill, force)
	if err != nil {
		var concurrencyErr *core.ConcurrencyError
		if errors.As(err, &concurrencyErr) {
			return nil, err
		}
		if run != nil {
			return reportFor(run), err
		}
		return nil, err
	}
	return reportFor(run), nil
}

// RescoreAll sweeps every batch without a successful run. Per-batch failures
// land in the report; the sweep itself only errors on context cancellation.
func (s *PipelineService) RescoreAll(ctx context.Context, force bool) (*runner.SweepReport, error) {
	return s.coordinator.Sweep(ctx, force)
}

// RebuildBaseline discards and recomputes the stored baselines for a process
// identity from its scored batches. Recovery tool for a baseline suspected
// of drift; normal operation maintains the aggregate incrementally.
func (s *PipelineService) RebuildBaseline(ctx context.Context, processIdentity string) error {
	if !util.IsSafeIdentifier(processIdentity) {
		return core.NewSchemaError("invalid process identity %q", processIdentity)
	}
	return s.coordinator.RebuildBaseline(ctx, processIdentity)
}

// Results returns the committed row scores for a table name, the only
// identifier the external dashboard has.
func (s *PipelineService) Results(ctx context.Context, tableName string) ([]core.RowScore, error) {
	if !util.IsSafeIdentifier(tableName) {
		return nil, core.NewSchemaError("invalid table name %q", tableName)
	}
	if _, err := s.batches.GetBatchByTable(ctx, tableName); err != nil {
		return nil, err
	}
	return s.scores.GetScores(ctx, tableName)
}

func reportFor(run *core.DetectionRun) *RunReport {
	return &RunReport{
		BatchID:        run.BatchID,
		RunID:          run.ID,
		Outcome:        run.Outcome,
		RowsScored:     run.RowsScored,
		AnomalyCount:   run.AnomalyCount,
		MaxComposite:   run.MaxComposite,
		BaselineSource: run.BaselineSource,
		Error:          run.Error,
	}
}
