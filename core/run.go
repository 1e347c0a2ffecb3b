package core

import "time"

// RunTrigger identifies what started a detection run.
type RunTrigger string

const (
	// TriggerUpload is a run started by batch ingestion
	TriggerUpload RunTrigger = "upload"
	// TriggerManualBackfill is a run started by an explicit rescore request
	TriggerManualBackfill RunTrigger = "manual_backfill"
)

// IsValid checks if the trigger is valid.
func (t RunTrigger) IsValid() bool {
	return t == TriggerUpload || t == TriggerManualBackfill
}

// RunOutcome is the state of a detection run.
type RunOutcome string

const (
	// RunInProgress is a run that has started but not reached a terminal state
	RunInProgress RunOutcome = "in_progress"
	// RunSuccess is a run whose scores and baseline update both committed
	RunSuccess RunOutcome = "success"
	// RunFailed is a run that errored; nothing it wrote is visible
	RunFailed RunOutcome = "failed"
)

// Terminal reports whether the outcome is a final state.
func (o RunOutcome) Terminal() bool {
	return o == RunSuccess || o == RunFailed
}

// DetectionRun records one scoring attempt on a batch. The terminal outcome
// is set exactly once. A run left in_progress by a crashed process is never
// reaped automatically; a forced backfill supersedes it.
type DetectionRun struct {
	ID             string         `json:"run_id"`
	BatchID        string         `json:"batch_id"`
	Trigger        RunTrigger     `json:"trigger"`
	StartedAt      time.Time      `json:"started_at"`
	FinishedAt     *time.Time     `json:"finished_at,omitempty"`
	Outcome        RunOutcome     `json:"outcome"`
	Error          string         `json:"error,omitempty"`
	BaselineSource BaselineSource `json:"baseline_source,omitempty"`
	RowsScored     int64          `json:"rows_scored"`
	AnomalyCount   int64          `json:"anomaly_count"`
	MaxComposite   float64        `json:"max_composite"`
}
