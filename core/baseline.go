package core

import (
	"math"
	"time"
)

// BaselineSource indicates which statistics a batch was scored against.
type BaselineSource string

const (
	// BaselineSourceHistory means the stored cross-batch baseline was used
	BaselineSourceHistory BaselineSource = "history"
	// BaselineSourceSelf means in-batch statistics were used (cold start)
	BaselineSourceSelf BaselineSource = "self"
)

// ColumnBaseline is the running statistical reference for one
// (process identity, column) pair. Mean and M2 form a Welford aggregate so
// incorporating a new batch never re-reads history; StdDev and the control
// limits are derived after every update.
type ColumnBaseline struct {
	ProcessIdentity string    `json:"process_identity"`
	Column          string    `json:"column"`
	Mean            float64   `json:"mean"`
	M2              float64   `json:"m2"`
	StdDev          float64   `json:"standard_deviation"`
	SampleCount     int64     `json:"sample_count"`
	LowerLimit      float64   `json:"lower_control_limit"`
	UpperLimit      float64   `json:"upper_control_limit"`
	LastBatchID     string    `json:"last_updated_batch_id"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Derive recomputes StdDev and the control limits from the Welford aggregate.
// Sample variance (n-1 divisor), matching a standard control chart.
func (b *ColumnBaseline) Derive(sigma float64) {
	if b.SampleCount > 1 && b.M2 > 0 {
		b.StdDev = math.Sqrt(b.M2 / float64(b.SampleCount-1))
	} else {
		b.StdDev = 0
	}
	b.LowerLimit = b.Mean - sigma*b.StdDev
	b.UpperLimit = b.Mean + sigma*b.StdDev
}

// ColumnStats is the frozen per-column view inside a baseline snapshot. M2
// is carried so self-sourced snapshots can exclude the row under evaluation
// from its own reference statistics.
type ColumnStats struct {
	Mean        float64 `json:"mean"`
	M2          float64 `json:"m2"`
	StdDev      float64 `json:"standard_deviation"`
	SampleCount int64   `json:"sample_count"`
	LowerLimit  float64 `json:"lower_control_limit"`
	UpperLimit  float64 `json:"upper_control_limit"`
}

// BaselineSnapshot is an immutable copy of the baseline state for one process
// identity, taken before a batch is scored. Scoring is a pure function of the
// batch rows and a snapshot; the engines never reach back into shared state
// mid-computation.
type BaselineSnapshot struct {
	ProcessIdentity string                 `json:"process_identity"`
	Source          BaselineSource         `json:"source"`
	Sigma           float64                `json:"sigma"`
	Columns         map[string]ColumnStats `json:"columns"`
}

// Stats returns the frozen statistics for a column, if the snapshot has them.
func (s *BaselineSnapshot) Stats(column string) (ColumnStats, bool) {
	stats, ok := s.Columns[column]
	return stats, ok
}
