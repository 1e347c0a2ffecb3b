// Package scoring evaluates batch rows against a baseline snapshot. Scoring
// is a pure function of its inputs: the same rows and the same snapshot
// always produce the same scores, so a sequence can be re-iterated or a
// batch re-scored at any time without hidden state.
package scoring

import (
	"iter"
	"math"
	"sort"

	"procwatch/core"

	"go.uber.org/zap"
)

// Config holds configuration for the scoring engine.
type Config struct {
	Logger *zap.SugaredLogger
}

// Engine scores rows against baseline snapshots.
type Engine struct {
	logger *zap.SugaredLogger
}

// NewEngine creates a new scoring engine.
func NewEngine(config *Config) *Engine {
	if config == nil {
		config = &Config{}
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop().Sugar()
	}
	return &Engine{logger: config.Logger}
}

// Score returns a lazy sequence of row scores for the batch. The sequence is
// finite and restartable: ranging over it twice yields identical output.
// Only columns present in the snapshot are scored; missing values in a row
// are skipped, and a row with no scoreable values gets composite 0. Against
// a self-sourced snapshot each row is evaluated with its own value excluded
// from the reference statistics.
func (e *Engine) Score(tableName string, rows []core.NumericRow, snap *core.BaselineSnapshot) iter.Seq[core.RowScore] {
	columns := sortedColumns(snap)

	return func(yield func(core.RowScore) bool) {
		for _, row := range rows {
			if !yield(scoreRow(tableName, row, snap, columns)) {
				return
			}
		}
	}
}

// ScoreAll materializes the full score set for a batch.
func (e *Engine) ScoreAll(tableName string, rows []core.NumericRow, snap *core.BaselineSnapshot) []core.RowScore {
	scores := make([]core.RowScore, 0, len(rows))
	for s := range e.Score(tableName, rows, snap) {
		scores = append(scores, s)
	}
	return scores
}

// sortedColumns fixes the column evaluation order so anomaly_columns comes
// out identical on every run.
func sortedColumns(snap *core.BaselineSnapshot) []string {
	columns := make([]string, 0, len(snap.Columns))
	for name := range snap.Columns {
		columns = append(columns, name)
	}
	sort.Strings(columns)
	return columns
}

func scoreRow(tableName string, row core.NumericRow, snap *core.BaselineSnapshot, columns []string) core.RowScore {
	score := core.RowScore{
		TableName:  tableName,
		RowIndex:   row.Index,
		Deviations: make(map[string]float64),
		Severity:   core.SeverityGreen,
	}

	sentinelHit := false
	for _, name := range columns {
		value, ok := row.Values[name]
		if !ok {
			continue
		}
		stats := snap.Columns[name]
		if snap.Source == core.BaselineSourceSelf {
			stats = excludeValue(stats, value, snap.Sigma)
		}

		dev, anomalous, sentinel := deviation(stats, value, snap.Sigma)
		score.Deviations[name] = dev
		if sentinel {
			sentinelHit = true
		}
		if anomalous {
			score.IsAnomaly = true
			score.AnomalyColumns = append(score.AnomalyColumns, name)
		}
		if abs := math.Abs(dev); abs > score.CompositeScore {
			score.CompositeScore = abs
		}
	}

	if score.IsAnomaly {
		score.Severity = core.SeverityAmber
		if sentinelHit || score.CompositeScore >= 2*snap.Sigma {
			score.Severity = core.SeverityRed
		}
	}
	return score
}

// deviation computes the z-score of a value against frozen column stats.
// A zero-variance baseline cannot produce a z-score; an equal value scores 0
// and any other value gets the sentinel deviation and an unconditional flag.
// Otherwise the control limits form a closed interval: a value exactly at
// mean ± k·σ is not anomalous.
func deviation(stats core.ColumnStats, value, sigma float64) (dev float64, anomalous, sentinel bool) {
	if stats.StdDev == 0 {
		if value == stats.Mean {
			return 0, false, false
		}
		return core.SentinelDeviation, true, true
	}

	dev = (value - stats.Mean) / stats.StdDev
	return dev, math.Abs(dev) > sigma, false
}

// excludeValue removes one observation from a Welford aggregate. A
// self-sourced snapshot contains the batch being scored, so each row is
// judged against the other rows only; without this an extreme outlier
// inflates the very standard deviation it is measured by and masks itself.
// With two or fewer samples the remainder cannot yield a sample standard
// deviation, and the neutral result scores the row 0.
func excludeValue(stats core.ColumnStats, value, sigma float64) core.ColumnStats {
	if stats.SampleCount <= 2 {
		return core.ColumnStats{Mean: value, SampleCount: stats.SampleCount - 1}
	}

	n := float64(stats.SampleCount)
	rest := n - 1
	mean := (n*stats.Mean - value) / rest
	m2 := stats.M2 - (value-mean)*(value-stats.Mean)
	if m2 < 0 {
		m2 = 0
	}

	out := core.ColumnStats{Mean: mean, M2: m2, SampleCount: stats.SampleCount - 1}
	if m2 > 0 {
		out.StdDev = math.Sqrt(m2 / (rest - 1))
	}
	out.LowerLimit = mean - sigma*out.StdDev
	out.UpperLimit = mean + sigma*out.StdDev
	return out
}
