package core

const (
	// DefaultSigma is the control-chart multiplier k; limits are mean ± k·σ
	DefaultSigma = 3.0

	// DefaultMinSamples is the minimum baseline sample count before stored
	// statistics are trusted; below it scoring falls back to in-batch stats
	DefaultMinSamples = 2

	// SentinelDeviation is the deviation assigned when a column's baseline
	// has zero variance and a row carries a different value. Avoids a
	// divide-by-zero while still flagging the row at maximal severity.
	SentinelDeviation = 10.0

	// DefaultSweepParallelism is how many batches a backfill sweep scores
	// concurrently
	DefaultSweepParallelism = 4
)
