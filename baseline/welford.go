// Package baseline maintains the per-column statistical reference ranges
// that batches are scored against. Statistics are kept as Welford running
// aggregates, merged batch-wise, so incorporating a new batch is O(batch)
// regardless of how much history exists.
package baseline

import "procwatch/core"

// BatchStats is the Welford aggregate of one column within one batch.
type BatchStats struct {
	Count int64
	Mean  float64
	M2    float64
}

// Accumulate computes the Welford aggregate of a value slice in one pass.
func Accumulate(values []float64) BatchStats {
	var s BatchStats
	for _, v := range values {
		s.Count++
		delta := v - s.Mean
		s.Mean += delta / float64(s.Count)
		s.M2 += delta * (v - s.Mean)
	}
	return s
}

// AccumulateRows computes per-column batch aggregates from numeric rows.
// Missing values contribute nothing; a column absent from every row gets a
// zero-count aggregate.
func AccumulateRows(rows []core.NumericRow, columns []core.Column) map[string]BatchStats {
	stats := make(map[string]BatchStats, len(columns))
	for _, col := range columns {
		var s BatchStats
		for _, row := range rows {
			v, ok := row.Values[col.Name]
			if !ok {
				continue
			}
			s.Count++
			delta := v - s.Mean
			s.Mean += delta / float64(s.Count)
			s.M2 += delta * (v - s.Mean)
		}
		stats[col.Name] = s
	}
	return stats
}

// merge combines a stored aggregate with a batch aggregate using the
// parallel-variance formula (Chan et al.), exact up to float rounding.
func merge(b *core.ColumnBaseline, s BatchStats) {
	if s.Count == 0 {
		return
	}
	if b.SampleCount == 0 {
		b.Mean = s.Mean
		b.M2 = s.M2
		b.SampleCount = s.Count
		return
	}
	nA := float64(b.SampleCount)
	nB := float64(s.Count)
	n := nA + nB
	delta := s.Mean - b.Mean
	b.Mean += delta * nB / n
	b.M2 += s.M2 + delta*delta*nA*nB/n
	b.SampleCount += s.Count
}
