package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BatchesIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "procwatch_batches_ingested_total",
			Help: "Total number of batches ingested",
		},
	)

	RowsScored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "procwatch_rows_scored_total",
			Help: "Total number of rows scored",
		},
	)

	AnomaliesFlagged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "procwatch_anomalies_flagged_total",
			Help: "Total number of rows flagged anomalous",
		},
		[]string{"severity"},
	)

	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "procwatch_runs_total",
			Help: "Total number of detection runs by trigger and outcome",
		},
		[]string{"trigger", "outcome"},
	)

	ScoringDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "procwatch_scoring_duration_seconds",
			Help:    "Time taken to score a batch end to end",
			Buckets: prometheus.DefBuckets,
		},
	)
)
