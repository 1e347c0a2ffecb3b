package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetricsRegistration(t *testing.T) {
	// Metrics are package-level and registered once via promauto; assert the
	// collectors exist so a rename does not silently drop one.
	assert.NotNil(t, BatchesIngested)
	assert.NotNil(t, RowsScored)
	assert.NotNil(t, AnomaliesFlagged)
	assert.NotNil(t, RunsTotal)
	assert.NotNil(t, ScoringDuration)
}
