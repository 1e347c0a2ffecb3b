package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeIdentifier(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"already safe", "sensor_readings", "sensor_readings"},
		{"uppercase", "SensorReadings", "sensorreadings"},
		{"spaces and punctuation", "Temp (C)", "temp_c"},
		{"csv extension stripped", "morning_run.csv", "morning_run"},
		{"leading digit", "2026_lots", "t_2026_lots"},
		{"underscore runs collapsed", "a__b___c", "a_b_c"},
		{"leading and trailing underscores", "_edge_", "edge"},
		{"empty", "", "t"},
		{"only punctuation", "!!!", "t"},
		{"unicode stripped", "tempéra", "temp_ra"},
		{"reserved sqlite prefix", "sqlite_master", "t_sqlite_master"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeIdentifier(tt.input))
		})
	}
}

func TestSanitizeIdentifierBoundsLength(t *testing.T) {
	long := strings.Repeat("a", 300)
	got := SanitizeIdentifier(long)
	assert.LessOrEqual(t, len(got), MaxIdentifierLength)
	assert.True(t, IsSafeIdentifier(got))
}

func TestSanitizeIdentifierOutputIsAlwaysSafe(t *testing.T) {
	inputs := []string{
		"Robert'); DROP TABLE batches;--",
		"../../etc/passwd",
		"weird\x00bytes",
		"normal_name",
		"12345",
	}
	for _, input := range inputs {
		assert.True(t, IsSafeIdentifier(SanitizeIdentifier(input)), "input %q", input)
	}
}

func TestIsSafeIdentifier(t *testing.T) {
	assert.True(t, IsSafeIdentifier("batch_42"))
	assert.True(t, IsSafeIdentifier("a"))

	assert.False(t, IsSafeIdentifier(""))
	assert.False(t, IsSafeIdentifier("9abc"))
	assert.False(t, IsSafeIdentifier("Has_Upper"))
	assert.False(t, IsSafeIdentifier("semi;colon"))
	assert.False(t, IsSafeIdentifier("with space"))
	assert.False(t, IsSafeIdentifier(strings.Repeat("a", 100)))
}
