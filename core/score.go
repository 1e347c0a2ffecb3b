package core

// Severity classifies how far out of range an anomalous row is.
type Severity string

const (
	// SeverityGreen is a row with no anomalous column
	SeverityGreen Severity = "green"
	// SeverityAmber is a row with at least one column outside the control limits
	SeverityAmber Severity = "amber"
	// SeverityRed is a row whose worst deviation is severe (>= twice the
	// control-chart multiplier, or the zero-variance sentinel)
	SeverityRed Severity = "red"
)

// String returns the string representation.
func (s Severity) String() string {
	return string(s)
}

// RowScore is the scoring verdict for one row of a batch. The full set for a
// batch is replaced wholesale on every successful detection run.
type RowScore struct {
	TableName      string             `json:"table_name"`
	RowIndex       int64              `json:"row_index"`
	Deviations     map[string]float64 `json:"deviations"`
	IsAnomaly      bool               `json:"is_anomaly"`
	AnomalyColumns []string           `json:"anomaly_columns"`
	CompositeScore float64            `json:"composite_score"`
	Severity       Severity           `json:"severity"`
}
