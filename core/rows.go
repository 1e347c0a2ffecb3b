package core

// NumericRow is one row's numeric measurements keyed by sanitized column
// name. Missing values are absent from the map, never zero.
type NumericRow struct {
	Index  int64              `json:"row_index"`
	Values map[string]float64 `json:"values"`
}
