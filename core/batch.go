package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// ColumnType is the inferred storage type of a CSV column.
type ColumnType string

const (
	// ColumnTypeInteger is a column whose every non-empty value parses as an integer
	ColumnTypeInteger ColumnType = "integer"
	// ColumnTypeFloat is a column whose every non-empty value parses as a number
	ColumnTypeFloat ColumnType = "float"
	// ColumnTypeTimestamp is a column whose every non-empty value parses as a timestamp
	ColumnTypeTimestamp ColumnType = "timestamp"
	// ColumnTypeBoolean is a column whose every non-empty value is a boolean marker
	ColumnTypeBoolean ColumnType = "boolean"
	// ColumnTypeText is the fallback categorical type
	ColumnTypeText ColumnType = "text"
)

// IsNumeric reports whether values of this type participate in anomaly scoring.
// Timestamps, booleans and text columns are never scored.
func (t ColumnType) IsNumeric() bool {
	return t == ColumnTypeInteger || t == ColumnTypeFloat
}

// IsValid checks if the column type is valid.
func (t ColumnType) IsValid() bool {
	switch t {
	case ColumnTypeInteger, ColumnTypeFloat, ColumnTypeTimestamp, ColumnTypeBoolean, ColumnTypeText:
		return true
	default:
		return false
	}
}

// Column is one column of an ingested batch. Name is the sanitized storage
// identifier, SourceName the original CSV header.
type Column struct {
	Name       string     `json:"name"`
	SourceName string     `json:"source_name"`
	Type       ColumnType `json:"type"`
}

// ColumnSchema is the ordered column layout of a batch.
type ColumnSchema []Column

// NumericColumns returns the columns that participate in scoring, in order.
func (s ColumnSchema) NumericColumns() []Column {
	var cols []Column
	for _, c := range s {
		if c.Type.IsNumeric() {
			cols = append(cols, c)
		}
	}
	return cols
}

// Column returns the column with the given sanitized name, if present.
func (s ColumnSchema) Column(name string) (Column, bool) {
	for _, c := range s {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// MarshalJSON keeps the ordered representation stable for storage.
func (s ColumnSchema) MarshalJSON() ([]byte, error) {
	return json.Marshal([]Column(s))
}

// UnmarshalJSON restores a schema from its stored representation.
func (s *ColumnSchema) UnmarshalJSON(data []byte) error {
	var cols []Column
	if err := json.Unmarshal(data, &cols); err != nil {
		return fmt.Errorf("failed to unmarshal column schema: %w", err)
	}
	*s = ColumnSchema(cols)
	return nil
}

// BatchStatus represents the lifecycle state of an ingested batch.
type BatchStatus string

const (
	// BatchStatusIngested indicates the batch is stored but not yet scored
	BatchStatusIngested BatchStatus = "ingested"
	// BatchStatusScored indicates the latest detection run succeeded
	BatchStatusScored BatchStatus = "scored"
	// BatchStatusFailed indicates the latest detection run failed
	BatchStatusFailed BatchStatus = "failed"
)

// IsValid checks if the status is valid.
func (s BatchStatus) IsValid() bool {
	switch s {
	case BatchStatusIngested, BatchStatusScored, BatchStatusFailed:
		return true
	default:
		return false
	}
}

// Batch is one ingested CSV upload. Immutable once created except for Status.
type Batch struct {
	ID              string       `json:"batch_id"`
	TableName       string       `json:"table_name"`
	SourceName      string       `json:"source_name"`
	ProcessIdentity string       `json:"process_identity"`
	Schema          ColumnSchema `json:"column_schema"`
	RowCount        int64        `json:"row_count"`
	IngestedAt      time.Time    `json:"ingested_at"`
	Status          BatchStatus  `json:"status"`
}
