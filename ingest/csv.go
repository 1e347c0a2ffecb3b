// Package ingest decodes raw CSV batches and infers a storage schema for
// them. It owns the front half of batch provisioning: parsing, column name
// sanitization, type inference and value conversion. Durable storage of the
// result belongs to the storage package.
package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"procwatch/core"
)

const (
	// maxColumns bounds the number of columns accepted in one batch
	maxColumns = 512
)

// nullMarkers are the values treated as missing in every column.
var nullMarkers = map[string]bool{
	"":     true,
	"NULL": true,
	"null": true,
	"None": true,
}

// IsNull reports whether a raw CSV value counts as missing. Missing values
// are stored as NULL and excluded from baseline computation and scoring.
func IsNull(value string) bool {
	return nullMarkers[strings.TrimSpace(value)]
}

// RawBatch is a parsed but untyped CSV payload.
type RawBatch struct {
	Headers []string
	Rows    [][]string
}

// ParseCSV decodes a raw CSV payload into headers and data rows. Returns a
// SchemaError for structurally unusable input: no header, no data rows, too
// many columns, or ragged rows the CSV reader cannot reconcile.
func ParseCSV(raw []byte) (*RawBatch, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, core.NewSchemaError("empty input")
	}

	reader := csv.NewReader(bytes.NewReader(raw))
	reader.TrimLeadingSpace = true

	headers, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, core.NewSchemaError("input has no header row")
		}
		return nil, core.NewSchemaError("failed to read header row: %v", err)
	}
	if len(headers) == 0 {
		return nil, core.NewSchemaError("input has no columns")
	}
	if len(headers) > maxColumns {
		return nil, core.NewSchemaError("too many columns: %d (max %d)", len(headers), maxColumns)
	}

	for i, h := range headers {
		headers[i] = strings.TrimSpace(h)
	}

	var rows [][]string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, core.NewSchemaError("malformed CSV at row %d: %v", len(rows)+2, err)
		}
		rows = append(rows, record)
	}

	if len(rows) == 0 {
		return nil, core.NewSchemaError("input has no data rows")
	}

	return &RawBatch{Headers: headers, Rows: rows}, nil
}
