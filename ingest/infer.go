package ingest

import (
	"strconv"
	"strings"
	"time"

	"procwatch/core"
	"procwatch/util"
)

// timestampLayouts are tried in order when inferring and converting
// timestamp values.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02",
	"01/02/2006 15:04:05",
	"01/02/2006",
}

// booleanMarkers are the accepted boolean literals (case-insensitive).
var booleanMarkers = map[string]bool{
	"true": true, "false": true,
	"yes": true, "no": true,
	"y": true, "n": true,
}

// reservedColumns are identifiers the results representation claims for
// itself; source columns that sanitize to one of these get a "c_" prefix.
var reservedColumns = map[string]bool{
	"row_index": true,
}

// InferSchema sanitizes column names and infers a type for every column of
// the batch. A column is numeric only if every non-missing value across the
// full batch parses as a number; one bad value demotes it to text. Returns a
// SchemaError when two source columns collide after sanitization.
func InferSchema(raw *RawBatch, hints *SchemaHints) (core.ColumnSchema, error) {
	schema := make(core.ColumnSchema, 0, len(raw.Headers))
	seen := make(map[string]string, len(raw.Headers))

	for i, header := range raw.Headers {
		name := util.SanitizeIdentifier(header)
		if reservedColumns[name] {
			name = "c_" + name
		}
		if prev, dup := seen[name]; dup {
			return nil, core.NewSchemaError("columns %q and %q both sanitize to identifier %q", prev, header, name)
		}
		seen[name] = header

		colType := hints.TypeFor(name)
		if colType == "" {
			colType = inferColumnType(columnValues(raw, i))
		}

		schema = append(schema, core.Column{
			Name:       name,
			SourceName: header,
			Type:       colType,
		})
	}

	return schema, nil
}

// columnValues collects the raw values of column i across all rows. Short
// rows contribute nothing for trailing columns.
func columnValues(raw *RawBatch, i int) []string {
	values := make([]string, 0, len(raw.Rows))
	for _, row := range raw.Rows {
		if i < len(row) {
			values = append(values, row[i])
		}
	}
	return values
}

// inferColumnType tries integer, float, timestamp, boolean in order and
// falls back to text. Missing values never influence the result; a column
// of only missing values is text.
func inferColumnType(values []string) core.ColumnType {
	present := make([]string, 0, len(values))
	for _, v := range values {
		if !IsNull(v) {
			present = append(present, strings.TrimSpace(v))
		}
	}
	if len(present) == 0 {
		return core.ColumnTypeText
	}

	if allParse(present, func(v string) bool {
		_, err := strconv.ParseInt(v, 10, 64)
		return err == nil
	}) {
		return core.ColumnTypeInteger
	}

	if allParse(present, func(v string) bool {
		_, err := strconv.ParseFloat(v, 64)
		return err == nil
	}) {
		return core.ColumnTypeFloat
	}

	if allParse(present, func(v string) bool {
		_, ok := parseTimestamp(v)
		return ok
	}) {
		return core.ColumnTypeTimestamp
	}

	if allParse(present, func(v string) bool {
		return booleanMarkers[strings.ToLower(v)]
	}) {
		return core.ColumnTypeBoolean
	}

	return core.ColumnTypeText
}

func allParse(values []string, parse func(string) bool) bool {
	for _, v := range values {
		if !parse(v) {
			return false
		}
	}
	return true
}

func parseTimestamp(value string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// ConvertRows converts raw string rows into typed values matching the
// schema, ready for parameterized insertion. Missing values become nil.
// A value that fails to convert under its inferred type is a SchemaError;
// inference saw the full batch, so this only happens with a bad type hint.
func ConvertRows(raw *RawBatch, schema core.ColumnSchema) ([][]interface{}, error) {
	typed := make([][]interface{}, len(raw.Rows))
	for r, row := range raw.Rows {
		vals := make([]interface{}, len(schema))
		for c, col := range schema {
			var cell string
			if c < len(row) {
				cell = strings.TrimSpace(row[c])
			}
			if IsNull(cell) {
				vals[c] = nil
				continue
			}

			switch col.Type {
			case core.ColumnTypeInteger:
				n, err := strconv.ParseInt(cell, 10, 64)
				if err != nil {
					return nil, core.NewSchemaError("row %d column %q: %q is not an integer", r+1, col.Name, cell)
				}
				vals[c] = n
			case core.ColumnTypeFloat:
				f, err := strconv.ParseFloat(cell, 64)
				if err != nil {
					return nil, core.NewSchemaError("row %d column %q: %q is not a number", r+1, col.Name, cell)
				}
				vals[c] = f
			case core.ColumnTypeTimestamp:
				ts, ok := parseTimestamp(cell)
				if !ok {
					// Inference can force timestamp via hints; keep the raw
					// string rather than losing the value.
					vals[c] = cell
					continue
				}
				vals[c] = ts.UTC().Format("2006-01-02 15:04:05")
			case core.ColumnTypeBoolean:
				vals[c] = cell
			default:
				vals[c] = cell
			}
		}
		typed[r] = vals
	}
	return typed, nil
}
