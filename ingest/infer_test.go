package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"procwatch/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInferColumnType(t *testing.T) {
	tests := []struct {
		name   string
		values []string
		want   core.ColumnType
	}{
		{"integers", []string{"1", "42", "-7"}, core.ColumnTypeInteger},
		{"floats", []string{"1.5", "2", "-0.25"}, core.ColumnTypeFloat},
		{"scientific notation", []string{"1e3", "2.5e-2"}, core.ColumnTypeFloat},
		{"iso timestamps", []string{"2026-01-15", "2026-02-01"}, core.ColumnTypeTimestamp},
		{"datetimes", []string{"2026-01-15 08:30:00", "2026-01-15 09:00:00"}, core.ColumnTypeTimestamp},
		{"booleans", []string{"true", "FALSE", "yes", "N"}, core.ColumnTypeBoolean},
		{"text", []string{"line_a", "line_b"}, core.ColumnTypeText},
		{"mixed number and text", []string{"1.5", "n/a"}, core.ColumnTypeText},
		{"numbers with nulls", []string{"1.5", "NULL", "2.5", ""}, core.ColumnTypeFloat},
		{"all nulls", []string{"", "NULL", "None"}, core.ColumnTypeText},
		{"int demoted by decimal", []string{"1", "2", "2.5"}, core.ColumnTypeFloat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, inferColumnType(tt.values))
		})
	}
}

func TestInferSchemaSanitizesAndTypes(t *testing.T) {
	batch := &RawBatch{
		Headers: []string{"Temp (C)", "Pressure", "Station"},
		Rows: [][]string{
			{"10.5", "3", "line_a"},
			{"11.0", "4", "line_b"},
		},
	}

	schema, err := InferSchema(batch, nil)
	require.NoError(t, err)
	require.Len(t, schema, 3)

	assert.Equal(t, "temp_c", schema[0].Name)
	assert.Equal(t, "Temp (C)", schema[0].SourceName)
	assert.Equal(t, core.ColumnTypeFloat, schema[0].Type)
	assert.Equal(t, core.ColumnTypeInteger, schema[1].Type)
	assert.Equal(t, core.ColumnTypeText, schema[2].Type)

	numeric := schema.NumericColumns()
	require.Len(t, numeric, 2)
	assert.Equal(t, "temp_c", numeric[0].Name)
}

func TestInferSchemaRejectsCollidingNames(t *testing.T) {
	batch := &RawBatch{
		Headers: []string{"Temp (C)", "temp c"},
		Rows:    [][]string{{"1", "2"}},
	}

	_, err := InferSchema(batch, nil)
	require.Error(t, err)
	var schemaErr *core.SchemaError
	assert.ErrorAs(t, err, &schemaErr)
}

func TestInferSchemaPrefixesReservedNames(t *testing.T) {
	batch := &RawBatch{
		Headers: []string{"Row Index", "value"},
		Rows:    [][]string{{"1", "2"}},
	}

	schema, err := InferSchema(batch, nil)
	require.NoError(t, err)
	assert.Equal(t, "c_row_index", schema[0].Name)
}

func TestSchemaHintsOverrideInference(t *testing.T) {
	batch := &RawBatch{
		Headers: []string{"production_date", "batch_code"},
		Rows: [][]string{
			{"20260115", "77"},
			{"20260116", "78"},
		},
	}

	schema, err := InferSchema(batch, DefaultSchemaHints())
	require.NoError(t, err)

	// Without the hint 20260115 would infer integer and pollute scoring.
	assert.Equal(t, core.ColumnTypeTimestamp, schema[0].Type)
	assert.Equal(t, core.ColumnTypeInteger, schema[1].Type)
}

func TestLoadSchemaHintsMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hints.yaml")
	require.NoError(t, os.WriteFile(path, []byte("column_types:\n  lot_code: text\n"), 0o600))

	hints, err := LoadSchemaHints(path)
	require.NoError(t, err)

	assert.Equal(t, core.ColumnTypeText, hints.TypeFor("lot_code"))
	assert.Equal(t, core.ColumnTypeTimestamp, hints.TypeFor("start_date"))
	assert.Equal(t, core.ColumnType(""), hints.TypeFor("temperature"))
}

func TestLoadSchemaHintsRejectsUnknownType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hints.yaml")
	require.NoError(t, os.WriteFile(path, []byte("column_types:\n  foo: varchar\n"), 0o600))

	_, err := LoadSchemaHints(path)
	require.Error(t, err)
}

func TestConvertRows(t *testing.T) {
	batch := &RawBatch{
		Headers: []string{"n", "f", "ts", "note"},
		Rows: [][]string{
			{"1", "1.5", "2026-01-15", "ok"},
			{"2", "NULL", "2026-01-16", ""},
		},
	}

	schema, err := InferSchema(batch, nil)
	require.NoError(t, err)

	typed, err := ConvertRows(batch, schema)
	require.NoError(t, err)
	require.Len(t, typed, 2)

	assert.Equal(t, int64(1), typed[0][0])
	assert.Equal(t, 1.5, typed[0][1])
	assert.Equal(t, "2026-01-15 00:00:00", typed[0][2])
	assert.Equal(t, "ok", typed[0][3])

	assert.Equal(t, int64(2), typed[1][0])
	assert.Nil(t, typed[1][1])
	assert.Nil(t, typed[1][3])
}
