package ingest

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"procwatch/core"

	"gopkg.in/yaml.v3"
)

// SchemaHints maps column name substrings to forced column types, overriding
// inference. The defaults force columns whose sanitized name contains "date"
// or "time" to timestamp, which keeps ambiguous numeric-looking date columns
// out of the scoring set.
type SchemaHints struct {
	// ColumnTypes maps a lowercase name substring to a type
	ColumnTypes map[string]core.ColumnType `yaml:"column_types"`
}

// DefaultSchemaHints returns the built-in hints.
func DefaultSchemaHints() *SchemaHints {
	return &SchemaHints{
		ColumnTypes: map[string]core.ColumnType{
			"date": core.ColumnTypeTimestamp,
			"time": core.ColumnTypeTimestamp,
		},
	}
}

// LoadSchemaHints reads a YAML hints file and merges it over the defaults.
// File entries win over built-ins for the same substring.
func LoadSchemaHints(path string) (*SchemaHints, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema hints file: %w", err)
	}

	var loaded SchemaHints
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse schema hints file: %w", err)
	}

	hints := DefaultSchemaHints()
	for pattern, colType := range loaded.ColumnTypes {
		if !colType.IsValid() {
			return nil, fmt.Errorf("schema hint %q has unknown column type %q", pattern, colType)
		}
		hints.ColumnTypes[strings.ToLower(pattern)] = colType
	}
	return hints, nil
}

// TypeFor returns the forced type for a sanitized column name, or "" when no
// hint matches. Patterns are checked in sorted order so overlapping hints
// resolve the same way on every run. A nil receiver matches nothing.
func (h *SchemaHints) TypeFor(name string) core.ColumnType {
	if h == nil {
		return ""
	}
	patterns := make([]string, 0, len(h.ColumnTypes))
	for pattern := range h.ColumnTypes {
		patterns = append(patterns, pattern)
	}
	sort.Strings(patterns)
	for _, pattern := range patterns {
		if strings.Contains(name, pattern) {
			return h.ColumnTypes[pattern]
		}
	}
	return ""
}
