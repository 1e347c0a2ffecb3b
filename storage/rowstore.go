package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"procwatch/core"
	"procwatch/util"
)

// sqlTypeFor maps an inferred column type to its SQLite storage type.
func sqlTypeFor(t core.ColumnType) string {
	switch t {
	case core.ColumnTypeInteger:
		return "INTEGER"
	case core.ColumnTypeFloat:
		return "REAL"
	case core.ColumnTypeTimestamp:
		return "TIMESTAMP"
	default:
		return "TEXT"
	}
}

// createRowTable creates the typed per-batch table. Identifiers are
// validated before interpolation; parameters cannot be used in DDL.
func createRowTable(tx *sql.Tx, tableName string, schema core.ColumnSchema) error {
	if !util.IsSafeIdentifier(tableName) {
		return core.NewSchemaError("table name %q is not a safe identifier", tableName)
	}

	cols := make([]string, 0, len(schema)+1)
	cols = append(cols, "row_index INTEGER PRIMARY KEY")
	for _, c := range schema {
		if !util.IsSafeIdentifier(c.Name) {
			return core.NewSchemaError("column name %q is not a safe identifier", c.Name)
		}
		cols = append(cols, fmt.Sprintf("%s %s", c.Name, sqlTypeFor(c.Type)))
	}

	ddl := fmt.Sprintf("CREATE TABLE %s (%s)", tableName, strings.Join(cols, ", "))
	if _, err := tx.Exec(ddl); err != nil {
		return fmt.Errorf("failed to create row table %s: %w", tableName, err)
	}
	return nil
}

// insertRows bulk-inserts typed rows with a prepared statement. Row indexes
// are assigned in input order starting at 0.
func insertRows(tx *sql.Tx, tableName string, schema core.ColumnSchema, rows [][]interface{}) error {
	colNames := make([]string, 0, len(schema)+1)
	colNames = append(colNames, "row_index")
	placeholders := []string{"?"}
	for _, c := range schema {
		colNames = append(colNames, c.Name)
		placeholders = append(placeholders, "?")
	}

	stmt, err := tx.Prepare(fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		tableName, strings.Join(colNames, ", "), strings.Join(placeholders, ", ")))
	if err != nil {
		return fmt.Errorf("failed to prepare row insert for %s: %w", tableName, err)
	}
	defer func() { _ = stmt.Close() }()

	for i, row := range rows {
		args := make([]interface{}, 0, len(schema)+1)
		args = append(args, int64(i))
		args = append(args, row...)
		if _, err := stmt.Exec(args...); err != nil {
			return fmt.Errorf("failed to insert row %d into %s: %w", i, tableName, err)
		}
	}
	return nil
}

// LoadNumericRows reads back the numeric columns of a batch in row order.
// Integer columns are widened to float64; NULLs are omitted.
func (bs *BatchStorage) LoadNumericRows(ctx context.Context, batch *core.Batch) ([]core.NumericRow, error) {
	numeric := batch.Schema.NumericColumns()

	selectCols := make([]string, 0, len(numeric)+1)
	selectCols = append(selectCols, "row_index")
	for _, c := range numeric {
		if !util.IsSafeIdentifier(c.Name) {
			return nil, core.NewSchemaError("column name %q is not a safe identifier", c.Name)
		}
		selectCols = append(selectCols, c.Name)
	}
	if !util.IsSafeIdentifier(batch.TableName) {
		return nil, core.NewSchemaError("table name %q is not a safe identifier", batch.TableName)
	}

	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY row_index",
		strings.Join(selectCols, ", "), batch.TableName)
	rows, err := bs.db.ReadDB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to read rows from %s: %w", batch.TableName, err)
	}
	defer func() { _ = rows.Close() }()

	var result []core.NumericRow
	for rows.Next() {
		var index int64
		vals := make([]sql.NullFloat64, len(numeric))
		dest := make([]interface{}, 0, len(numeric)+1)
		dest = append(dest, &index)
		for i := range vals {
			dest = append(dest, &vals[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan row from %s: %w", batch.TableName, err)
		}

		nr := core.NumericRow{Index: index, Values: make(map[string]float64, len(numeric))}
		for i, c := range numeric {
			if vals[i].Valid {
				nr.Values[c.Name] = vals[i].Float64
			}
		}
		result = append(result, nr)
	}
	return result, rows.Err()
}
