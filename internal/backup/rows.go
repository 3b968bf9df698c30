package backup

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"
)

// scanRows reads every row of an already-executed *sql.Rows into a
// slice of generic column-name→value maps, converting driver []byte
// values (sqlite returns TEXT/BLOB this way) to string so the result
// marshals cleanly to JSON for the backup envelope.
func scanRows(rows *sql.Rows) ([]map[string]interface{}, error) {
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("backup: reading columns: %w", err)
	}

	var out []map[string]interface{}
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("backup: scanning row: %w", err)
		}
		row := make(map[string]interface{}, len(cols))
		for i, c := range cols {
			row[c] = normalizeScanned(vals[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func normalizeScanned(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// columnOrder returns a stable, sorted column list for row, used both
// to build a deterministic INSERT statement and to keep the canonical
// checksum's per-row key order irrelevant (canonicalize sorts anyway,
// this is purely about a readable, repeatable SQL statement shape).
func columnOrder(row map[string]interface{}) []string {
	cols := make([]string, 0, len(row))
	for c := range row {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

// buildInsert renders an INSERT (or INSERT OR IGNORE, for merge mode)
// statement for table using row's columns, returning the statement and
// its positional argument list.
func buildInsert(table string, row map[string]interface{}, orIgnore bool) (string, []interface{}) {
	cols := columnOrder(row)
	placeholders := make([]string, len(cols))
	args := make([]interface{}, len(cols))
	for i, c := range cols {
		placeholders[i] = "?"
		args[i] = row[c]
	}
	verb := "INSERT INTO"
	if orIgnore {
		verb = "INSERT OR IGNORE INTO"
	}
	stmt := fmt.Sprintf("%s %s (%s) VALUES (%s)", verb, table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	return stmt, args
}
