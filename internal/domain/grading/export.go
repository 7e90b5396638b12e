// Package grading contains the polymorphic grading-strategy abstraction: one
// variant per third-party assignment source, each owning the interpretation of
// its raw export and its scoring rules, sharing one assembly and publication
// pipeline.
package grading

import (
	"strconv"
	"strings"
)

// Table is an opaque table-like structure handed to a grading strategy by the
// export ingestion collaborator. The core never interprets columns outside a
// strategy's Parse.
type Table struct {
	// Columns holds the header row.
	Columns []string

	// Rows holds the data rows; each row has len(Columns) cells.
	Rows [][]string
}

// ColumnIndex finds a column by exact header match (whitespace-trimmed).
func (t *Table) ColumnIndex(name string) (int, bool) {
	for i, col := range t.Columns {
		if strings.TrimSpace(col) == name {
			return i, true
		}
	}
	return -1, false
}

// ColumnIndexFunc finds the first column whose header satisfies pred.
func (t *Table) ColumnIndexFunc(pred func(string) bool) (int, bool) {
	for i, col := range t.Columns {
		if pred(strings.TrimSpace(col)) {
			return i, true
		}
	}
	return -1, false
}

// Cell returns the trimmed cell at (row, col), or "" when the row is ragged.
func (t *Table) Cell(row, col int) string {
	if row < 0 || row >= len(t.Rows) || col < 0 || col >= len(t.Rows[row]) {
		return ""
	}
	return strings.TrimSpace(t.Rows[row][col])
}

// CellFloat parses the cell as a float. Blank cells report ok=false.
func (t *Table) CellFloat(row, col int) (float64, bool) {
	s := t.Cell(row, col)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Empty reports whether the table has no data rows.
func (t *Table) Empty() bool {
	return t == nil || len(t.Rows) == 0
}
