package normalize

import (
	"strings"

	"github.com/andresuchdata/mixopt/internal/domain"
)

// Table is a raw, schema-agnostic table as read from any source. Cells are
// kept as text; Locale overrides the configured locale when set.
type Table struct {
	Name   string
	Source string
	Locale Locale
	Header []string
	Rows   [][]string
}

// NewTable builds a table named name.
func NewTable(name string, header []string, rows ...[]string) *Table {
	return &Table{Name: name, Source: name, Header: header, Rows: rows}
}

func (t *Table) label() string {
	if t.Source != "" {
		return t.Source
	}
	return t.Name
}

// Empty reports whether the table has no data rows.
func (t *Table) Empty() bool {
	return t == nil || len(t.Rows) == 0
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// CanonicalPackage puts a package name in the form used for joins:
// recognised descriptors become "CX n BJ m UN", anything else is upper
// cased with single spaces.
func CanonicalPackage(name string) string {
	if p, ok := ParsePackage(name); ok {
		return p.Name
	}
	return strings.Join(strings.Fields(strings.ToUpper(name)), " ")
}

// rowErrors counts per-row failures of one decode pass and turns a table
// where every row failed into a fatal error.
type rowErrors struct {
	table string
	file  string
	rows  int
	count int
	first *domain.ParseError
}

func (e *rowErrors) add(row int, column string, err error) {
	e.count++
	if e.first != nil {
		return
	}
	pe := &domain.ParseError{File: e.file, Row: row, Column: column, Reason: err.Error()}
	if src, ok := err.(*domain.ParseError); ok {
		pe.Value = src.Value
		pe.Reason = src.Reason
	}
	e.first = pe
}

func (e *rowErrors) finish(diag *domain.Diagnostics) error {
	diag.ParseFailure(e.table, e.count)
	if e.rows > 0 && e.count == e.rows && e.first != nil {
		return e.first
	}
	return nil
}
