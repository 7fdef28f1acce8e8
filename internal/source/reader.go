// Package source reads the raw input tables of an optimization run from
// files, object storage, Postgres or memory.
package source

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresuchdata/mixopt/internal/normalize"
	"github.com/xuri/excelize/v2"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ReadFile reads a CSV or XLSX file into a table named name.
func ReadFile(path, name string) (*normalize.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	t, err := Read(f, filepath.Base(path), name)
	if err != nil {
		return nil, err
	}
	t.Source = path
	return t, nil
}

// Read dispatches on the extension of filename.
func Read(r io.Reader, filename, name string) (*normalize.Table, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xlsm":
		return ReadXLSX(r, name)
	case ".csv", ".txt", "":
		return ReadCSV(r, name)
	default:
		return nil, fmt.Errorf("%s: unsupported table format", filename)
	}
}

// ReadCSV reads a delimited table. The delimiter is ';' when the header
// line has more semicolons than commas, ',' otherwise.
func ReadCSV(r io.Reader, name string) (*normalize.Table, error) {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}

	first, err := br.Peek(4096)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	if i := bytes.IndexByte(first, '\n'); i >= 0 {
		first = first[:i]
	}

	cr := csv.NewReader(br)
	cr.Comma = sniffDelimiter(first)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv %s: %w", name, err)
	}
	return toTable(name, records), nil
}

func sniffDelimiter(line []byte) rune {
	if bytes.Count(line, []byte{';'}) > bytes.Count(line, []byte{','}) {
		return ';'
	}
	return ','
}

// ReadXLSX reads the first sheet of a workbook. Cells are read raw so that
// numbers and dates keep their stored value instead of the display format;
// the table locale is therefore auto.
func ReadXLSX(r io.Reader, name string) (*normalize.Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open xlsx %s: %w", name, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("xlsx %s has no sheets", name)
	}
	sheet := sheets[0]

	rows, err := f.Rows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read rows from sheet %s: %w", sheet, err)
	}
	defer rows.Close()

	var records [][]string
	for rows.Next() {
		record, err := rows.Columns(excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, fmt.Errorf("read row from %s: %w", name, err)
		}
		records = append(records, record)
	}
	if err := rows.Error(); err != nil {
		return nil, fmt.Errorf("iterate rows in %s: %w", name, err)
	}

	t := toTable(name, records)
	t.Locale = normalize.LocaleAuto
	return t, nil
}

// toTable takes the first non-blank record as header.
func toTable(name string, records [][]string) *normalize.Table {
	t := &normalize.Table{Name: name, Source: name}
	for len(records) > 0 && blank(records[0]) {
		records = records[1:]
	}
	if len(records) == 0 {
		return t
	}
	t.Header = records[0]
	for _, rec := range records[1:] {
		if blank(rec) {
			continue
		}
		t.Rows = append(t.Rows, rec)
	}
	return t
}

func blank(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
