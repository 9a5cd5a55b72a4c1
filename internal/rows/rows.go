// Package rows reads tabular input (CSV or XLSX) used for catalog snapshots
// and batch item lists.
package rows

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// Options configures row reading.
type Options struct {
	SkipRows  int    // number of header rows to skip
	SheetName string // xlsx only; defaults to the first sheet
	Delimiter rune   // csv only; default ','
}

// ReadFile reads all rows of a .csv or .xlsx file. Blank rows are dropped and
// cells are trimmed.
func ReadFile(path string, opts Options) ([][]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return ReadXLSX(path, opts)
	case ".csv", ".tsv", ".txt":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "rows: open %s", path)
		}
		defer f.Close() //nolint:errcheck
		if opts.Delimiter == 0 && strings.EqualFold(filepath.Ext(path), ".tsv") {
			opts.Delimiter = '\t'
		}
		return ReadCSV(f, opts)
	default:
		return nil, eris.Errorf("rows: unsupported file type %q", filepath.Ext(path))
	}
}

// ReadCSV reads CSV rows from r.
func ReadCSV(r io.Reader, opts Options) ([][]string, error) {
	reader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	var out [][]string
	for i := 0; ; i++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "rows: read csv line %d", i+1)
		}
		if i < opts.SkipRows {
			continue
		}
		if cells, ok := clean(record); ok {
			out = append(out, cells)
		}
	}
	return out, nil
}

// ReadXLSX reads rows from one sheet of an XLSX workbook.
func ReadXLSX(path string, opts Options) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "rows: open xlsx")
	}

	var sheet *xlsx.Sheet
	if opts.SheetName != "" {
		s, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("rows: sheet %q not found", opts.SheetName)
		}
		sheet = s
	} else {
		if len(f.Sheets) == 0 {
			return nil, eris.New("rows: workbook has no sheets")
		}
		sheet = f.Sheets[0]
	}

	var out [][]string
	for i, row := range sheet.Rows {
		if i < opts.SkipRows {
			continue
		}
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		if cleaned, ok := clean(cells); ok {
			out = append(out, cleaned)
		}
	}
	return out, nil
}

// Column extracts one column from rows, skipping rows that are too short.
func Column(rows [][]string, idx int) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		if idx < len(r) && r[idx] != "" {
			out = append(out, r[idx])
		}
	}
	return out
}

func clean(cells []string) ([]string, bool) {
	blank := true
	for i, c := range cells {
		cells[i] = strings.TrimSpace(c)
		if cells[i] != "" {
			blank = false
		}
	}
	return cells, !blank
}
