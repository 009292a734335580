// Package dataset reads, normalises and queries the semicolon-separated
// telemetry tables that models are trained on.
package dataset

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/pulse/internal/model"
)

// Delimiter separates fields in every stored dataset.
const Delimiter = ';'

// Table is an in-memory dataset with normalised column names.
type Table struct {
	Columns []string
	Rows    [][]string
}

// NormalizeColumn lower-cases a header and strips whitespace and a BOM.
func NormalizeColumn(name string) string {
	return cases.Lower(language.Und).String(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
}

// Parse reads a semicolon-separated table whose first row is the header.
func Parse(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.Comma = Delimiter
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, model.Invalid("dataset: parse csv: %v", err)
	}
	return fromRecords(records)
}

func fromRecords(records [][]string) (*Table, error) {
	if len(records) == 0 {
		return nil, model.Invalid("dataset: file is empty")
	}
	t := &Table{Columns: make([]string, len(records[0]))}
	for i, h := range records[0] {
		t.Columns[i] = NormalizeColumn(h)
	}
	for _, rec := range records[1:] {
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		row := make([]string, len(t.Columns))
		for i := range row {
			if i < len(rec) {
				row[i] = strings.TrimSpace(rec[i])
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// Write serialises t with the dataset delimiter.
func (t *Table) Write(w io.Writer) error {
	cw := csv.NewWriter(w)
	cw.Comma = Delimiter
	if err := cw.Write(t.Columns); err != nil {
		return eris.Wrap(err, "dataset: write header")
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return eris.Wrap(err, "dataset: write rows")
	}
	return nil
}

// Index returns the position of col, or -1.
func (t *Table) Index(col string) int {
	for i, c := range t.Columns {
		if c == col {
			return i
		}
	}
	return -1
}

// Has reports whether every column is present.
func (t *Table) Has(cols ...string) bool {
	return len(t.Missing(cols)) == 0
}

// Missing returns the columns of cols not present in t.
func (t *Table) Missing(cols []string) []string {
	var missing []string
	for _, c := range cols {
		if t.Index(c) < 0 {
			missing = append(missing, c)
		}
	}
	return missing
}

func parseFloat(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Matrix extracts cols as floats, dropping any row where one of them is
// empty or not numeric.
func (t *Table) Matrix(cols []string) ([][]float64, error) {
	if missing := t.Missing(cols); len(missing) > 0 {
		return nil, model.Invalid("dataset: missing columns %v", missing)
	}
	idx := make([]int, len(cols))
	for i, c := range cols {
		idx[i] = t.Index(c)
	}
	var out [][]float64
rows:
	for _, row := range t.Rows {
		vals := make([]float64, len(idx))
		for i, j := range idx {
			v, ok := parseFloat(row[j])
			if !ok {
				continue rows
			}
			vals[i] = v
		}
		out = append(out, vals)
	}
	return out, nil
}

// XY splits the complete rows of features plus the target column into a
// design matrix and target vector.
func (t *Table) XY(features []string) ([][]float64, []float64, error) {
	if len(features) == 0 {
		return nil, nil, model.Invalid("dataset: no features selected")
	}
	m, err := t.Matrix(append(append([]string{}, features...), model.TargetColumn))
	if err != nil {
		return nil, nil, err
	}
	X := make([][]float64, len(m))
	y := make([]float64, len(m))
	last := len(features)
	for i, row := range m {
		X[i] = row[:last]
		y[i] = row[last]
	}
	return X, y, nil
}

// Column returns the numeric values of col, skipping blanks.
func (t *Table) Column(col string) []float64 {
	j := t.Index(col)
	if j < 0 {
		return nil
	}
	var out []float64
	for _, row := range t.Rows {
		if v, ok := parseFloat(row[j]); ok {
			out = append(out, v)
		}
	}
	return out
}

// NumericColumns returns the columns where every non-empty cell parses as
// a number and at least one cell is present.
func (t *Table) NumericColumns() []string {
	var out []string
	for j, c := range t.Columns {
		seen := false
		numeric := true
		for _, row := range t.Rows {
			if row[j] == "" {
				continue
			}
			if _, ok := parseFloat(row[j]); !ok {
				numeric = false
				break
			}
			seen = true
		}
		if numeric && seen {
			out = append(out, c)
		}
	}
	return out
}

// Record renders row i as a column map, numbers as float64.
func (t *Table) Record(i int, cols []string) map[string]any {
	rec := make(map[string]any, len(cols))
	for _, c := range cols {
		j := t.Index(c)
		if j < 0 {
			continue
		}
		cell := t.Rows[i][j]
		if v, ok := parseFloat(cell); ok {
			rec[c] = v
		} else if cell == "" {
			rec[c] = nil
		} else {
			rec[c] = cell
		}
	}
	return rec
}
