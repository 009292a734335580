package dataset

import (
	"fmt"
	"strconv"

	"github.com/sells-group/pulse/internal/model"
)

// Filter is one column predicate. Value is a JSON number or string.
type Filter struct {
	Column   string `json:"column"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

// FilterResult is the head of the matching rows and their total count.
type FilterResult struct {
	FilteredSample []map[string]any `json:"filtered_sample"`
	TotalRows      int              `json:"total_rows"`
}

var operators = map[string]func(c int) bool{
	">":  func(c int) bool { return c > 0 },
	"<":  func(c int) bool { return c < 0 },
	"==": func(c int) bool { return c == 0 },
	">=": func(c int) bool { return c >= 0 },
	"<=": func(c int) bool { return c <= 0 },
	"!=": func(c int) bool { return c != 0 },
}

type predicate struct {
	col     int
	num     float64
	str     string
	numeric bool
	accept  func(int) bool
}

func compile(t *Table, f Filter) (predicate, error) {
	accept, ok := operators[f.Operator]
	if !ok {
		return predicate{}, model.Invalid("unsupported operator %s", f.Operator)
	}
	col := t.Index(NormalizeColumn(f.Column))
	if col < 0 {
		return predicate{}, model.Invalid("unknown column %q", f.Column)
	}
	p := predicate{col: col, accept: accept}
	switch v := f.Value.(type) {
	case float64:
		p.num, p.numeric = v, true
	case int:
		p.num, p.numeric = float64(v), true
	case string:
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			p.num, p.numeric = n, true
		}
		p.str = v
	default:
		p.str = fmt.Sprint(v)
	}
	return p, nil
}

func (p predicate) match(row []string) bool {
	cell := row[p.col]
	if p.numeric {
		v, ok := parseFloat(cell)
		if !ok {
			// Missing values never satisfy a comparison except inequality.
			return p.accept(1) && p.accept(-1)
		}
		switch {
		case v > p.num:
			return p.accept(1)
		case v < p.num:
			return p.accept(-1)
		}
		return p.accept(0)
	}
	switch {
	case cell > p.str:
		return p.accept(1)
	case cell < p.str:
		return p.accept(-1)
	}
	return p.accept(0)
}

// Filter applies every filter in order to a dataset file.
func (s *Service) Filter(file string, filters []Filter) (*FilterResult, error) {
	path, err := s.filePath(file)
	if err != nil {
		return nil, err
	}
	t, err := readTable(path, "dataset")
	if err != nil {
		return nil, err
	}
	return t.Filter(filters)
}

// Filter returns the rows of t matching every filter.
func (t *Table) Filter(filters []Filter) (*FilterResult, error) {
	preds := make([]predicate, len(filters))
	for i, f := range filters {
		p, err := compile(t, f)
		if err != nil {
			return nil, err
		}
		preds[i] = p
	}

	res := &FilterResult{FilteredSample: []map[string]any{}}
	for i, row := range t.Rows {
		ok := true
		for _, p := range preds {
			if !p.match(row) {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		res.TotalRows++
		if len(res.FilteredSample) < PreviewRows {
			res.FilteredSample = append(res.FilteredSample, t.Record(i, t.Columns))
		}
	}
	return res, nil
}
