package chat

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sells-group/pulse/internal/dataset"
	"github.com/sells-group/pulse/internal/model"
)

// TimestampColumn is excluded from descriptions and keys the time rules.
const TimestampColumn = "timestamp"

const (
	extraRows   = 10
	movingSpan  = 6
	iqrFactor   = 1.5
	valueFormat = "%.6f"
)

var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006",
}

func cellFloat(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return v, err == nil
}

func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Describe renders one retrieval chunk per numeric column.
func Describe(t *dataset.Table) []string {
	var out []string
	for _, c := range t.NumericColumns() {
		if c == TimestampColumn {
			continue
		}
		xs := t.Column(c)
		mn, mx := xs[0], xs[0]
		for _, x := range xs {
			mn = math.Min(mn, x)
			mx = math.Max(mx, x)
		}
		out = append(out, fmt.Sprintf("Column '%s' has mean %.2f, std %.2f, min %.2f, max %.2f",
			c, dataset.Mean(xs), dataset.Std(xs), mn, mx))
	}
	return out
}

type namedValue struct {
	name  string
	value float64
}

// CorrelationTable lists the signed correlation of each numeric column with
// the target, highest first.
func CorrelationTable(t *dataset.Table) string {
	corr := t.Correlations(model.TargetColumn)
	rows := make([]namedValue, 0, len(corr))
	width := 0
	for name, r := range corr {
		rows = append(rows, namedValue{name, r})
		width = max(width, len(name))
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].value != rows[j].value {
			return rows[i].value > rows[j].value
		}
		return rows[i].name < rows[j].name
	})
	var b strings.Builder
	for _, r := range rows {
		fmt.Fprintf(&b, "%-*s    "+valueFormat+"\n", width, r.name, r.value)
	}
	return b.String()
}

// mentionedColumn returns the first numeric column named in query.
func mentionedColumn(t *dataset.Table, query string) string {
	q := strings.ToLower(query)
	numeric := map[string]bool{}
	for _, c := range t.NumericColumns() {
		numeric[c] = true
	}
	for _, c := range t.Columns {
		if numeric[c] && c != TimestampColumn && strings.Contains(q, c) {
			return c
		}
	}
	return ""
}

func hasWord(query, word string) bool {
	for _, tok := range tokens(query) {
		if tok == word {
			return true
		}
	}
	return false
}

// Analysis builds the correlation section plus any keyword-triggered extras
// for the column the query names.
func Analysis(t *dataset.Table, query string) string {
	var b strings.Builder
	b.WriteString("\nCORRELATION WITH PUE:\n")
	b.WriteString(CorrelationTable(t))

	col := mentionedColumn(t, query)
	if col == "" {
		return b.String()
	}
	q := strings.ToLower(query)
	if strings.Contains(q, "outlier") {
		fmt.Fprintf(&b, "\nOUTLIERS IN %s:\n%s", strings.ToUpper(col), outliers(t, col))
	}
	if strings.Contains(q, "trend") {
		fmt.Fprintf(&b, "\nDAILY TREND FOR %s:\n%s", strings.ToUpper(col), dailyTrend(t, col))
	}
	if strings.Contains(q, "moving average") || hasWord(query, "ma") {
		fmt.Fprintf(&b, "\nMOVING AVERAGE FOR %s:\n%s", strings.ToUpper(col), movingAverage(t, col))
	}
	return b.String()
}

// outliers lists the first rows outside the 1.5 IQR fences.
func outliers(t *dataset.Table, col string) string {
	xs := t.Column(col)
	if len(xs) == 0 {
		return ""
	}
	q1, q3 := dataset.Quantile(xs, 0.25), dataset.Quantile(xs, 0.75)
	lo, hi := q1-iqrFactor*(q3-q1), q3+iqrFactor*(q3-q1)

	ci, ti := t.Index(col), t.Index(TimestampColumn)
	var b strings.Builder
	n := 0
	for _, row := range t.Rows {
		v, ok := cellFloat(row[ci])
		if !ok || (v >= lo && v <= hi) {
			continue
		}
		if ti >= 0 {
			fmt.Fprintf(&b, "%s "+valueFormat+"\n", row[ti], v)
		} else {
			fmt.Fprintf(&b, valueFormat+"\n", v)
		}
		if n++; n == extraRows {
			break
		}
	}
	return b.String()
}

type bucket struct {
	at    time.Time
	sum   float64
	count int
}

// resample averages col over timestamps truncated by key, oldest first.
// Empty buckets are omitted.
func resample(t *dataset.Table, col string, key func(time.Time) time.Time) []namedValue {
	ci, ti := t.Index(col), t.Index(TimestampColumn)
	if ci < 0 || ti < 0 {
		return nil
	}
	buckets := map[time.Time]*bucket{}
	for _, row := range t.Rows {
		ts, ok := parseTimestamp(row[ti])
		if !ok {
			continue
		}
		v, ok := cellFloat(row[ci])
		if !ok {
			continue
		}
		k := key(ts)
		bk := buckets[k]
		if bk == nil {
			bk = &bucket{at: k}
			buckets[k] = bk
		}
		bk.sum += v
		bk.count++
	}
	ordered := make([]*bucket, 0, len(buckets))
	for _, bk := range buckets {
		ordered = append(ordered, bk)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].at.Before(ordered[j].at) })
	out := make([]namedValue, len(ordered))
	for i, bk := range ordered {
		out[i] = namedValue{bk.at.Format("2006-01-02 15:04:05"), bk.sum / float64(bk.count)}
	}
	return out
}

func tail[T any](xs []T, n int) []T {
	if len(xs) > n {
		return xs[len(xs)-n:]
	}
	return xs
}

func dailyTrend(t *dataset.Table, col string) string {
	days := resample(t, col, func(ts time.Time) time.Time {
		return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, ts.Location())
	})
	var b strings.Builder
	for _, d := range tail(days, extraRows) {
		fmt.Fprintf(&b, "%s "+valueFormat+"\n", d.name[:10], d.value)
	}
	return b.String()
}

func movingAverage(t *dataset.Table, col string) string {
	hours := resample(t, col, func(ts time.Time) time.Time { return ts.Truncate(time.Hour) })
	ma := make([]float64, len(hours))
	for i := range hours {
		if i+1 < movingSpan {
			ma[i] = math.NaN()
			continue
		}
		var sum float64
		for _, h := range hours[i+1-movingSpan : i+1] {
			sum += h.value
		}
		ma[i] = sum / movingSpan
	}
	start := max(len(hours)-extraRows, 0)
	var b strings.Builder
	fmt.Fprintf(&b, "timestamp %s MA_%d\n", col, movingSpan)
	for i := start; i < len(hours); i++ {
		avg := "NaN"
		if !math.IsNaN(ma[i]) {
			avg = fmt.Sprintf(valueFormat, ma[i])
		}
		fmt.Fprintf(&b, "%s "+valueFormat+" %s\n", hours[i].name, hours[i].value, avg)
	}
	return b.String()
}
