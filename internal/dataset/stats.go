package dataset

import (
	"math"
	"sort"
)

// Mean of xs, or NaN when empty.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

// Std is the sample standard deviation (n-1).
func Std(xs []float64) float64 {
	if len(xs) < 2 {
		return math.NaN()
	}
	m := Mean(xs)
	var s float64
	for _, x := range xs {
		s += (x - m) * (x - m)
	}
	return math.Sqrt(s / float64(len(xs)-1))
}

// Quantile uses linear interpolation between closest ranks.
func Quantile(xs []float64, q float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	return quantileSorted(sorted, q)
}

func quantileSorted(sorted []float64, q float64) float64 {
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (pos-float64(lo))*(sorted[hi]-sorted[lo])
}

// Pearson correlation of paired samples. NaN when either side is constant.
func Pearson(xs, ys []float64) float64 {
	n := len(xs)
	if n != len(ys) || n < 2 {
		return math.NaN()
	}
	mx, my := Mean(xs), Mean(ys)
	var sxy, sxx, syy float64
	for i := range xs {
		dx, dy := xs[i]-mx, ys[i]-my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return math.NaN()
	}
	return sxy / math.Sqrt(sxx*syy)
}

// Describe returns count, mean, std, min, quartiles and max of xs, keyed
// the way tabular summaries are usually presented.
func Describe(xs []float64) map[string]float64 {
	out := map[string]float64{"count": float64(len(xs))}
	if len(xs) == 0 {
		return out
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	out["mean"] = Mean(sorted)
	if std := Std(sorted); !math.IsNaN(std) {
		out["std"] = std
	}
	out["min"] = sorted[0]
	out["25%"] = quantileSorted(sorted, 0.25)
	out["50%"] = quantileSorted(sorted, 0.5)
	out["75%"] = quantileSorted(sorted, 0.75)
	out["max"] = sorted[len(sorted)-1]
	return out
}

// Correlations computes the Pearson r of every numeric column with target over
// their pairwise-complete rows. Constant columns are omitted.
func (t *Table) Correlations(target string) map[string]float64 {
	ti := t.Index(target)
	out := map[string]float64{}
	if ti < 0 {
		return out
	}
	for _, c := range t.NumericColumns() {
		ci := t.Index(c)
		var xs, ys []float64
		for _, row := range t.Rows {
			x, okx := parseFloat(row[ci])
			y, oky := parseFloat(row[ti])
			if okx && oky {
				xs = append(xs, x)
				ys = append(ys, y)
			}
		}
		r := Pearson(xs, ys)
		if math.IsNaN(r) {
			continue
		}
		out[c] = r
	}
	return out
}
