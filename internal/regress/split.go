package regress

import (
	"math"
	"math/rand/v2"

	"github.com/rotisserie/eris"
)

// SplitSeed is the fixed partition seed; identical inputs always produce the
// same train/test membership.
const SplitSeed uint64 = 42

// ErrTooFewRows is returned when a split would leave either side empty.
var ErrTooFewRows = eris.New("regress: not enough rows for the requested split")

// Split shuffles row indices with seed and reserves ceil(testPct% of n) rows
// for testing.
func Split(n int, testPct float64, seed uint64) (train, test []int, err error) {
	if testPct <= 0 || testPct >= 100 {
		return nil, nil, eris.Errorf("regress: test percentage %.2f out of range (0, 100)", testPct)
	}
	nTest := int(math.Ceil(testPct / 100 * float64(n)))
	if nTest < 1 || n-nTest < 1 {
		return nil, nil, ErrTooFewRows
	}

	perm := rand.New(rand.NewPCG(seed, seed)).Perm(n)
	test = append([]int(nil), perm[:nTest]...)
	train = append([]int(nil), perm[nTest:]...)
	return train, test, nil
}

// Take gathers rows of X and y at idx.
func Take(X [][]float64, y []float64, idx []int) ([][]float64, []float64) {
	xs := make([][]float64, len(idx))
	ys := make([]float64, len(idx))
	for i, k := range idx {
		xs[i] = X[k]
		ys[i] = y[k]
	}
	return xs, ys
}
