package regress

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linearData(n int) ([][]float64, []float64) {
	X := make([][]float64, n)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		a := float64(i%17) / 4
		b := float64((i*7)%11) / 3
		X[i] = []float64{a, b}
		y[i] = 1.2 + 0.05*a - 0.02*b
	}
	return X, y
}

func TestFitScaler_Standardises(t *testing.T) {
	X := [][]float64{{1, 10}, {2, 10}, {3, 10}}
	s, err := FitScaler(X)
	require.NoError(t, err)

	assert.InDelta(t, 2.0, s.Mean[0], 1e-9)
	assert.InDelta(t, math.Sqrt(2.0/3.0), s.Scale[0], 1e-9)
	assert.Equal(t, 1.0, s.Scale[1], "constant column keeps unit scale")

	out, err := s.TransformAll(X)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, out[1][0], 1e-9)
	assert.InDelta(t, 0.0, out[2][1], 1e-9)
}

func TestScaler_TransformWidthMismatch(t *testing.T) {
	s, err := FitScaler([][]float64{{1, 2}})
	require.NoError(t, err)
	_, err = s.Transform([]float64{1})
	assert.Error(t, err)
}

func TestSplit_DeterministicMembership(t *testing.T) {
	train1, test1, err := Split(50, 20, SplitSeed)
	require.NoError(t, err)
	train2, test2, err := Split(50, 20, SplitSeed)
	require.NoError(t, err)

	assert.Equal(t, test1, test2)
	assert.Equal(t, train1, train2)
	assert.Len(t, test1, 10)
	assert.Len(t, train1, 40)

	seen := map[int]bool{}
	for _, i := range append(append([]int{}, train1...), test1...) {
		assert.False(t, seen[i], "index %d appears twice", i)
		seen[i] = true
	}
	assert.Len(t, seen, 50)
}

func TestSplit_RoundsTestSizeUp(t *testing.T) {
	_, test, err := Split(11, 25, SplitSeed)
	require.NoError(t, err)
	assert.Len(t, test, 3)
}

func TestSplit_Rejects(t *testing.T) {
	_, _, err := Split(10, 0, SplitSeed)
	assert.Error(t, err)
	_, _, err = Split(10, 100, SplitSeed)
	assert.Error(t, err)
	_, _, err = Split(1, 50, SplitSeed)
	assert.ErrorIs(t, err, ErrTooFewRows)
}

func TestMetrics(t *testing.T) {
	yTrue := []float64{1, 2, 3}
	yPred := []float64{1, 2, 4}
	assert.InDelta(t, 1.0/3.0, MAE(yTrue, yPred), 1e-9)
	assert.InDelta(t, 1.0/3.0, MSE(yTrue, yPred), 1e-9)
	assert.InDelta(t, 0.5, R2(yTrue, yPred), 1e-9)

	assert.Equal(t, 1.0, R2([]float64{2, 2}, []float64{2, 2}))
	assert.Equal(t, 0.0, R2([]float64{2, 2}, []float64{1, 2}))
}

func TestMLP_FitReducesLoss(t *testing.T) {
	X, y := linearData(120)
	s, err := FitScaler(X)
	require.NoError(t, err)
	Xs, err := s.TransformAll(X)
	require.NoError(t, err)

	m, err := NewMLP(2, 7)
	require.NoError(t, err)

	var epochs []int
	hist, err := m.Fit(Xs, y, FitConfig{Epochs: 40, BatchSize: 16, Seed: 7}, func(st EpochStats) {
		epochs = append(epochs, st.Epoch)
	})
	require.NoError(t, err)
	require.Len(t, hist, 40)

	for i, e := range epochs {
		assert.Equal(t, i+1, e, "epochs reported in order")
	}
	assert.Less(t, hist[len(hist)-1].Loss, hist[0].Loss)
	assert.Equal(t, hist[5].Loss, hist[5].MSE)
}

func TestMLP_DeterministicForSeed(t *testing.T) {
	X, y := linearData(40)
	fit := func() []float64 {
		m, err := NewMLP(2, 3)
		require.NoError(t, err)
		_, err = m.Fit(X, y, FitConfig{Epochs: 3, Seed: 3}, nil)
		require.NoError(t, err)
		p, err := m.PredictAll(X[:5])
		require.NoError(t, err)
		return p
	}
	assert.Equal(t, fit(), fit())
}

func TestMLP_FitRejectsBadInput(t *testing.T) {
	m, err := NewMLP(2, 1)
	require.NoError(t, err)

	_, err = m.Fit(nil, nil, FitConfig{Epochs: 1}, nil)
	assert.Error(t, err)
	_, err = m.Fit([][]float64{{1, 2}}, []float64{1}, FitConfig{Epochs: 0}, nil)
	assert.Error(t, err)
	_, err = m.Fit([][]float64{{1}}, []float64{1}, FitConfig{Epochs: 1}, nil)
	assert.Error(t, err)
	_, err = m.Predict([]float64{1, 2, 3})
	assert.Error(t, err)
}

func TestCodec_PreservesPredictions(t *testing.T) {
	m, err := NewMLP(3, 11)
	require.NoError(t, err)
	x := []float64{0.1, -0.4, 1.3}
	want, err := m.Predict(x)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, m))

	var got MLP
	require.NoError(t, Decode(&buf, &got))
	p, err := got.Predict(x)
	require.NoError(t, err)
	assert.Equal(t, want, p)
}
