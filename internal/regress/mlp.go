package regress

import (
	"math"
	"math/rand/v2"

	"github.com/rotisserie/eris"
)

// HiddenSizes is the fixed architecture: two ReLU layers followed by a
// single linear output.
var HiddenSizes = []int{64, 32}

// Layer is a dense layer with weights stored row-major as [out][in].
type Layer struct {
	In      int       `json:"in"`
	Out     int       `json:"out"`
	Weights []float64 `json:"weights"`
	Biases  []float64 `json:"biases"`
}

// MLP is a feed-forward regressor.
type MLP struct {
	Layers []Layer `json:"layers"`
}

// FitConfig controls training.
type FitConfig struct {
	Epochs       int
	BatchSize    int
	LearningRate float64
	Seed         uint64
}

// EpochStats are the training-set metrics reported after each epoch.
type EpochStats struct {
	Epoch int
	Loss  float64
	MAE   float64
	MSE   float64
}

// NewMLP builds the fixed architecture for inputs features with Glorot
// uniform weights drawn from seed.
func NewMLP(inputs int, seed uint64) (*MLP, error) {
	if inputs < 1 {
		return nil, eris.New("regress: model needs at least one input")
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	sizes := append(append([]int{inputs}, HiddenSizes...), 1)

	m := &MLP{}
	for i := 1; i < len(sizes); i++ {
		in, out := sizes[i-1], sizes[i]
		limit := math.Sqrt(6 / float64(in+out))
		l := Layer{In: in, Out: out, Weights: make([]float64, in*out), Biases: make([]float64, out)}
		for k := range l.Weights {
			l.Weights[k] = (rng.Float64()*2 - 1) * limit
		}
		m.Layers = append(m.Layers, l)
	}
	return m, nil
}

// Inputs returns the expected feature count.
func (m *MLP) Inputs() int {
	if len(m.Layers) == 0 {
		return 0
	}
	return m.Layers[0].In
}

// Predict runs a forward pass for one standardised row.
func (m *MLP) Predict(x []float64) (float64, error) {
	if len(x) != m.Inputs() {
		return 0, eris.Errorf("regress: model expects %d features, got %d", m.Inputs(), len(x))
	}
	acts := m.forward(x)
	return acts[len(acts)-1][0], nil
}

// PredictAll runs Predict over every row of X.
func (m *MLP) PredictAll(X [][]float64) ([]float64, error) {
	out := make([]float64, len(X))
	for i, row := range X {
		p, err := m.Predict(row)
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

// forward returns the activations of every layer, input included.
func (m *MLP) forward(x []float64) [][]float64 {
	acts := make([][]float64, 0, len(m.Layers)+1)
	acts = append(acts, x)
	cur := x
	for li, l := range m.Layers {
		next := make([]float64, l.Out)
		for o := 0; o < l.Out; o++ {
			s := l.Biases[o]
			row := l.Weights[o*l.In : (o+1)*l.In]
			for i, v := range cur {
				s += row[i] * v
			}
			if li < len(m.Layers)-1 && s < 0 {
				s = 0
			}
			next[o] = s
		}
		acts = append(acts, next)
		cur = next
	}
	return acts
}

// adam keeps first and second moment estimates for one parameter slice.
type adam struct {
	m, v []float64
}

const (
	adamBeta1   = 0.9
	adamBeta2   = 0.999
	adamEpsilon = 1e-7
)

func (a *adam) step(params, grads []float64, lr float64, t int) {
	c1 := 1 - math.Pow(adamBeta1, float64(t))
	c2 := 1 - math.Pow(adamBeta2, float64(t))
	for i, g := range grads {
		a.m[i] = adamBeta1*a.m[i] + (1-adamBeta1)*g
		a.v[i] = adamBeta2*a.v[i] + (1-adamBeta2)*g*g
		mHat := a.m[i] / c1
		vHat := a.v[i] / c2
		params[i] -= lr * mHat / (math.Sqrt(vHat) + adamEpsilon)
	}
}

// Fit trains on standardised X against y with mini-batch Adam on mean
// squared error. onEpoch, when set, is called after every epoch in order.
func (m *MLP) Fit(X [][]float64, y []float64, cfg FitConfig, onEpoch func(EpochStats)) ([]EpochStats, error) {
	if len(X) == 0 || len(X) != len(y) {
		return nil, eris.Errorf("regress: fit needs matching non-empty X and y (got %d, %d)", len(X), len(y))
	}
	if cfg.Epochs < 1 {
		return nil, eris.Errorf("regress: epochs must be positive, got %d", cfg.Epochs)
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 16
	}
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = 0.001
	}
	for _, row := range X {
		if len(row) != m.Inputs() {
			return nil, eris.Errorf("regress: row has %d features, model expects %d", len(row), m.Inputs())
		}
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed+1))
	wOpt := make([]adam, len(m.Layers))
	bOpt := make([]adam, len(m.Layers))
	wGrad := make([][]float64, len(m.Layers))
	bGrad := make([][]float64, len(m.Layers))
	for i, l := range m.Layers {
		wOpt[i] = adam{m: make([]float64, len(l.Weights)), v: make([]float64, len(l.Weights))}
		bOpt[i] = adam{m: make([]float64, len(l.Biases)), v: make([]float64, len(l.Biases))}
		wGrad[i] = make([]float64, len(l.Weights))
		bGrad[i] = make([]float64, len(l.Biases))
	}

	order := make([]int, len(X))
	for i := range order {
		order[i] = i
	}

	history := make([]EpochStats, 0, cfg.Epochs)
	t := 0
	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		var sumSq, sumAbs float64
		for start := 0; start < len(order); start += cfg.BatchSize {
			end := min(start+cfg.BatchSize, len(order))
			batch := order[start:end]
			for i := range wGrad {
				clear(wGrad[i])
				clear(bGrad[i])
			}

			scale := 2 / float64(len(batch))
			for _, k := range batch {
				acts := m.forward(X[k])
				pred := acts[len(acts)-1][0]
				diff := pred - y[k]
				sumSq += diff * diff
				sumAbs += math.Abs(diff)
				m.backward(acts, []float64{diff * scale}, wGrad, bGrad)
			}

			t++
			for i := range m.Layers {
				wOpt[i].step(m.Layers[i].Weights, wGrad[i], cfg.LearningRate, t)
				bOpt[i].step(m.Layers[i].Biases, bGrad[i], cfg.LearningRate, t)
			}
		}

		n := float64(len(order))
		st := EpochStats{Epoch: epoch, Loss: sumSq / n, MAE: sumAbs / n, MSE: sumSq / n}
		history = append(history, st)
		if onEpoch != nil {
			onEpoch(st)
		}
	}
	return history, nil
}

// backward accumulates gradients for one sample given the output delta.
func (m *MLP) backward(acts [][]float64, delta []float64, wGrad, bGrad [][]float64) {
	for li := len(m.Layers) - 1; li >= 0; li-- {
		l := m.Layers[li]
		in := acts[li]
		var prev []float64
		if li > 0 {
			prev = make([]float64, l.In)
		}
		for o := 0; o < l.Out; o++ {
			d := delta[o]
			if d == 0 {
				continue
			}
			bGrad[li][o] += d
			row := l.Weights[o*l.In : (o+1)*l.In]
			grow := wGrad[li][o*l.In : (o+1)*l.In]
			for i, v := range in {
				grow[i] += d * v
				if prev != nil {
					prev[i] += d * row[i]
				}
			}
		}
		if prev == nil {
			return
		}
		// ReLU derivative on the previous layer's output.
		for i, a := range in {
			if a <= 0 {
				prev[i] = 0
			}
		}
		delta = prev
	}
}
