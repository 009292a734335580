package predict

import (
	"math"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pulse/internal/artifact"
	"github.com/sells-group/pulse/internal/model"
)

// Store is the slice of the artifact store inference needs.
type Store interface {
	ReadSummary(name string) (*model.Summary, error)
	AppendSimulation(name string, sim model.Simulation) (model.Simulation, error)
}

// Counter records usage of the prediction endpoint.
type Counter interface {
	RecordPrediction(at time.Time) error
}

// Result is a rounded prediction plus the simulation it was saved as.
type Result struct {
	PUE        float64           `json:"pue_prediction"`
	Simulation *model.Simulation `json:"simulation,omitempty"`
}

// Service runs predictions.
type Service struct {
	store   Store
	cache   *Cache
	counter Counter
	now     func() time.Time
}

// NewService wires a prediction service.
func NewService(store Store, cache *Cache, counter Counter) *Service {
	return &Service{store: store, cache: cache, counter: counter, now: time.Now}
}

// Round4 rounds to the four decimals predictions are reported with.
func Round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

// Predict scores values against the declared feature order of name. Every
// declared feature must be present; otherwise nothing is loaded, inferred
// or counted.
func (s *Service) Predict(name string, values map[string]float64, saveSimulation bool) (*Result, error) {
	sum, err := s.store.ReadSummary(name)
	if err != nil {
		return nil, err
	}
	if len(sum.Features) == 0 {
		return nil, model.Invalid("features not defined in summary of %q", name)
	}
	var missing []string
	row := make([]float64, len(sum.Features))
	for i, f := range sum.Features {
		v, ok := values[f]
		if !ok {
			missing = append(missing, f)
			continue
		}
		row[i] = v
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, model.Invalid("missing features %v", missing)
	}

	var raw float64
	err = s.cache.Do(name, func(a *artifact.Artifact) error {
		x, err := a.Scaler.Transform(row)
		if err != nil {
			return model.Invalid("model %q: %v", name, err)
		}
		raw, err = a.Predictor.Predict(x)
		return eris.Wrapf(err, "predict: infer %s", name)
	})
	if err != nil {
		return nil, err
	}

	now := s.now()
	res := &Result{PUE: Round4(raw)}
	if s.counter != nil {
		if err := s.counter.RecordPrediction(now); err != nil {
			zap.L().Warn("record prediction", zap.String("model", name), zap.Error(err))
		}
	}

	if saveSimulation {
		inputs := make(map[string]float64, len(values))
		for k, v := range values {
			inputs[k] = v
		}
		sim, err := s.store.AppendSimulation(name, model.Simulation{
			Timestamp: model.Timestamp(now),
			Inputs:    inputs,
			PUE:       res.PUE,
		})
		if err != nil {
			return nil, err
		}
		res.Simulation = &sim
	}
	return res, nil
}
