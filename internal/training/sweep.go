package training

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pulse/internal/artifact"
	"github.com/sells-group/pulse/internal/jobs"
	"github.com/sells-group/pulse/internal/model"
	"github.com/sells-group/pulse/internal/regress"
)

// Candidate is one staged sweep result awaiting promotion.
type Candidate struct {
	TempID   string  `json:"temp_id"`
	Epochs   int     `json:"epochs"`
	TestSize float64 `json:"test_size"`
	Loss     float64 `json:"loss"`
	MAE      float64 `json:"mae"`
	R2       float64 `json:"r2"`
}

// Sweep trains one candidate per (test size, epochs) pair, test sizes in the
// outer loop so each split is computed once. Every candidate is staged and
// announced with a candidate event carrying its staging id.
func (r *Runner) Sweep(ctx context.Context, p model.SweepParams, emit jobs.Emit) ([]Candidate, error) {
	if err := ValidateSweep(p); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "training: cancelled before start")
	}
	log := zap.L().With(zap.String("model", p.ModelName))

	prep, err := r.prepare(p.ModelName, p.Features)
	if err != nil {
		return nil, err
	}

	total := len(p.EpochOptions) * len(p.TestSizeOptions)
	out := make([]Candidate, 0, total)
	index := 0
	for _, testSize := range p.TestSizeOptions {
		part, err := prep.split(testSize)
		if err != nil {
			return out, err
		}
		for _, epochs := range p.EpochOptions {
			index++
			idx, ts, ep := index, testSize, epochs

			net, metrics, err := r.fit(part, len(p.Features), ep, func(s regress.EpochStats) {
				emitSafe(emit, model.ProgressEvent{
					Type:            model.EventEpoch,
					Epoch:           s.Epoch,
					TotalEpochs:     ep,
					CandidateIndex:  idx,
					TotalCandidates: total,
					Epochs:          ep,
					TestSize:        ts,
					Loss:            model.F(s.Loss),
					MAE:             model.F(s.MAE),
					MSE:             model.F(s.MSE),
				})
			})
			if err != nil {
				return out, err
			}

			tempID, err := r.store.Stage(&artifact.Artifact{
				Predictor: net,
				Scaler:    prep.scaler,
				Summary: model.Summary{
					ModelName: p.ModelName,
					Features:  p.Features,
					Epochs:    ep,
					TestSize:  ts,
					Metrics:   metrics,
				},
			})
			if err != nil {
				return out, err
			}

			c := Candidate{
				TempID:   tempID,
				Epochs:   ep,
				TestSize: ts,
				Loss:     Round6(metrics.Loss),
				MAE:      Round6(metrics.MAE),
				R2:       Round6(metrics.R2),
			}
			out = append(out, c)
			emitSafe(emit, model.ProgressEvent{
				Type:            model.EventCandidate,
				CandidateIndex:  idx,
				TotalCandidates: total,
				Epochs:          ep,
				TestSize:        ts,
				TempID:          tempID,
				Loss:            model.F(c.Loss),
				MAE:             model.F(c.MAE),
				R2:              model.F(c.R2),
			})
			log.Info("candidate staged",
				zap.String("staging_id", tempID),
				zap.Int("candidate", idx),
				zap.Int("total", total),
				zap.Int("epochs", ep),
				zap.Float64("test_size", ts),
			)
		}
	}
	return out, nil
}
