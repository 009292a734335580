// Package training runs single model fits and AutoML sweeps as job work.
package training

import (
	"context"
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pulse/internal/artifact"
	"github.com/sells-group/pulse/internal/dataset"
	"github.com/sells-group/pulse/internal/jobs"
	"github.com/sells-group/pulse/internal/model"
	"github.com/sells-group/pulse/internal/regress"
)

// DatasetSource opens the training table of a model.
type DatasetSource interface {
	Open(modelName string) (*dataset.Table, error)
}

// ArtifactSink persists finished models and staged candidates.
type ArtifactSink interface {
	Write(name string, a *artifact.Artifact) error
	Stage(a *artifact.Artifact) (string, error)
}

// Config tunes the optimiser. Zero values take the regress defaults.
type Config struct {
	BatchSize    int
	LearningRate float64
	Seed         uint64
}

// Runner executes training work against a dataset source and artifact sink.
type Runner struct {
	data  DatasetSource
	store ArtifactSink
	cfg   Config
}

// NewRunner returns a Runner.
func NewRunner(data DatasetSource, store ArtifactSink, cfg Config) *Runner {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 16
	}
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = 0.001
	}
	return &Runner{data: data, store: store, cfg: cfg}
}

// ValidateTrain checks the preconditions of a training run.
func ValidateTrain(p model.TrainParams) error {
	if err := model.ValidateName(p.ModelName); err != nil {
		return err
	}
	if len(p.Features) == 0 {
		return model.Invalid("at least one feature is required")
	}
	if p.Epochs < 1 {
		return model.Invalid("epochs must be positive, got %d", p.Epochs)
	}
	return validateTestSize(p.TestSize)
}

// ValidateSweep checks the preconditions of an AutoML sweep.
func ValidateSweep(p model.SweepParams) error {
	if err := model.ValidateName(p.ModelName); err != nil {
		return err
	}
	if len(p.Features) == 0 {
		return model.Invalid("at least one feature is required")
	}
	if len(p.EpochOptions) == 0 || len(p.TestSizeOptions) == 0 {
		return model.Invalid("epoch and test size options must not be empty")
	}
	for _, e := range p.EpochOptions {
		if e < 1 {
			return model.Invalid("epochs must be positive, got %d", e)
		}
	}
	for _, ts := range p.TestSizeOptions {
		if err := validateTestSize(ts); err != nil {
			return err
		}
	}
	return nil
}

func validateTestSize(ts float64) error {
	if ts <= 0 || ts >= 100 || math.IsNaN(ts) {
		return model.Invalid("test size must be between 0 and 100, got %v", ts)
	}
	return nil
}

// prepared is a scaled design matrix ready for splitting.
type prepared struct {
	X      [][]float64
	y      []float64
	scaler *regress.Scaler
}

// prepare fits the scaler on the full feature matrix before any split.
func (r *Runner) prepare(modelName string, features []string) (*prepared, error) {
	t, err := r.data.Open(modelName)
	if err != nil {
		return nil, err
	}
	X, y, err := t.XY(features)
	if err != nil {
		return nil, err
	}
	if len(X) < 2 {
		return nil, model.Invalid("dataset for %q has %d complete rows; need at least 2", modelName, len(X))
	}
	scaler, err := regress.FitScaler(X)
	if err != nil {
		return nil, eris.Wrap(err, "training: fit scaler")
	}
	Xs, err := scaler.TransformAll(X)
	if err != nil {
		return nil, eris.Wrap(err, "training: scale features")
	}
	return &prepared{X: Xs, y: y, scaler: scaler}, nil
}

type partition struct {
	xTrain, xTest [][]float64
	yTrain, yTest []float64
}

func (p *prepared) split(testSize float64) (*partition, error) {
	trainIdx, testIdx, err := regress.Split(len(p.X), testSize, regress.SplitSeed)
	if err != nil {
		return nil, model.Invalid("cannot split %d rows at test size %v: %v", len(p.X), testSize, err)
	}
	out := &partition{}
	out.xTrain, out.yTrain = regress.Take(p.X, p.y, trainIdx)
	out.xTest, out.yTest = regress.Take(p.X, p.y, testIdx)
	return out, nil
}

// fit trains a fresh network on part and evaluates it on the held-out rows.
func (r *Runner) fit(part *partition, inputs, epochs int, onEpoch func(regress.EpochStats)) (*regress.MLP, model.Metrics, error) {
	net, err := regress.NewMLP(inputs, r.cfg.Seed)
	if err != nil {
		return nil, model.Metrics{}, eris.Wrap(err, "training: build network")
	}
	history, err := net.Fit(part.xTrain, part.yTrain, regress.FitConfig{
		Epochs:       epochs,
		BatchSize:    r.cfg.BatchSize,
		LearningRate: r.cfg.LearningRate,
		Seed:         r.cfg.Seed,
	}, onEpoch)
	if err != nil {
		return nil, model.Metrics{}, eris.Wrap(err, "training: fit")
	}
	pred, err := net.PredictAll(part.xTest)
	if err != nil {
		return nil, model.Metrics{}, eris.Wrap(err, "training: evaluate")
	}
	return net, model.Metrics{
		Loss: history[len(history)-1].Loss,
		MAE:  regress.MAE(part.yTest, pred),
		R2:   regress.R2(part.yTest, pred),
	}, nil
}

// Train fits one model and writes it to the store under p.ModelName,
// replacing any previous artifact of that name.
func (r *Runner) Train(ctx context.Context, p model.TrainParams, emit jobs.Emit) (*model.Metrics, error) {
	if err := ValidateTrain(p); err != nil {
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
	part, err := prep.split(p.TestSize)
	if err != nil {
		return nil, err
	}

	net, metrics, err := r.fit(part, len(p.Features), p.Epochs, func(s regress.EpochStats) {
		emitSafe(emit, model.ProgressEvent{
			Type:        model.EventEpoch,
			Epoch:       s.Epoch,
			TotalEpochs: p.Epochs,
			Loss:        model.F(s.Loss),
			MAE:         model.F(s.MAE),
			MSE:         model.F(s.MSE),
		})
	})
	if err != nil {
		return nil, err
	}

	err = r.store.Write(p.ModelName, &artifact.Artifact{
		Predictor: net,
		Scaler:    prep.scaler,
		Summary: model.Summary{
			ModelName: p.ModelName,
			Features:  p.Features,
			Epochs:    p.Epochs,
			TestSize:  p.TestSize,
			Metrics:   metrics,
		},
	})
	if err != nil {
		return nil, err
	}
	log.Info("model trained",
		zap.Int("rows", len(prep.X)),
		zap.Float64("loss", metrics.Loss),
		zap.Float64("mae", metrics.MAE),
		zap.Float64("r2", metrics.R2),
	)
	return &metrics, nil
}

func emitSafe(emit jobs.Emit, ev model.ProgressEvent) {
	if emit != nil {
		emit(ev)
	}
}

// Round6 rounds to six decimal places, the precision candidate metrics are
// reported with.
func Round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// TrainJob adapts Train to registry work.
func (r *Runner) TrainJob(p model.TrainParams) jobs.Work {
	return func(ctx context.Context, emit jobs.Emit) error {
		_, err := r.Train(ctx, p, emit)
		return err
	}
}

// SweepJob adapts Sweep to registry work.
func (r *Runner) SweepJob(p model.SweepParams) jobs.Work {
	return func(ctx context.Context, emit jobs.Emit) error {
		_, err := r.Sweep(ctx, p, emit)
		return err
	}
}
