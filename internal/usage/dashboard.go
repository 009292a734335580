package usage

import (
	"context"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/sells-group/pulse/internal/model"
)

// SummarySource enumerates and reads model summaries.
type SummarySource interface {
	SummaryNames() ([]string, error)
	ReadSummary(name string) (*model.Summary, error)
}

// ModelAccuracy is the R² of one model.
type ModelAccuracy struct {
	Model string  `json:"model"`
	R2    float64 `json:"r2"`
}

// Dashboard aggregates model quality and usage.
type Dashboard struct {
	ModelsCount        int             `json:"models_count"`
	AvgAccuracy        float64         `json:"avg_accuracy"`
	AccuracyByModel    []ModelAccuracy `json:"accuracy_by_model"`
	TotalPredictions   int             `json:"total_predictions"`
	PredictionsByMonth map[string]int  `json:"predictions_by_month"`
	LLMQuestions       int             `json:"llm_questions"`
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

// BuildDashboard reads every summary concurrently. Unreadable summaries are
// skipped.
func BuildDashboard(ctx context.Context, src SummarySource, tracker *Tracker) (*Dashboard, error) {
	names, err := src.SummaryNames()
	if err != nil {
		return nil, err
	}

	results := make([]*ModelAccuracy, len(names))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, name := range names {
		g.Go(func() error {
			sum, err := src.ReadSummary(name)
			if err != nil {
				return nil
			}
			results[i] = &ModelAccuracy{Model: name, R2: sum.Metrics.R2}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	stats := tracker.Load()
	d := &Dashboard{
		AccuracyByModel:    []ModelAccuracy{},
		TotalPredictions:   stats.TotalPredictions(),
		PredictionsByMonth: stats.PredictionsPerMonth,
		LLMQuestions:       stats.LLMQuestions,
	}
	var total float64
	for _, r := range results {
		if r == nil {
			continue
		}
		total += r.R2
		d.AccuracyByModel = append(d.AccuracyByModel, ModelAccuracy{Model: r.Model, R2: round4(r.R2)})
	}
	d.ModelsCount = len(d.AccuracyByModel)
	if d.ModelsCount > 0 {
		d.AvgAccuracy = round4(total / float64(d.ModelsCount))
	}
	return d, nil
}
