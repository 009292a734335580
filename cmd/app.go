package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pulse/internal/artifact"
	"github.com/sells-group/pulse/internal/chat"
	"github.com/sells-group/pulse/internal/dataset"
	"github.com/sells-group/pulse/internal/jobs"
	"github.com/sells-group/pulse/internal/predict"
	"github.com/sells-group/pulse/internal/settings"
	"github.com/sells-group/pulse/internal/store"
	"github.com/sells-group/pulse/internal/training"
	"github.com/sells-group/pulse/internal/usage"
	"github.com/sells-group/pulse/pkg/anthropic"
)

// appEnv holds the services every command shares.
type appEnv struct {
	Artifacts *artifact.Store
	Cache     *predict.Cache
	Datasets  *dataset.Service
	Settings  *settings.Store
	Usage     *usage.Tracker
	History   store.Store // may be nil
	Registry  *jobs.Registry
	Runner    *training.Runner
	Predictor *predict.Service
}

// Close releases the job history connection.
func (e *appEnv) Close() {
	if e.History != nil {
		_ = e.History.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "open job store")
	}
	return st, nil
}

// initApp validates the config for mode and wires the data tree, the cache
// and the job registry. Callers should defer env.Close().
func initApp(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	layout := artifact.Layout{Root: cfg.Data.Root}
	cache := predict.NewCache(nil)
	arts, err := artifact.New(layout, artifact.WithInvalidator(cache))
	if err != nil {
		return nil, err
	}
	cache.SetLoader(arts)

	prefs, err := settings.Open(cfg.Data.ConfigDir())
	if err != nil {
		return nil, err
	}
	tracker := usage.NewTracker(cfg.Data.ConfigDir())

	hist, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	var recorder jobs.Recorder
	if hist != nil {
		recorder = hist
	}

	data := dataset.NewService(layout.Datasets(), arts)
	env := &appEnv{
		Artifacts: arts,
		Cache:     cache,
		Datasets:  data,
		Settings:  prefs,
		Usage:     tracker,
		History:   hist,
		Registry: jobs.NewRegistry(jobs.Options{
			Workers:        cfg.Jobs.Workers,
			Retention:      cfg.Jobs.Retention(),
			ProgressBuffer: cfg.Jobs.ProgressBuffer,
			Recorder:       recorder,
		}),
		Runner: training.NewRunner(data, arts, training.Config{
			BatchSize:    cfg.Training.BatchSize,
			LearningRate: cfg.Training.LearningRate,
			Seed:         cfg.Training.Seed,
		}),
		Predictor: predict.NewService(arts, cache, tracker),
	}

	zap.L().Info("data tree ready",
		zap.String("root", layout.Root),
		zap.String("store", cfg.Store.Driver),
		zap.Int("workers", cfg.Jobs.Workers),
	)
	return env, nil
}

// initChat builds the question answering service for the configured
// provider.
func initChat(env *appEnv) (*chat.Service, error) {
	var (
		gen chat.Generator
		llm = cfg.Chat.DefaultModel
	)
	switch cfg.Chat.Provider {
	case "", "ollama":
		gen = chat.NewOllama(cfg.Chat.OllamaURL, cfg.Chat.Timeout())
	case "anthropic":
		gen = chat.NewAnthropic(anthropic.NewClient(cfg.Chat.AnthropicKey), cfg.Chat.MaxTokens)
		llm = cfg.Chat.AnthropicModel
	default:
		return nil, eris.Errorf("unsupported chat provider: %s", cfg.Chat.Provider)
	}

	zap.L().Info("chat enabled", zap.String("provider", cfg.Chat.Provider), zap.String("llm", llm))
	return chat.NewService(gen, env.Datasets, env.Settings, env.Artifacts, env.Usage, chat.Options{
		TopK:          cfg.Chat.TopK,
		DefaultLLM:    llm,
		RatePerMinute: cfg.Chat.RatePerMinute,
	}), nil
}
