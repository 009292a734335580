// Package chat answers questions about a model's dataset with a
// retrieval-augmented prompt sent to a streaming text generator.
package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/abadojack/whatlanggo"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/pulse/internal/dataset"
	"github.com/sells-group/pulse/internal/model"
)

// ErrRateLimited is returned when questions arrive faster than allowed.
var ErrRateLimited = eris.New("chat: too many questions, retry later")

const (
	// DefaultTopK is how many column descriptions are retrieved per question.
	DefaultTopK = 3
	// DefaultLLM is the generator model used when a request names none.
	DefaultLLM = "phi"
	// ErrorPrefix starts the inline chunk that reports a generator failure.
	ErrorPrefix = "[Error]: "
)

const promptTemplate = `You are an expert assistant in data center energy efficiency. You have access to real data and statistical summaries.

CONTEXT:
%s

Please answer the following question:
%s

%s
`

// Request is one question.
type Request struct {
	Query     string `json:"query"`
	Model     string `json:"model"`
	Stream    bool   `json:"stream"`
	ModelName string `json:"model_name"`
}

// DatasetSource opens a model's dataset.
type DatasetSource interface {
	Open(modelName string) (*dataset.Table, error)
}

// Settings yields the operator's default model.
type Settings interface {
	DefaultModel() (string, error)
}

// History records interactions on a model summary.
type History interface {
	AppendLLM(name string, entry model.LLMEntry) error
}

// Counter counts questions.
type Counter interface {
	RecordQuestion() error
}

// Options tunes a Service. Zero values select defaults.
type Options struct {
	TopK          int
	DefaultLLM    string
	RatePerMinute int
	Embedder      Embedder
}

type loaded struct {
	name  string
	table *dataset.Table
	index *Index
}

// Service builds prompts and streams answers.
type Service struct {
	gen      Generator
	data     DatasetSource
	settings Settings
	history  History
	counter  Counter
	embedder Embedder
	limiter  *rate.Limiter
	topK     int
	llm      string
	now      func() time.Time

	mu     sync.Mutex
	active *loaded
}

// NewService wires a Service.
func NewService(gen Generator, data DatasetSource, settings Settings, history History, counter Counter, opts Options) *Service {
	s := &Service{
		gen:      gen,
		data:     data,
		settings: settings,
		history:  history,
		counter:  counter,
		embedder: opts.Embedder,
		topK:     opts.TopK,
		llm:      opts.DefaultLLM,
		limiter:  rate.NewLimiter(rate.Inf, 0),
		now:      time.Now,
	}
	if s.embedder == nil {
		s.embedder = HashEmbedder{Dim: DefaultDimensions}
	}
	if s.topK <= 0 {
		s.topK = DefaultTopK
	}
	if s.llm == "" {
		s.llm = DefaultLLM
	}
	if opts.RatePerMinute > 0 {
		s.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RatePerMinute)), opts.RatePerMinute)
	}
	return s
}

// LanguageInstruction picks the answer language from the question.
func LanguageInstruction(query string) string {
	lang := whatlanggo.DetectLangWithOptions(query, whatlanggo.Options{
		Whitelist: map[whatlanggo.Lang]bool{whatlanggo.Eng: true, whatlanggo.Spa: true},
	})
	if lang == whatlanggo.Spa {
		return "Responde en español."
	}
	return "Respond in English."
}

// BuildPrompt renders the generator prompt.
func BuildPrompt(background, query string) string {
	return fmt.Sprintf(promptTemplate, background, query, LanguageInstruction(query))
}

// Forget drops the cached index if it was built for name.
func (s *Service) Forget(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil && s.active.name == name {
		s.active = nil
	}
}

// load returns the index of the default model's dataset, building it once
// per default model.
func (s *Service) load() (*loaded, error) {
	name, err := s.settings.DefaultModel()
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, model.Invalid("No default model set in configuration.")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil && s.active.name == name {
		return s.active, nil
	}
	table, err := s.data.Open(name)
	if err != nil {
		return nil, model.Invalid("%s", err.Error())
	}
	s.active = &loaded{name: name, table: table, index: BuildIndex(s.embedder, Describe(table))}
	zap.L().Info("chat index built",
		zap.String("model", name),
		zap.Int("chunks", s.active.index.Len()),
	)
	return s.active, nil
}

// Prompt builds the full prompt for query against the default model.
func (s *Service) Prompt(query string) (string, error) {
	l, err := s.load()
	if err != nil {
		return "", err
	}
	retrieved := strings.Join(l.index.Search(query, s.topK), "\n")
	return BuildPrompt(retrieved+"\n"+Analysis(l.table, query), query), nil
}

// Ask answers req, passing every fragment to emit as it arrives, and returns
// everything emitted. A generator failure is reported to emit as a final
// ErrorPrefix fragment rather than returned. Errors before generation starts
// are returned and nothing is emitted.
func (s *Service) Ask(ctx context.Context, req Request, emit func(string) error) (string, error) {
	if strings.TrimSpace(req.Query) == "" {
		return "", model.Invalid("chat: query is required")
	}
	if !s.limiter.Allow() {
		return "", ErrRateLimited
	}
	prompt, err := s.Prompt(req.Query)
	if err != nil {
		return "", err
	}

	llm := req.Model
	if llm == "" {
		llm = s.llm
	}
	log := zap.L().With(zap.String("model", req.ModelName), zap.String("llm", llm))

	if err := s.counter.RecordQuestion(); err != nil {
		log.Warn("chat: record question", zap.Error(err))
	}

	var answer, shown strings.Builder
	genErr := s.gen.Generate(ctx, Generation{Model: llm, Prompt: prompt}, func(chunk string) error {
		answer.WriteString(chunk)
		shown.WriteString(chunk)
		return emit(chunk)
	})
	s.record(log, req, llm, answer.String())

	if genErr != nil {
		if !model.IsUpstream(genErr) {
			return shown.String(), genErr
		}
		log.Warn("chat: generation failed", zap.Error(genErr))
		msg := ErrorPrefix + genErr.Error()
		shown.WriteString(msg)
		if err := emit(msg); err != nil {
			return shown.String(), err
		}
	}
	return shown.String(), nil
}

// record appends the interaction to the summary of req.ModelName when there
// is one.
func (s *Service) record(log *zap.Logger, req Request, llm, response string) {
	if req.ModelName == "" {
		return
	}
	err := s.history.AppendLLM(req.ModelName, model.LLMEntry{
		Timestamp:   model.Timestamp(s.now()),
		Query:       req.Query,
		Response:    response,
		OllamaModel: llm,
	})
	switch {
	case err == nil:
	case model.IsNotFound(err):
		log.Debug("chat: no summary to record interaction on")
	default:
		log.Warn("chat: record interaction", zap.Error(err))
	}
}
