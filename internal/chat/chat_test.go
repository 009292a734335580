package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pulse/internal/dataset"
	"github.com/sells-group/pulse/internal/model"
	"github.com/sells-group/pulse/internal/resilience"
	"github.com/sells-group/pulse/pkg/anthropic"
)

// telemetry is 30 hourly rows starting 2024-01-01 with one temp spike.
func telemetry(t *testing.T) *dataset.Table {
	t.Helper()
	var b strings.Builder
	b.WriteString("timestamp;temp;it_load;pue\n")
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 30; i++ {
		temp := 20 + float64(i%5)
		if i == 7 {
			temp = 90
		}
		fmt.Fprintf(&b, "%s;%.1f;%d;%.3f\n",
			start.Add(time.Duration(i)*time.Hour).Format("2006-01-02 15:04:05"),
			temp, 100+i, 1.2+0.01*float64(i)+0.001*float64(i%3))
	}
	tbl, err := dataset.Parse(strings.NewReader(b.String()))
	require.NoError(t, err)
	return tbl
}

type stubData struct {
	table *dataset.Table
	opens atomic.Int32
}

func (d *stubData) Open(string) (*dataset.Table, error) {
	d.opens.Add(1)
	if d.table == nil {
		return nil, model.NotFound("dataset: not found")
	}
	return d.table, nil
}

type stubSettings string

func (s stubSettings) DefaultModel() (string, error) { return string(s), nil }

type mockHistory struct{ mock.Mock }

func (m *mockHistory) AppendLLM(name string, entry model.LLMEntry) error {
	return m.Called(name, entry).Error(0)
}

type mockCounter struct{ mock.Mock }

func (m *mockCounter) RecordQuestion() error { return m.Called().Error(0) }

// scripted replies with fixed chunks and then err.
type scripted struct {
	chunks  []string
	err     error
	prompts []string
	models  []string
}

func (g *scripted) Generate(_ context.Context, gen Generation, onChunk func(string) error) error {
	g.prompts = append(g.prompts, gen.Prompt)
	g.models = append(g.models, gen.Model)
	for _, c := range g.chunks {
		if err := onChunk(c); err != nil {
			return err
		}
	}
	return g.err
}

func collect(out *[]string) func(string) error {
	return func(s string) error {
		*out = append(*out, s)
		return nil
	}
}

func TestHashEmbedder(t *testing.T) {
	e := HashEmbedder{Dim: 64}
	a := e.Embed("Column temp has mean")
	assert.Len(t, a, 64)
	assert.Equal(t, a, e.Embed("column TEMP has mean"))

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, norm, 1e-5)

	for _, v := range e.Embed("  ...  ") {
		assert.Zero(t, v)
	}
	assert.Len(t, HashEmbedder{}.Embed("x"), DefaultDimensions)
}

func TestIndexSearch(t *testing.T) {
	ix := BuildIndex(HashEmbedder{}, []string{"alpha beta", "gamma delta", "epsilon zeta"})
	assert.Equal(t, 3, ix.Len())

	got := ix.Search("tell me about gamma", 1)
	assert.Equal(t, []string{"gamma delta"}, got)
	assert.Len(t, ix.Search("anything", 10), 3)
	assert.Nil(t, ix.Search("anything", 0))
	assert.Nil(t, BuildIndex(HashEmbedder{}, nil).Search("x", 3))
}

func TestDescribe(t *testing.T) {
	tbl, err := dataset.Parse(strings.NewReader("timestamp;temp;pue\n2024-01-01;20;1.2\n2024-01-02;22;1.4\n"))
	require.NoError(t, err)

	got := Describe(tbl)
	require.Len(t, got, 2)
	assert.Equal(t, "Column 'temp' has mean 21.00, std 1.41, min 20.00, max 22.00", got[0])
	assert.Equal(t, "Column 'pue' has mean 1.30, std 0.14, min 1.20, max 1.40", got[1])
}

func TestCorrelationTable(t *testing.T) {
	lines := strings.Split(strings.TrimSpace(CorrelationTable(telemetry(t))), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "pue "), lines[0])
	assert.Contains(t, lines[0], "1.000000")
	assert.True(t, strings.HasPrefix(lines[1], "it_load"), lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "temp"), lines[2])
}

func TestAnalysisKeywords(t *testing.T) {
	tbl := telemetry(t)

	tests := []struct {
		name    string
		query   string
		want    []string
		notWant []string
	}{
		{
			name:    "no column named",
			query:   "show me outliers",
			want:    []string{"CORRELATION WITH PUE:"},
			notWant: []string{"OUTLIERS IN"},
		},
		{
			name:  "outliers",
			query: "Are there outliers in temp?",
			want:  []string{"OUTLIERS IN TEMP:", "2024-01-01 07:00:00 90.000000"},
		},
		{
			name:  "trend",
			query: "what is the trend of temp",
			want:  []string{"DAILY TREND FOR TEMP:", "2024-01-01 ", "2024-01-02 "},
		},
		{
			name:  "moving average phrase",
			query: "moving average of it_load",
			want:  []string{"MOVING AVERAGE FOR IT_LOAD:", "timestamp it_load MA_6", "2024-01-02 05:00:00 129.000000 126.500000"},
		},
		{
			name:  "ma word",
			query: "it_load ma please",
			want:  []string{"MOVING AVERAGE FOR IT_LOAD:"},
		},
		{
			name:    "max is not ma",
			query:   "max temp",
			notWant: []string{"MOVING AVERAGE"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Analysis(tbl, tt.query)
			for _, w := range tt.want {
				assert.Contains(t, got, w)
			}
			for _, w := range tt.notWant {
				assert.NotContains(t, got, w)
			}
		})
	}
}

func TestMovingAverageShortSeries(t *testing.T) {
	tbl, err := dataset.Parse(strings.NewReader("timestamp;temp;pue\n2024-01-01 00:00:00;20;1.2\n2024-01-01 01:10:00;22;1.3\n"))
	require.NoError(t, err)
	got := movingAverage(tbl, "temp")
	assert.Contains(t, got, "2024-01-01 01:00:00 22.000000 NaN")
}

func TestLanguageInstruction(t *testing.T) {
	assert.Equal(t, "Responde en español.",
		LanguageInstruction("¿Cuál es la temperatura promedio del centro de datos durante la última semana y cómo afecta al consumo?"))
	assert.Equal(t, "Respond in English.",
		LanguageInstruction("What is the average temperature of the data center during the last week and how does it affect consumption?"))
}

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt("ctx line", "What drives the PUE of this data center?")
	assert.True(t, strings.HasPrefix(p, "You are an expert assistant in data center energy efficiency."))
	assert.Contains(t, p, "CONTEXT:\nctx line\n\nPlease answer the following question:\nWhat drives the PUE of this data center?\n\nRespond in English.\n")
}

func newTestService(gen Generator, data DatasetSource, def string, opts Options) (*Service, *mockHistory, *mockCounter) {
	h := new(mockHistory)
	c := new(mockCounter)
	s := NewService(gen, data, stubSettings(def), h, c, opts)
	s.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return s, h, c
}

func TestAskStreams(t *testing.T) {
	gen := &scripted{chunks: []string{"PUE ", "looks healthy."}}
	s, h, c := newTestService(gen, &stubData{table: telemetry(t)}, "dc1", Options{})
	c.On("RecordQuestion").Return(nil).Once()
	h.On("AppendLLM", "dc1", model.LLMEntry{
		Timestamp:   "2024-05-01T12:00:00.000000",
		Query:       "How does temp relate to pue?",
		Response:    "PUE looks healthy.",
		OllamaModel: "phi",
	}).Return(nil).Once()

	var got []string
	full, err := s.Ask(context.Background(), Request{Query: "How does temp relate to pue?", ModelName: "dc1"}, collect(&got))
	require.NoError(t, err)
	assert.Equal(t, []string{"PUE ", "looks healthy."}, got)
	assert.Equal(t, "PUE looks healthy.", full)

	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "CORRELATION WITH PUE:")
	assert.Contains(t, gen.prompts[0], "Column '")
	assert.Contains(t, gen.prompts[0], "How does temp relate to pue?")
	assert.Equal(t, []string{"phi"}, gen.models)
	h.AssertExpectations(t)
	c.AssertExpectations(t)
}

func TestAskRequestModelOverridesDefault(t *testing.T) {
	gen := &scripted{chunks: []string{"ok"}}
	s, h, c := newTestService(gen, &stubData{table: telemetry(t)}, "dc1", Options{DefaultLLM: "llama3"})
	c.On("RecordQuestion").Return(nil)
	h.On("AppendLLM", "dc1", mock.Anything).Return(nil)

	_, err := s.Ask(context.Background(), Request{Query: "hi", ModelName: "dc1"}, collect(new([]string)))
	require.NoError(t, err)
	_, err = s.Ask(context.Background(), Request{Query: "hi", Model: "mistral", ModelName: "dc1"}, collect(new([]string)))
	require.NoError(t, err)
	assert.Equal(t, []string{"llama3", "mistral"}, gen.models)
}

func TestAskPreconditions(t *testing.T) {
	tests := []struct {
		name  string
		def   string
		data  *stubData
		query string
	}{
		{name: "no default model", def: "", data: &stubData{}, query: "hi"},
		{name: "missing dataset", def: "dc1", data: &stubData{}, query: "hi"},
		{name: "empty query", def: "dc1", data: &stubData{}, query: "  "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &scripted{}
			s, h, c := newTestService(gen, tt.data, tt.def, Options{})
			var got []string
			_, err := s.Ask(context.Background(), Request{Query: tt.query, ModelName: "dc1"}, collect(&got))
			require.Error(t, err)
			assert.True(t, model.IsValidation(err), err)
			assert.Empty(t, got)
			assert.Empty(t, gen.prompts)
			h.AssertNotCalled(t, "AppendLLM", mock.Anything, mock.Anything)
			c.AssertNotCalled(t, "RecordQuestion")
		})
	}
}

func TestAskUpstreamFailureIsInline(t *testing.T) {
	gen := &scripted{chunks: []string{"partial"}, err: model.Upstream(errors.New("connection refused"), "ollama: generate")}
	s, h, c := newTestService(gen, &stubData{table: telemetry(t)}, "dc1", Options{})
	c.On("RecordQuestion").Return(nil)
	h.On("AppendLLM", "dc1", mock.MatchedBy(func(e model.LLMEntry) bool {
		return e.Response == "partial"
	})).Return(nil).Once()

	var got []string
	full, err := s.Ask(context.Background(), Request{Query: "hi", ModelName: "dc1"}, collect(&got))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "partial", got[0])
	assert.True(t, strings.HasPrefix(got[1], ErrorPrefix), got[1])
	assert.Contains(t, got[1], "connection refused")
	assert.Equal(t, got[0]+got[1], full)
	h.AssertExpectations(t)
}

func TestAskCallerGoneIsReturned(t *testing.T) {
	gen := &scripted{chunks: []string{"a", "b"}}
	s, h, c := newTestService(gen, &stubData{table: telemetry(t)}, "dc1", Options{})
	c.On("RecordQuestion").Return(nil)
	h.On("AppendLLM", "dc1", mock.Anything).Return(nil)

	gone := errors.New("client gone")
	_, err := s.Ask(context.Background(), Request{Query: "hi", ModelName: "dc1"}, func(string) error { return gone })
	assert.ErrorIs(t, err, gone)
}

func TestAskWithoutSummaryStillAnswers(t *testing.T) {
	gen := &scripted{chunks: []string{"ok"}}
	s, h, c := newTestService(gen, &stubData{table: telemetry(t)}, "dc1", Options{})
	c.On("RecordQuestion").Return(errors.New("disk full"))
	h.On("AppendLLM", "ghost", mock.Anything).Return(model.NotFound("summary: ghost")).Once()

	full, err := s.Ask(context.Background(), Request{Query: "hi", ModelName: "ghost"}, collect(new([]string)))
	require.NoError(t, err)
	assert.Equal(t, "ok", full)
	h.AssertExpectations(t)
}

func TestAskCachesIndexPerDefaultModel(t *testing.T) {
	data := &stubData{table: telemetry(t)}
	s, h, c := newTestService(&scripted{}, data, "dc1", Options{})
	c.On("RecordQuestion").Return(nil)
	h.On("AppendLLM", mock.Anything, mock.Anything).Return(nil)

	for i := 0; i < 3; i++ {
		_, err := s.Ask(context.Background(), Request{Query: "hi"}, collect(new([]string)))
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), data.opens.Load())

	s.Forget("other")
	_, err := s.Ask(context.Background(), Request{Query: "hi"}, collect(new([]string)))
	require.NoError(t, err)
	assert.Equal(t, int32(1), data.opens.Load())

	s.Forget("dc1")
	_, err = s.Ask(context.Background(), Request{Query: "hi"}, collect(new([]string)))
	require.NoError(t, err)
	assert.Equal(t, int32(2), data.opens.Load())
	h.AssertNotCalled(t, "AppendLLM", mock.Anything, mock.Anything)
}

func TestAskRateLimited(t *testing.T) {
	s, h, c := newTestService(&scripted{}, &stubData{table: telemetry(t)}, "dc1", Options{RatePerMinute: 1})
	c.On("RecordQuestion").Return(nil)
	h.On("AppendLLM", mock.Anything, mock.Anything).Return(nil)

	_, err := s.Ask(context.Background(), Request{Query: "hi"}, collect(new([]string)))
	require.NoError(t, err)
	_, err = s.Ask(context.Background(), Request{Query: "hi"}, collect(new([]string)))
	assert.ErrorIs(t, err, ErrRateLimited)
}

func fastPolicy() resilience.Policy {
	return resilience.Policy{Attempts: 3, Initial: time.Millisecond, Max: 2 * time.Millisecond, Name: "test"}
}

func TestOllamaGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		assert.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "phi", req["model"])
		assert.Equal(t, "the prompt", req["prompt"])
		assert.Equal(t, true, req["stream"])

		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprintln(w, `{"response":"Hello","done":false}`)
		fmt.Fprintln(w, `not json`)
		fmt.Fprintln(w, ``)
		fmt.Fprintln(w, `{"response":", world","done":false}`)
		fmt.Fprintln(w, `{"response":"","done":true}`)
		fmt.Fprintln(w, `{"response":"after done","done":false}`)
	}))
	defer srv.Close()

	var got []string
	err := NewOllama(srv.URL+"/", time.Second).Generate(context.Background(),
		Generation{Model: "phi", Prompt: "the prompt"}, collect(&got))
	require.NoError(t, err)
	assert.Equal(t, []string{"Hello", ", world"}, got)
}

func TestOllamaRetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintln(w, `{"response":"ok","done":true}`)
	}))
	defer srv.Close()

	var got []string
	err := NewOllama(srv.URL, time.Second).WithPolicy(fastPolicy()).Generate(context.Background(),
		Generation{Model: "phi", Prompt: "p"}, collect(&got))
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, got)
	assert.Equal(t, int32(2), calls.Load())
}

func TestOllamaPermanentFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"model 'phi' not found"}`)
	}))
	defer srv.Close()

	err := NewOllama(srv.URL, time.Second).WithPolicy(fastPolicy()).Generate(context.Background(),
		Generation{Model: "phi", Prompt: "p"}, collect(new([]string)))
	require.Error(t, err)
	assert.True(t, model.IsUpstream(err))
	assert.Contains(t, err.Error(), "model 'phi' not found")
	assert.Equal(t, int32(1), calls.Load())
}

func TestOllamaErrorLine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"response":"a"}`)
		fmt.Fprintln(w, `{"error":"out of memory"}`)
	}))
	defer srv.Close()

	var got []string
	err := NewOllama(srv.URL, time.Second).Generate(context.Background(),
		Generation{Model: "phi", Prompt: "p"}, collect(&got))
	require.Error(t, err)
	assert.True(t, model.IsUpstream(err))
	assert.Contains(t, err.Error(), "out of memory")
	assert.Equal(t, []string{"a"}, got)
}

type mockAnthropic struct{ mock.Mock }

func (m *mockAnthropic) StreamMessage(ctx context.Context, req anthropic.MessageRequest, onText func(string) error) (*anthropic.TokenUsage, error) {
	args := m.Called(ctx, req, onText)
	usage, _ := args.Get(0).(*anthropic.TokenUsage)
	return usage, args.Error(1)
}

func TestAnthropicGenerate(t *testing.T) {
	client := new(mockAnthropic)
	client.On("StreamMessage", mock.Anything, mock.MatchedBy(func(r anthropic.MessageRequest) bool {
		return r.Model == "claude-haiku-4-5-20251001" && r.MaxTokens == 512 &&
			len(r.Messages) == 1 && r.Messages[0].Content == "p"
	}), mock.Anything).Run(func(args mock.Arguments) {
		fn := args.Get(2).(func(string) error)
		_ = fn("one ")
		_ = fn("two")
	}).Return(&anthropic.TokenUsage{InputTokens: 3, OutputTokens: 2}, nil).Once()

	var got []string
	err := NewAnthropic(client, 512).Generate(context.Background(),
		Generation{Model: "claude-haiku-4-5-20251001", Prompt: "p"}, collect(&got))
	require.NoError(t, err)
	assert.Equal(t, []string{"one ", "two"}, got)
	client.AssertExpectations(t)
}

func TestAnthropicNoRetryAfterOutput(t *testing.T) {
	client := new(mockAnthropic)
	client.On("StreamMessage", mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		_ = args.Get(2).(func(string) error)("half")
	}).Return(nil, resilience.Transient(errors.New("stream reset"), 0)).Once()

	var got []string
	err := NewAnthropic(client, 0).WithPolicy(fastPolicy()).Generate(context.Background(),
		Generation{Model: "m", Prompt: "p"}, collect(&got))
	require.Error(t, err)
	assert.True(t, model.IsUpstream(err))
	assert.Equal(t, []string{"half"}, got)
	client.AssertNumberOfCalls(t, "StreamMessage", 1)
}

func TestAnthropicRetriesBeforeOutput(t *testing.T) {
	client := new(mockAnthropic)
	client.On("StreamMessage", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, resilience.Transient(errors.New("overloaded"), 529)).Once()
	client.On("StreamMessage", mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		_ = args.Get(2).(func(string) error)("fine")
	}).Return(&anthropic.TokenUsage{}, nil).Once()

	var got []string
	err := NewAnthropic(client, 0).WithPolicy(fastPolicy()).Generate(context.Background(),
		Generation{Model: "m", Prompt: "p"}, collect(&got))
	require.NoError(t, err)
	assert.Equal(t, []string{"fine"}, got)
}

func TestCellFloat(t *testing.T) {
	v, ok := cellFloat(" 1.5 ")
	assert.True(t, ok)
	assert.Equal(t, 1.5, v)
	_, ok = cellFloat("")
	assert.False(t, ok)
	_, ok = cellFloat("n/a")
	assert.False(t, ok)
}
