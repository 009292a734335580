package chat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"

	"github.com/sells-group/pulse/internal/model"
	"github.com/sells-group/pulse/internal/resilience"
	"github.com/sells-group/pulse/pkg/anthropic"
)

// Generation is one text-generation call.
type Generation struct {
	Model  string
	Prompt string
}

// Generator streams generated text. onChunk is called for every fragment in
// order; a non-nil error from it stops generation and is returned as is.
type Generator interface {
	Generate(ctx context.Context, g Generation, onChunk func(string) error) error
}

// DefaultOllamaURL is where a local Ollama server listens.
const DefaultOllamaURL = "http://localhost:11434"

// Ollama streams completions from an Ollama server's NDJSON generate API.
type Ollama struct {
	baseURL string
	client  *http.Client
	policy  resilience.Policy
}

// NewOllama returns a generator for the server at baseURL. timeout bounds a
// whole generation.
func NewOllama(baseURL string, timeout time.Duration) *Ollama {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	return &Ollama{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		policy:  resilience.DefaultPolicy("ollama"),
	}
}

// WithPolicy replaces the retry policy used to open the stream.
func (o *Ollama) WithPolicy(p resilience.Policy) *Ollama {
	o.policy = p
	return o
}

func (o *Ollama) open(ctx context.Context, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "ollama: build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "ollama: send request")
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close() //nolint:errcheck
		if errMsg := gjson.GetBytes(msg, "error"); errMsg.Exists() {
			msg = []byte(errMsg.String())
		}
		err := eris.Errorf("ollama: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		if resilience.TransientStatus(resp.StatusCode) {
			return nil, resilience.Transient(err, resp.StatusCode)
		}
		return nil, err
	}
	return resp, nil
}

func (o *Ollama) Generate(ctx context.Context, g Generation, onChunk func(string) error) error {
	body, err := json.Marshal(map[string]any{
		"model":  g.Model,
		"prompt": g.Prompt,
		"stream": true,
	})
	if err != nil {
		return eris.Wrap(err, "ollama: marshal request")
	}

	resp, err := resilience.Do(ctx, o.policy, func(ctx context.Context) (*http.Response, error) {
		return o.open(ctx, body)
	})
	if err != nil {
		return model.Upstream(err, "ollama: generate")
	}
	defer resp.Body.Close() //nolint:errcheck

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || !gjson.ValidBytes(line) {
			continue
		}
		if e := gjson.GetBytes(line, "error"); e.Exists() {
			return model.Upstream(eris.New(e.String()), "ollama: generate")
		}
		if chunk := gjson.GetBytes(line, "response").String(); chunk != "" {
			if err := onChunk(chunk); err != nil {
				return err
			}
		}
		if gjson.GetBytes(line, "done").Bool() {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return model.Upstream(err, "ollama: read stream")
	}
	return nil
}

// Anthropic streams completions from the Messages API.
type Anthropic struct {
	client    anthropic.Client
	maxTokens int64
	policy    resilience.Policy
}

// NewAnthropic wraps client. maxTokens caps each answer.
func NewAnthropic(client anthropic.Client, maxTokens int64) *Anthropic {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &Anthropic{client: client, maxTokens: maxTokens, policy: resilience.DefaultPolicy("anthropic")}
}

// WithPolicy replaces the retry policy.
func (a *Anthropic) WithPolicy(p resilience.Policy) *Anthropic {
	a.policy = p
	return a
}

func (a *Anthropic) Generate(ctx context.Context, g Generation, onChunk func(string) error) error {
	req := anthropic.MessageRequest{
		Model:     g.Model,
		MaxTokens: a.maxTokens,
		Messages:  []anthropic.Message{{Role: "user", Content: g.Prompt}},
	}

	// Only retry while nothing has reached the caller.
	var sent bool
	var callbackErr error
	p := a.policy
	p.Retryable = func(err error) bool { return !sent && resilience.IsTransient(err) }

	usage, err := resilience.Do(ctx, p, func(ctx context.Context) (*anthropic.TokenUsage, error) {
		return a.client.StreamMessage(ctx, req, func(text string) error {
			sent = true
			if err := onChunk(text); err != nil {
				callbackErr = err
				return err
			}
			return nil
		})
	})
	if callbackErr != nil {
		return callbackErr
	}
	if err != nil {
		return model.Upstream(err, "anthropic: generate")
	}
	if usage != nil {
		usage.LogCost(g.Model, "chat")
	}
	return nil
}
