package model

import (
	"regexp"
	"strings"
	"time"
)

// TargetColumn is the regression target every dataset must carry.
const TargetColumn = "pue"

// Metrics holds the evaluation results of a trained model.
type Metrics struct {
	Loss float64 `json:"loss"`
	MAE  float64 `json:"mae"`
	R2   float64 `json:"r2"`
}

// Simulation is a saved prediction attached to a model summary.
type Simulation struct {
	ID        int                `json:"id"`
	Timestamp string             `json:"timestamp"`
	Inputs    map[string]float64 `json:"inputs"`
	PUE       float64            `json:"pue"`
}

// LLMEntry is a recorded chat interaction attached to a model summary.
type LLMEntry struct {
	Timestamp   string `json:"timestamp"`
	Query       string `json:"query"`
	Response    string `json:"response"`
	OllamaModel string `json:"ollama_model"`
}

// Summary is the JSON document persisted next to each trained model.
type Summary struct {
	ModelName   string       `json:"model_name"`
	Features    []string     `json:"features"`
	Epochs      int          `json:"epochs"`
	TestSize    float64      `json:"test_size"`
	Metrics     Metrics      `json:"metrics"`
	Simulations []Simulation `json:"simulations,omitempty"`
	LLMHistory  []LLMEntry   `json:"llm_history,omitempty"`
}

// NextSimulationID returns max(existing ids)+1, or 1 for an empty list.
func (s *Summary) NextSimulationID() int {
	next := 0
	for _, sim := range s.Simulations {
		if sim.ID > next {
			next = sim.ID
		}
	}
	return next + 1
}

// Timestamp formats t the way history entries are keyed.
func Timestamp(t time.Time) string {
	return t.Format("2006-01-02T15:04:05.000000")
}

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidateName checks that name is usable as a file stem in every artifact
// directory.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) || strings.Contains(name, "..") {
		return Invalid("invalid model name %q", name)
	}
	if strings.HasSuffix(name, "_scaler") {
		return Invalid("model name %q must not end in _scaler", name)
	}
	return nil
}
