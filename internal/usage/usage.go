// Package usage keeps the process-wide usage counters and the dashboard
// aggregate built from them.
package usage

import (
	"bytes"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// FileName is the statistics document under the config directory.
const FileName = "statistics.json"

// Stats is the persisted counter document.
type Stats struct {
	PredictionsPerMonth map[string]int `json:"predictions_per_month"`
	LLMQuestions        int            `json:"llm_questions"`
}

// TotalPredictions sums every month.
func (s Stats) TotalPredictions() int {
	total := 0
	for _, n := range s.PredictionsPerMonth {
		total += n
	}
	return total
}

// MonthKey formats the bucket a prediction at t is counted in.
func MonthKey(t time.Time) string {
	return t.Format("2006-01")
}

// Tracker serialises every read-modify-write of the statistics file.
type Tracker struct {
	mu   sync.Mutex
	path string
}

// NewTracker returns a tracker persisting into dir.
func NewTracker(dir string) *Tracker {
	return &Tracker{path: filepath.Join(dir, FileName)}
}

func empty() Stats {
	return Stats{PredictionsPerMonth: map[string]int{}}
}

// loadLocked treats a missing, empty or unreadable file as zero counters.
func (t *Tracker) loadLocked() Stats {
	data, err := os.ReadFile(t.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			zap.L().Warn("read statistics", zap.String("path", t.path), zap.Error(err))
		}
		return empty()
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return empty()
	}
	s := empty()
	if err := json.Unmarshal(data, &s); err != nil {
		zap.L().Warn("parse statistics", zap.String("path", t.path), zap.Error(err))
		return empty()
	}
	if s.PredictionsPerMonth == nil {
		s.PredictionsPerMonth = map[string]int{}
	}
	return s
}

func (t *Tracker) saveLocked(s Stats) error {
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return eris.Wrap(err, "usage: create config dir")
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return eris.Wrap(err, "usage: marshal statistics")
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return eris.Wrap(err, "usage: write statistics")
	}
	return eris.Wrap(os.Rename(tmp, t.path), "usage: replace statistics")
}

// Load returns the current counters.
func (t *Tracker) Load() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loadLocked()
}

// RecordPrediction increments the month bucket of at.
func (t *Tracker) RecordPrediction(at time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.loadLocked()
	s.PredictionsPerMonth[MonthKey(at)]++
	return t.saveLocked(s)
}

// RecordQuestion increments the chat question counter.
func (t *Tracker) RecordQuestion() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.loadLocked()
	s.LLMQuestions++
	return t.saveLocked(s)
}
