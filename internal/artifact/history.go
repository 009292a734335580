package artifact

import (
	"sort"

	"github.com/sells-group/pulse/internal/model"
)

// History item types accepted by DeleteHistoryItem.
const (
	HistorySimulation = "Simulation"
	HistoryLLM        = "LLM"
)

// ModelHistory is the per-model view of the two append-only logs.
type ModelHistory struct {
	Simulations  []model.Simulation `json:"simulations"`
	LLMQuestions []model.LLMEntry   `json:"llm_questions"`
}

// LLMRecord is an LLM entry tagged with the model whose summary holds it.
type LLMRecord struct {
	Model string `json:"model"`
	model.LLMEntry
}

// AppendSimulation records a prediction against name and returns the
// stored record with its assigned id.
func (s *Store) AppendSimulation(name string, sim model.Simulation) (model.Simulation, error) {
	err := s.UpdateSummary(name, func(sum *model.Summary) error {
		sim.ID = sum.NextSimulationID()
		sum.Simulations = append(sum.Simulations, sim)
		return nil
	})
	return sim, err
}

// DeleteSimulation removes the simulation with the given id.
func (s *Store) DeleteSimulation(name string, id int) error {
	return s.UpdateSummary(name, func(sum *model.Summary) error {
		for i, sim := range sum.Simulations {
			if sim.ID == id {
				sum.Simulations = append(sum.Simulations[:i], sum.Simulations[i+1:]...)
				return nil
			}
		}
		return model.NotFound("simulation %d not found for model %q", id, name)
	})
}

// ClearSimulations empties the simulation log of name.
func (s *Store) ClearSimulations(name string) error {
	return s.UpdateSummary(name, func(sum *model.Summary) error {
		sum.Simulations = nil
		return nil
	})
}

// AppendLLM records a chat interaction against name.
func (s *Store) AppendLLM(name string, entry model.LLMEntry) error {
	return s.UpdateSummary(name, func(sum *model.Summary) error {
		sum.LLMHistory = append(sum.LLMHistory, entry)
		return nil
	})
}

// ClearLLM empties the chat log of name.
func (s *Store) ClearLLM(name string) error {
	return s.UpdateSummary(name, func(sum *model.Summary) error {
		sum.LLMHistory = nil
		return nil
	})
}

// DeleteHistoryItem removes every entry of the given type whose timestamp
// matches exactly.
func (s *Store) DeleteHistoryItem(name, itemType, timestamp string) error {
	if name == "" || itemType == "" || timestamp == "" {
		return model.Invalid("missing required fields")
	}
	return s.UpdateSummary(name, func(sum *model.Summary) error {
		switch itemType {
		case HistorySimulation:
			if len(sum.Simulations) == 0 {
				return model.NotFound("no %s entries found", itemType)
			}
			kept := sum.Simulations[:0]
			for _, sim := range sum.Simulations {
				if sim.Timestamp != timestamp {
					kept = append(kept, sim)
				}
			}
			if len(kept) == len(sum.Simulations) {
				return model.NotFound("item not found")
			}
			sum.Simulations = kept
		case HistoryLLM:
			if len(sum.LLMHistory) == 0 {
				return model.NotFound("no %s entries found", itemType)
			}
			kept := sum.LLMHistory[:0]
			for _, e := range sum.LLMHistory {
				if e.Timestamp != timestamp {
					kept = append(kept, e)
				}
			}
			if len(kept) == len(sum.LLMHistory) {
				return model.NotFound("item not found")
			}
			sum.LLMHistory = kept
		default:
			return model.NotFound("no %s entries found", itemType)
		}
		return nil
	})
}

// History returns both logs of name, never nil.
func (s *Store) History(name string) (*ModelHistory, error) {
	sum, err := s.ReadSummary(name)
	if err != nil {
		return nil, err
	}
	h := &ModelHistory{Simulations: sum.Simulations, LLMQuestions: sum.LLMHistory}
	if h.Simulations == nil {
		h.Simulations = []model.Simulation{}
	}
	if h.LLMQuestions == nil {
		h.LLMQuestions = []model.LLMEntry{}
	}
	return h, nil
}

// LLMHistory gathers the chat logs of every model, newest first.
func (s *Store) LLMHistory() ([]LLMRecord, error) {
	names, err := s.SummaryNames()
	if err != nil {
		return nil, err
	}
	out := []LLMRecord{}
	for _, n := range names {
		sum, err := s.ReadSummary(n)
		if err != nil {
			continue
		}
		for _, e := range sum.LLMHistory {
			out = append(out, LLMRecord{Model: n, LLMEntry: e})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	return out, nil
}
