package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/pulse/internal/dataset"
	"github.com/sells-group/pulse/internal/model"
)

func (s *Server) listModels(w http.ResponseWriter, r *http.Request) {
	names, err := s.d.Artifacts.List()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": names})
}

func (s *Server) modelSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.d.Artifacts.ReadSummary(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) deleteModel(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	res, err := s.d.Artifacts.Delete(name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.forget(name)
	writeJSON(w, http.StatusOK, res)
}

// sendZip renders fn fully before writing headers so a failure still gets
// an error response.
func sendZip(w http.ResponseWriter, r *http.Request, filename string, fn func(*bytes.Buffer) error) {
	var buf bytes.Buffer
	if err := fn(&buf); err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes()) //nolint:errcheck
}

func (s *Server) downloadModel(w http.ResponseWriter, r *http.Request) {
	file := chi.URLParam(r, "file")
	name, ok := strings.CutSuffix(file, ".zip")
	if !ok || name == "" {
		writeError(w, r, model.NotFound("download %q not found", file))
		return
	}
	sendZip(w, r, file, func(buf *bytes.Buffer) error {
		return s.d.Artifacts.Export(name, buf)
	})
}

func (s *Server) clearSimulationsForm(w http.ResponseWriter, r *http.Request) {
	f := readForm(r)
	name := f.str("model_name")
	if f.err != nil {
		writeError(w, r, f.err)
		return
	}
	if err := s.d.Artifacts.ClearSimulations(name); err != nil {
		writeError(w, r, err)
		return
	}
	message(w, "All simulations cleared.")
}

func (s *Server) listDatasets(w http.ResponseWriter, r *http.Request) {
	names, err := s.d.Datasets.List()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"datasets": names})
}

func (s *Server) loadDataset(w http.ResponseWriter, r *http.Request) {
	p, err := s.d.Datasets.Load(chi.URLParam(r, "dataset"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type filterRequest struct {
	Dataset string           `json:"dataset_name"`
	Filters []dataset.Filter `json:"filters"`
}

func (s *Server) filterDataset(w http.ResponseWriter, r *http.Request) {
	var req filterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.d.Datasets.Filter(req.Dataset, req.Filters)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) modelHistory(w http.ResponseWriter, r *http.Request) {
	h, err := s.d.Artifacts.History(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) clearLLM(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.d.Artifacts.ClearLLM(name); err != nil {
		writeError(w, r, err)
		return
	}
	message(w, "LLM history cleared for model '%s'.", name)
}

func (s *Server) clearSimulations(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.d.Artifacts.ClearSimulations(name); err != nil {
		writeError(w, r, err)
		return
	}
	message(w, "Simulations cleared for model '%s'.", name)
}

type historyItemRequest struct {
	Model     string `json:"model"`
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

func (s *Server) deleteHistoryItem(w http.ResponseWriter, r *http.Request) {
	var req historyItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.d.Artifacts.DeleteHistoryItem(req.Model, req.Type, req.Timestamp); err != nil {
		writeError(w, r, err)
		return
	}
	message(w, "%s item deleted from model '%s'.", req.Type, req.Model)
}
