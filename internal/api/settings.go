package api

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pulse/internal/chat"
	"github.com/sells-group/pulse/internal/usage"
)

func (s *Server) getDefaultModel(w http.ResponseWriter, r *http.Request) {
	name, err := s.d.Settings.DefaultModel()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"default_model": name})
}

func (s *Server) setDefaultModel(w http.ResponseWriter, r *http.Request) {
	f := readForm(r)
	name := f.str("model_name")
	if f.err != nil {
		writeError(w, r, f.err)
		return
	}
	if err := s.d.Settings.SetDefaultModel(name); err != nil {
		writeError(w, r, err)
		return
	}
	message(w, "Default model set to '%s'", name)
}

func (s *Server) deleteAll(w http.ResponseWriter, r *http.Request) {
	if name, err := s.d.Settings.DefaultModel(); err == nil && name != "" {
		s.forget(name)
	}
	res := s.d.Artifacts.DeleteAll()
	if err := s.d.Settings.Reset(); err != nil {
		res.Errors = append(res.Errors, "Error resetting config: "+err.Error())
	} else {
		res.Deleted = append(res.Deleted, s.d.Settings.Path())
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) downloadAll(w http.ResponseWriter, r *http.Request) {
	sendZip(w, r, "all_models.zip", func(buf *bytes.Buffer) error {
		return s.d.Artifacts.ExportAll(buf)
	})
}

func (s *Server) purge(w http.ResponseWriter, r *http.Request) {
	res := s.d.Artifacts.PurgeOrphans()
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Purged orphaned files.",
		"deleted": res.Deleted,
		"errors":  res.Errors,
	})
}

func (s *Server) statistics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.d.Usage.Load())
}

func (s *Server) dashboard(w http.ResponseWriter, r *http.Request) {
	d, err := usage.BuildDashboard(r.Context(), s.d.Artifacts, s.d.Usage)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) llmHistory(w http.ResponseWriter, r *http.Request) {
	list, err := s.d.Artifacts.LLMHistory()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

var errChatDisabled = eris.New("api: chat is not configured")

type chunk struct {
	Response string `json:"response"`
}

// ask streams NDJSON {"response": chunk} lines when the request asks for a
// stream and returns the whole answer in one object otherwise. Failures
// before the first chunk are ordinary error responses.
func (s *Server) ask(w http.ResponseWriter, r *http.Request) {
	if s.d.Chat == nil {
		writeError(w, r, errChatDisabled)
		return
	}
	var req chat.Request
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if !req.Stream {
		answer, err := s.d.Chat.Ask(r.Context(), req, func(string) error { return nil })
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, chunk{Response: answer})
		return
	}

	rc := http.NewResponseController(w)
	enc := json.NewEncoder(w)
	started := false
	_, err := s.d.Chat.Ask(r.Context(), req, func(text string) error {
		if !started {
			w.Header().Set("Content-Type", "application/x-ndjson")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if err := enc.Encode(chunk{Response: text}); err != nil {
			return err
		}
		return rc.Flush()
	})
	switch {
	case err != nil && !started:
		writeError(w, r, err)
	case err != nil:
		zap.L().Debug("api: ask stream ended early", zap.Error(err))
	case !started:
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
	}
}
