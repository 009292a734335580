package api

import (
	"errors"
	"io"
	"io/fs"
	"net/http"
	"os"

	"github.com/sells-group/pulse/internal/model"
	"github.com/sells-group/pulse/internal/training"
)

func (s *Server) uploadData(w http.ResponseWriter, r *http.Request) {
	f := readForm(r)
	name := f.str("model_name")
	if f.err != nil {
		writeError(w, r, f.err)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, model.Invalid("field %q is required", "file"))
		return
	}
	defer file.Close() //nolint:errcheck
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r, model.IOFailure(err, "read upload"))
		return
	}

	cols, err := s.d.Datasets.Upload(name, header.Filename, data)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.forget(name)
	writeJSON(w, http.StatusOK, map[string]any{"message": "File uploaded successfully", "columns": cols})
}

func (s *Server) loadSample(w http.ResponseWriter, r *http.Request) {
	f := readForm(r)
	name := f.str("model_name")
	if f.err != nil {
		writeError(w, r, f.err)
		return
	}
	cols, err := s.d.Datasets.LoadSample(name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.forget(name)
	writeJSON(w, http.StatusOK, map[string]any{"message": "Sample loaded successfully.", "columns": cols})
}

func (s *Server) suggestFeatures(w http.ResponseWriter, r *http.Request) {
	f := readForm(r)
	name := f.str("model_name")
	if f.err != nil {
		writeError(w, r, f.err)
		return
	}
	sug, err := s.d.Datasets.SuggestFeatures(name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sug)
}

// requireDataset fails fast when a job would only discover the dataset is
// missing after being queued.
func (s *Server) requireDataset(name string) error {
	_, err := os.Stat(s.d.Artifacts.Layout().DatasetPath(name))
	if errors.Is(err, fs.ErrNotExist) {
		return model.NotFound("Dataset not found.")
	}
	if err != nil {
		return model.IOFailure(err, "stat dataset of %s", name)
	}
	return nil
}

func (s *Server) trainModel(w http.ResponseWriter, r *http.Request) {
	f := readForm(r)
	p := model.TrainParams{ModelName: f.str("model_name")}
	f.jsonField("features", &p.Features)
	p.Epochs = f.integer("epochs")
	p.TestSize = f.float("test_size")
	if f.err != nil {
		writeError(w, r, f.err)
		return
	}
	if err := training.ValidateTrain(p); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.requireDataset(p.ModelName); err != nil {
		writeError(w, r, err)
		return
	}

	id := s.d.Registry.Submit(model.JobKindTrain, p.ModelName, p, s.d.Runner.TrainJob(p))
	writeJSON(w, http.StatusOK, map[string]string{"status": "started", "job_id": id})
}

func (s *Server) automlTrain(w http.ResponseWriter, r *http.Request) {
	f := readForm(r)
	p := model.SweepParams{ModelName: f.str("model_name")}
	f.jsonField("features", &p.Features)
	f.jsonField("epochs_options", &p.EpochOptions)
	f.jsonField("test_size_options", &p.TestSizeOptions)
	if f.err != nil {
		writeError(w, r, f.err)
		return
	}
	if err := training.ValidateSweep(p); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.requireDataset(p.ModelName); err != nil {
		writeError(w, r, err)
		return
	}

	id := s.d.Registry.Submit(model.JobKindAutoML, p.ModelName, p, s.d.Runner.SweepJob(p))
	writeJSON(w, http.StatusOK, map[string]string{"status": "started", "job_id": id})
}

type promoteRequest struct {
	TempID    string `json:"model_temp_id"`
	FinalName string `json:"final_model_name"`
}

func (s *Server) saveAutoMLModel(w http.ResponseWriter, r *http.Request) {
	var req promoteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.TempID == "" || req.FinalName == "" {
		writeError(w, r, model.Invalid("model_temp_id and final_model_name are required"))
		return
	}
	if _, err := s.d.Artifacts.Promote(req.TempID, req.FinalName); err != nil {
		writeError(w, r, err)
		return
	}
	s.forget(req.FinalName)
	message(w, "Model saved successfully!")
}

func (s *Server) predict(w http.ResponseWriter, r *http.Request) {
	f := readForm(r)
	var input struct {
		Values map[string]float64 `json:"values"`
	}
	f.jsonField("input", &input)
	name := f.str("model_name")
	save := f.boolean("save_simulation")
	if f.err != nil {
		writeError(w, r, f.err)
		return
	}
	res, err := s.d.Predictor.Predict(name, input.Values, save)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) exampleInput(w http.ResponseWriter, r *http.Request) {
	f := readForm(r)
	var features []string
	f.jsonField("features", &features)
	name := f.str("model_name")
	if f.err != nil {
		writeError(w, r, f.err)
		return
	}
	ex, err := s.d.Datasets.ExampleInput(name, features, nil)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"example": ex})
}

func (s *Server) deleteSimulation(w http.ResponseWriter, r *http.Request) {
	f := readForm(r)
	name := f.str("model_name")
	id := f.integer("sim_id")
	if f.err != nil {
		writeError(w, r, f.err)
		return
	}
	if err := s.d.Artifacts.DeleteSimulation(name, id); err != nil {
		writeError(w, r, err)
		return
	}
	message(w, "Simulation %d deleted successfully.", id)
}
