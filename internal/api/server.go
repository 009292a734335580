// Package api exposes the model builder, explorer, chat and job endpoints
// over HTTP and pushes job progress over WebSocket.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sells-group/pulse/internal/artifact"
	"github.com/sells-group/pulse/internal/chat"
	"github.com/sells-group/pulse/internal/dataset"
	"github.com/sells-group/pulse/internal/jobs"
	"github.com/sells-group/pulse/internal/predict"
	"github.com/sells-group/pulse/internal/settings"
	"github.com/sells-group/pulse/internal/store"
	"github.com/sells-group/pulse/internal/training"
	"github.com/sells-group/pulse/internal/usage"
)

// Chat answers questions about the default model's data.
type Chat interface {
	Ask(ctx context.Context, req chat.Request, emit func(string) error) (string, error)
	Forget(name string)
}

// Deps are the services the handlers call. History may be nil when no
// durable job store is configured.
type Deps struct {
	Artifacts *artifact.Store
	Datasets  *dataset.Service
	Registry  *jobs.Registry
	Runner    *training.Runner
	Predictor *predict.Service
	Settings  *settings.Store
	Usage     *usage.Tracker
	Chat      Chat
	History   store.Store

	CORSOrigins []string
}

// Server holds the handler dependencies.
type Server struct {
	d Deps
}

// NewServer returns a Server over d.
func NewServer(d Deps) *Server {
	return &Server{d: d}
}

// Router builds the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	origins := s.d.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/pulse", func(r chi.Router) {
		r.Route("/generator", func(r chi.Router) {
			r.Post("/upload_data", s.uploadData)
			r.Post("/load_sample", s.loadSample)
			r.Post("/suggest_features", s.suggestFeatures)
			r.Post("/train_model", s.trainModel)
			r.Post("/automl_train", s.automlTrain)
			r.Post("/save_automl_model", s.saveAutoMLModel)
			r.Post("/predict", s.predict)
			r.Post("/example_input", s.exampleInput)
			r.Post("/simulation/delete", s.deleteSimulation)
		})

		r.Get("/jobs", s.listJobs)
		r.Get("/jobs/{id}/status", s.jobStatus)
		r.Get("/ws/{id}", s.progressSocket)

		r.Route("/explorer", func(r chi.Router) {
			r.Get("/models", s.listModels)
			r.Get("/summary/{name}", s.modelSummary)
			r.Delete("/delete/{name}", s.deleteModel)
			r.Get("/download/{file}", s.downloadModel)
			r.Post("/simulations/clear", s.clearSimulationsForm)
		})

		r.Route("/datasets", func(r chi.Router) {
			r.Get("/list", s.listDatasets)
			r.Get("/load/{dataset}", s.loadDataset)
			r.Post("/filter", s.filterDataset)
		})

		r.Post("/llm/ask", s.ask)
		r.Get("/llm/history", s.llmHistory)

		r.Route("/history", func(r chi.Router) {
			r.Get("/{name}", s.modelHistory)
			r.Delete("/clear_llm/{name}", s.clearLLM)
			r.Delete("/clear_simulations/{name}", s.clearSimulations)
			r.Delete("/delete_item", s.deleteHistoryItem)
		})

		r.Route("/settings", func(r chi.Router) {
			r.Get("/default_model", s.getDefaultModel)
			r.Post("/default_model", s.setDefaultModel)
			r.Delete("/delete_all", s.deleteAll)
			r.Get("/download_all", s.downloadAll)
			r.Delete("/purge", s.purge)
		})

		r.Get("/statistics", s.statistics)
		r.Get("/statistics/dashboard", s.dashboard)
	})

	return r
}

// forget drops any chat index built over name's dataset.
func (s *Server) forget(name string) {
	if s.d.Chat != nil {
		s.d.Chat.Forget(name)
	}
}
