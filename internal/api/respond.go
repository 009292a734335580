package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/sells-group/pulse/internal/chat"
	"github.com/sells-group/pulse/internal/model"
)

// maxUpload bounds multipart bodies held in memory.
const maxUpload = 32 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: write response", zap.Error(err))
	}
}

func message(w http.ResponseWriter, format string, args ...any) {
	writeJSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf(format, args...)})
}

// statusOf maps the error taxonomy onto HTTP codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, chat.ErrRateLimited):
		return http.StatusTooManyRequests
	case model.IsNotFound(err):
		return http.StatusNotFound
	case model.IsValidation(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		zap.L().Error("api: request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// parseForm reads multipart and urlencoded bodies alike.
func parseForm(r *http.Request) error {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxUpload); err != nil {
			return model.Invalid("invalid multipart body: %v", err)
		}
		return nil
	}
	if err := r.ParseForm(); err != nil {
		return model.Invalid("invalid form body: %v", err)
	}
	return nil
}

// formFields is a parsed form with typed required-field accessors. The
// first failure sticks so handlers check err once.
type formFields struct {
	r   *http.Request
	err error
}

func readForm(r *http.Request) *formFields {
	return &formFields{r: r, err: parseForm(r)}
}

func (f *formFields) str(name string) string {
	if f.err != nil {
		return ""
	}
	v := strings.TrimSpace(f.r.FormValue(name))
	if v == "" {
		f.err = model.Invalid("field %q is required", name)
	}
	return v
}

func (f *formFields) integer(name string) int {
	s := f.str(name)
	if f.err != nil {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		f.err = model.Invalid("field %q must be an integer", name)
	}
	return n
}

func (f *formFields) float(name string) float64 {
	s := f.str(name)
	if f.err != nil {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		f.err = model.Invalid("field %q must be a number", name)
	}
	return v
}

// boolean is optional and false when absent.
func (f *formFields) boolean(name string) bool {
	if f.err != nil {
		return false
	}
	s := strings.TrimSpace(f.r.FormValue(name))
	if s == "" {
		return false
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		f.err = model.Invalid("field %q must be a boolean", name)
	}
	return v
}

// jsonField decodes a field carrying a JSON document, such as a feature
// list.
func (f *formFields) jsonField(name string, v any) {
	s := f.str(name)
	if f.err != nil {
		return
	}
	if err := json.Unmarshal([]byte(s), v); err != nil {
		f.err = model.Invalid("field %q must be valid JSON: %v", name, err)
	}
}

func decodeJSON(r *http.Request, v any) error {
	body := io.LimitReader(r.Body, maxUpload)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return model.Invalid("invalid request body: %v", err)
	}
	return nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
