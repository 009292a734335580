package artifact

import (
	"bytes"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pulse/internal/model"
	"github.com/sells-group/pulse/internal/regress"
)

// Artifact is a complete trained model: predictor, scaler and summary.
type Artifact struct {
	Predictor *regress.MLP
	Scaler    *regress.Scaler
	Summary   model.Summary
}

// BatchResult reports a best-effort multi-file operation.
type BatchResult struct {
	Deleted []string `json:"deleted"`
	Errors  []string `json:"errors"`
}

func newBatchResult() *BatchResult {
	return &BatchResult{Deleted: []string{}, Errors: []string{}}
}

func (b *BatchResult) remove(path string) {
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return
		}
		b.Errors = append(b.Errors, "Error deleting "+path+": "+err.Error())
		return
	}
	b.Deleted = append(b.Deleted, path)
}

// Invalidator is told about every name whose artifact changes.
type Invalidator interface {
	Invalidate(name string)
}

// Option configures a Store.
type Option func(*Store)

// WithInvalidator registers the cache to evict on writes, promotions and
// deletes.
func WithInvalidator(inv Invalidator) Option {
	return func(s *Store) {
		s.invalidators = append(s.invalidators, inv)
	}
}

// Store is the filesystem artifact store.
type Store struct {
	layout       Layout
	locks        *NameLocks
	invalidators []Invalidator
}

// New creates the layout directories and returns a Store over them.
func New(layout Layout, opts ...Option) (*Store, error) {
	if err := layout.Ensure(); err != nil {
		return nil, err
	}
	s := &Store{layout: layout, locks: NewNameLocks()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Layout returns the directories this store manages.
func (s *Store) Layout() Layout {
	return s.layout
}

func (s *Store) invalidate(name string) {
	for _, inv := range s.invalidators {
		inv.Invalidate(name)
	}
}

type pendingFile struct {
	path string
	data []byte
}

// commit writes every file to a temporary sibling and renames them into
// place in order, so the last file (the summary) only appears once the
// others are complete. On failure no temporary file is left behind.
func commit(files []pendingFile) error {
	tmps := make([]string, len(files))
	cleanup := func(from int) {
		for _, t := range tmps[from:] {
			if t != "" {
				os.Remove(t) //nolint:errcheck
			}
		}
	}

	for i, f := range files {
		dir := filepath.Dir(f.path)
		tmp, err := os.CreateTemp(dir, tmpPrefix+filepath.Base(f.path)+"-*")
		if err != nil {
			cleanup(0)
			return model.IOFailure(err, "artifact: create temp in %s", dir)
		}
		tmps[i] = tmp.Name()
		if _, err := tmp.Write(f.data); err != nil {
			tmp.Close() //nolint:errcheck
			cleanup(0)
			return model.IOFailure(err, "artifact: write %s", f.path)
		}
		if err := tmp.Close(); err != nil {
			cleanup(0)
			return model.IOFailure(err, "artifact: close %s", f.path)
		}
	}

	for i, f := range files {
		if err := os.Rename(tmps[i], f.path); err != nil {
			cleanup(i)
			return model.IOFailure(err, "artifact: rename into %s", f.path)
		}
		tmps[i] = ""
	}
	return nil
}

func encodeTriple(a *Artifact) (predictor, scaler, summary []byte, err error) {
	var pb, sb bytes.Buffer
	if err := regress.Encode(&pb, a.Predictor); err != nil {
		return nil, nil, nil, err
	}
	if err := regress.Encode(&sb, a.Scaler); err != nil {
		return nil, nil, nil, err
	}
	js, err := json.MarshalIndent(a.Summary, "", "  ")
	if err != nil {
		return nil, nil, nil, eris.Wrap(err, "artifact: marshal summary")
	}
	return pb.Bytes(), sb.Bytes(), js, nil
}

// Write stores the artifact triple under name, fully replacing any previous
// artifact of that name.
func (s *Store) Write(name string, a *Artifact) error {
	if err := model.ValidateName(name); err != nil {
		return err
	}
	if a == nil || a.Predictor == nil || a.Scaler == nil {
		return model.Invalid("artifact %q is incomplete", name)
	}
	a.Summary.ModelName = name
	predictor, scaler, summary, err := encodeTriple(a)
	if err != nil {
		return err
	}

	s.invalidate(name)
	unlock := s.locks.Lock(name)
	err = commit([]pendingFile{
		{path: s.layout.PredictorPath(name), data: predictor},
		{path: s.layout.ScalerPath(name), data: scaler},
		{path: s.layout.SummaryPath(name), data: summary},
	})
	unlock()
	s.invalidate(name)
	if err != nil {
		return err
	}

	zap.L().Info("artifact written", zap.String("model", name))
	return nil
}

func decodeFile(path string, v any, what, name string) error {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return model.NotFound("%s for model %q not found", what, name)
	}
	if err != nil {
		return model.IOFailure(err, "artifact: open %s", path)
	}
	defer f.Close() //nolint:errcheck
	return regress.Decode(f, v)
}

func readSummaryFile(path, name string) (*model.Summary, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, model.NotFound("summary for model %q not found", name)
	}
	if err != nil {
		return nil, model.IOFailure(err, "artifact: read %s", path)
	}
	var sum model.Summary
	if err := json.Unmarshal(data, &sum); err != nil {
		return nil, eris.Wrapf(err, "artifact: parse summary %s", path)
	}
	return &sum, nil
}

// Read loads the full artifact triple.
func (s *Store) Read(name string) (*Artifact, error) {
	if err := model.ValidateName(name); err != nil {
		return nil, err
	}
	unlock := s.locks.RLock(name)
	defer unlock()

	sum, err := readSummaryFile(s.layout.SummaryPath(name), name)
	if err != nil {
		return nil, err
	}
	a := &Artifact{Summary: *sum, Predictor: &regress.MLP{}, Scaler: &regress.Scaler{}}
	if err := decodeFile(s.layout.PredictorPath(name), a.Predictor, "predictor", name); err != nil {
		return nil, err
	}
	if err := decodeFile(s.layout.ScalerPath(name), a.Scaler, "scaler", name); err != nil {
		return nil, err
	}
	return a, nil
}

// ReadSummary loads only the summary document.
func (s *Store) ReadSummary(name string) (*model.Summary, error) {
	if err := model.ValidateName(name); err != nil {
		return nil, err
	}
	unlock := s.locks.RLock(name)
	defer unlock()
	return readSummaryFile(s.layout.SummaryPath(name), name)
}

// UpdateSummary applies fn to the stored summary under the name lock and
// writes the result back. The write is skipped when fn returns an error.
func (s *Store) UpdateSummary(name string, fn func(*model.Summary) error) error {
	if err := model.ValidateName(name); err != nil {
		return err
	}
	unlock := s.locks.Lock(name)
	defer unlock()

	path := s.layout.SummaryPath(name)
	sum, err := readSummaryFile(path, name)
	if err != nil {
		return err
	}
	if err := fn(sum); err != nil {
		return err
	}
	data, err := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		return eris.Wrap(err, "artifact: marshal summary")
	}
	return commit([]pendingFile{{path: path, data: data}})
}

// List returns model names derived from the predictor files present.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.layout.Models())
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, model.IOFailure(err, "artifact: list models")
	}
	names := []string{}
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() || strings.HasPrefix(n, tmpPrefix) || !strings.HasSuffix(n, predictorExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(n, predictorExt))
	}
	sort.Strings(names)
	return names, nil
}

// SummaryNames returns the stems of every summary file.
func (s *Store) SummaryNames() ([]string, error) {
	return stems(s.layout.Summaries(), summaryExt)
}

func stems(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, model.IOFailure(err, "artifact: read %s", dir)
	}
	out := []string{}
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() || strings.HasPrefix(n, tmpPrefix) || !strings.HasSuffix(n, ext) {
			continue
		}
		out = append(out, strings.TrimSuffix(n, ext))
	}
	sort.Strings(out)
	return out, nil
}

// Delete removes the predictor, scaler, summary and dataset of name. Each
// file is attempted independently and failures are collected.
func (s *Store) Delete(name string) (*BatchResult, error) {
	if err := model.ValidateName(name); err != nil {
		return nil, err
	}
	s.invalidate(name)
	unlock := s.locks.Lock(name)
	defer unlock()

	res := newBatchResult()
	for _, p := range []string{
		s.layout.PredictorPath(name),
		s.layout.ScalerPath(name),
		s.layout.SummaryPath(name),
		s.layout.DatasetPath(name),
	} {
		res.remove(p)
	}
	zap.L().Info("artifact deleted", zap.String("model", name), zap.Int("files", len(res.Deleted)), zap.Int("errors", len(res.Errors)))
	return res, nil
}

// DeleteAll removes every model file, dataset and summary.
func (s *Store) DeleteAll() *BatchResult {
	res := newBatchResult()
	for _, target := range []struct{ dir, ext string }{
		{s.layout.Models(), ""},
		{s.layout.Datasets(), datasetExt},
		{s.layout.Summaries(), summaryExt},
	} {
		entries, err := os.ReadDir(target.dir)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				res.Errors = append(res.Errors, "Error reading "+target.dir+": "+err.Error())
			}
			continue
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), target.ext) {
				continue
			}
			name := e.Name()
			if target.dir == s.layout.Models() {
				s.invalidate(modelStem(name))
			}
			res.remove(filepath.Join(target.dir, name))
		}
	}
	return res
}

// modelStem maps a file in the models directory back to its model name.
func modelStem(file string) string {
	switch {
	case strings.HasSuffix(file, scalerSuffix):
		return strings.TrimSuffix(file, scalerSuffix)
	case strings.HasSuffix(file, predictorExt):
		return strings.TrimSuffix(file, predictorExt)
	}
	return ""
}

func newStagingID() string {
	return uuid.New().String()
}
