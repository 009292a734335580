package artifact

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pulse/internal/model"
)

// Stage writes a candidate into a fresh staging directory and returns its
// id. The summary keeps the originating model name so that promotion can
// find the dataset it was trained on.
func (s *Store) Stage(a *Artifact) (string, error) {
	if a == nil || a.Predictor == nil || a.Scaler == nil {
		return "", model.Invalid("staged candidate is incomplete")
	}
	predictor, scaler, summary, err := encodeTriple(a)
	if err != nil {
		return "", err
	}

	id := newStagingID()
	dir := s.layout.StagingDir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", model.IOFailure(err, "artifact: create staging dir")
	}
	err = commit([]pendingFile{
		{path: filepath.Join(dir, stagedModel), data: predictor},
		{path: filepath.Join(dir, stagedScaler), data: scaler},
		{path: filepath.Join(dir, stagedSummary), data: summary},
	})
	if err != nil {
		os.RemoveAll(dir) //nolint:errcheck
		return "", err
	}
	return id, nil
}

// Promote copies a staged candidate into the store under finalName,
// rewriting the summary's model name, then removes the staging directory.
// A second promotion of the same id fails with NotFound.
func (s *Store) Promote(stagingID, finalName string) (*model.Summary, error) {
	if _, err := uuid.Parse(stagingID); err != nil {
		return nil, model.NotFound("temporary model %q not found", stagingID)
	}
	if err := model.ValidateName(finalName); err != nil {
		return nil, err
	}

	dir := s.layout.StagingDir(stagingID)
	files := map[string][]byte{}
	for _, f := range []string{stagedModel, stagedScaler, stagedSummary} {
		data, err := os.ReadFile(filepath.Join(dir, f))
		if errors.Is(err, fs.ErrNotExist) {
			return nil, model.NotFound("temporary model %q not found or incomplete", stagingID)
		}
		if err != nil {
			return nil, model.IOFailure(err, "artifact: read staged %s", f)
		}
		files[f] = data
	}

	var sum model.Summary
	if err := json.Unmarshal(files[stagedSummary], &sum); err != nil {
		return nil, eris.Wrapf(err, "artifact: parse staged summary %s", stagingID)
	}
	origin := sum.ModelName
	sum.ModelName = finalName
	summary, err := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "artifact: marshal summary")
	}

	s.invalidate(finalName)
	unlock := s.locks.Lock(finalName)
	err = commit([]pendingFile{
		{path: s.layout.PredictorPath(finalName), data: files[stagedModel]},
		{path: s.layout.ScalerPath(finalName), data: files[stagedScaler]},
		{path: s.layout.SummaryPath(finalName), data: summary},
	})
	if err == nil && origin != "" && origin != finalName {
		s.copyDataset(origin, finalName)
	}
	unlock()
	s.invalidate(finalName)
	if err != nil {
		return nil, err
	}

	if err := os.RemoveAll(dir); err != nil {
		zap.L().Warn("remove staging dir", zap.String("staging_id", stagingID), zap.Error(err))
	}
	zap.L().Info("candidate promoted",
		zap.String("staging_id", stagingID),
		zap.String("model", finalName),
		zap.String("origin", origin),
	)
	return &sum, nil
}

// copyDataset is best-effort: a missing or unreadable source is logged only.
func (s *Store) copyDataset(from, to string) {
	if model.ValidateName(from) != nil {
		return
	}
	data, err := os.ReadFile(s.layout.DatasetPath(from))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			zap.L().Warn("read origin dataset", zap.String("dataset", from), zap.Error(err))
		}
		return
	}
	if err := commit([]pendingFile{{path: s.layout.DatasetPath(to), data: data}}); err != nil {
		zap.L().Warn("copy origin dataset", zap.String("dataset", to), zap.Error(err))
	}
}

// StagedIDs lists the staging directories currently present.
func (s *Store) StagedIDs() ([]string, error) {
	entries, err := os.ReadDir(s.layout.Staging())
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, model.IOFailure(err, "artifact: list staging")
	}
	ids := []string{}
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}
