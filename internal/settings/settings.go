// Package settings stores the operator preferences document.
package settings

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pulse/internal/model"
)

// FileName is the preferences document under the config directory.
const FileName = "config.json"

// Document is the persisted preferences. DefaultModel is null until set.
type Document struct {
	DefaultModel *string `json:"default_model"`
}

// Store reads and writes the preferences document.
type Store struct {
	mu   sync.Mutex
	path string
}

// Open returns a store over dir, creating the document on first use.
func Open(dir string) (*Store, error) {
	s := &Store{path: filepath.Join(dir, FileName)}
	if _, err := os.Stat(s.path); errors.Is(err, fs.ErrNotExist) {
		if err := s.write(Document{}); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Path returns the document location.
func (s *Store) Path() string { return s.path }

func (s *Store) read() (Document, error) {
	var doc Document
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return doc, model.IOFailure(err, "settings: read %s", s.path)
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, eris.Wrapf(err, "settings: parse %s", s.path)
	}
	return doc, nil
}

func (s *Store) write(doc Document) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return model.IOFailure(err, "settings: create dir")
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return eris.Wrap(err, "settings: marshal")
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return model.IOFailure(err, "settings: write %s", s.path)
	}
	return nil
}

// DefaultModel returns the configured default model, "" when unset.
func (s *Store) DefaultModel() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil || doc.DefaultModel == nil {
		return "", err
	}
	return *doc.DefaultModel, nil
}

// SetDefaultModel records name as the default model.
func (s *Store) SetDefaultModel(name string) error {
	if err := model.ValidateName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(Document{DefaultModel: &name})
}

// Reset clears the default model.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	empty := ""
	return s.write(Document{DefaultModel: &empty})
}
