package artifact

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// PurgeOrphans reconciles the store directories. Staging content is always
// removed. Datasets, predictors and scalers whose stem has no summary are
// removed, as are leftover temporary files. Summaries are never removed.
func (s *Store) PurgeOrphans() *BatchResult {
	res := newBatchResult()

	names, err := s.SummaryNames()
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
		return res
	}
	valid := make(map[string]bool, len(names))
	for _, n := range names {
		valid[n] = true
	}

	if entries, err := os.ReadDir(s.layout.Staging()); err == nil {
		for _, e := range entries {
			p := filepath.Join(s.layout.Staging(), e.Name())
			if err := os.RemoveAll(p); err != nil {
				res.Errors = append(res.Errors, "Error deleting "+p+": "+err.Error())
				continue
			}
			res.Deleted = append(res.Deleted, p)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		res.Errors = append(res.Errors, "Error reading "+s.layout.Staging()+": "+err.Error())
	}

	s.purgeDir(res, s.layout.Datasets(), valid, func(n string) string {
		if strings.HasSuffix(n, datasetExt) {
			return strings.TrimSuffix(n, datasetExt)
		}
		return ""
	})
	s.purgeDir(res, s.layout.Models(), valid, modelStem)
	s.purgeTemps(res, s.layout.Summaries())

	zap.L().Info("purge finished", zap.Int("deleted", len(res.Deleted)), zap.Int("errors", len(res.Errors)))
	return res
}

func (s *Store) purgeDir(res *BatchResult, dir string, valid map[string]bool, stem func(string) string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			res.Errors = append(res.Errors, "Error reading "+dir+": "+err.Error())
		}
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		n := e.Name()
		if strings.HasPrefix(n, tmpPrefix) {
			res.remove(filepath.Join(dir, n))
			continue
		}
		st := stem(n)
		if st == "" || valid[st] {
			continue
		}
		s.invalidate(st)
		unlock := s.locks.Lock(st)
		res.remove(filepath.Join(dir, n))
		unlock()
	}
}

func (s *Store) purgeTemps(res *BatchResult, dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), tmpPrefix) {
			res.remove(filepath.Join(dir, e.Name()))
		}
	}
}
