package artifact

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/rotisserie/eris"

	"github.com/sells-group/pulse/internal/model"
)

// Export writes a zip of the predictor, scaler and dataset of name. Missing
// parts are skipped; a model with none of them is NotFound.
func (s *Store) Export(name string, w io.Writer) error {
	if err := model.ValidateName(name); err != nil {
		return err
	}
	unlock := s.locks.RLock(name)
	defer unlock()

	var present []string
	for _, p := range []string{s.layout.PredictorPath(name), s.layout.ScalerPath(name), s.layout.DatasetPath(name)} {
		if _, err := os.Stat(p); err == nil {
			present = append(present, p)
		}
	}
	if len(present) == 0 {
		return model.NotFound("model %q not found", name)
	}

	zw := zip.NewWriter(w)
	for _, p := range present {
		if err := addFile(zw, p, filepath.Base(p)); err != nil {
			zw.Close() //nolint:errcheck
			return err
		}
	}
	return eris.Wrap(zw.Close(), "artifact: finish zip")
}

// ExportAll writes a zip of every model file, dataset and summary, each
// under its directory name.
func (s *Store) ExportAll(w io.Writer) error {
	zw := zip.NewWriter(w)
	for _, target := range []struct{ dir, ext string }{
		{s.layout.Models(), ""},
		{s.layout.Datasets(), datasetExt},
		{s.layout.Summaries(), summaryExt},
	} {
		entries, err := os.ReadDir(target.dir)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			zw.Close() //nolint:errcheck
			return model.IOFailure(err, "artifact: read %s", target.dir)
		}
		base := filepath.Base(target.dir)
		for _, e := range entries {
			n := e.Name()
			if e.IsDir() || strings.HasPrefix(n, tmpPrefix) || !strings.HasSuffix(n, target.ext) {
				continue
			}
			if err := addFile(zw, filepath.Join(target.dir, n), base+"/"+n); err != nil {
				zw.Close() //nolint:errcheck
				return err
			}
		}
	}
	return eris.Wrap(zw.Close(), "artifact: finish zip")
}

func addFile(zw *zip.Writer, path, arcname string) error {
	f, err := os.Open(path)
	if err != nil {
		return model.IOFailure(err, "artifact: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	dst, err := zw.Create(arcname)
	if err != nil {
		return eris.Wrapf(err, "artifact: add %s", arcname)
	}
	if _, err := io.Copy(dst, f); err != nil {
		return model.IOFailure(err, "artifact: copy %s", path)
	}
	return nil
}
