package dataset

import (
	"bytes"
	"errors"
	"io/fs"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/pulse/internal/model"
)

const (
	// SampleName is the bundled dataset offered by LoadSample.
	SampleName = "sample.csv"
	// SuggestThreshold is the minimum |r| with the target for a suggestion.
	SuggestThreshold = 0.3
	// PreviewRows bounds the rows returned by Load and Filter.
	PreviewRows = 100
)

// SummaryReader supplies the declared features of a trained model.
type SummaryReader interface {
	ReadSummary(name string) (*model.Summary, error)
}

// Service manages the datasets directory.
type Service struct {
	dir       string
	summaries SummaryReader
}

// NewService returns a Service over dir.
func NewService(dir string, summaries SummaryReader) *Service {
	return &Service{dir: dir, summaries: summaries}
}

func (s *Service) modelPath(name string) (string, error) {
	if err := model.ValidateName(name); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, name+".csv"), nil
}

func (s *Service) filePath(file string) (string, error) {
	if file == "" || filepath.Base(file) != file || !strings.HasSuffix(file, ".csv") || strings.HasPrefix(file, ".") {
		return "", model.Invalid("invalid dataset name %q", file)
	}
	return filepath.Join(s.dir, file), nil
}

func readTable(path, what string) (*Table, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, model.NotFound("%s not found", what)
	}
	if err != nil {
		return nil, model.IOFailure(err, "dataset: read %s", path)
	}
	return Parse(bytes.NewReader(data))
}

func writeTable(path string, t *Table) error {
	var buf bytes.Buffer
	if err := t.Write(&buf); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return model.IOFailure(err, "dataset: write %s", path)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp) //nolint:errcheck
		return model.IOFailure(err, "dataset: rename %s", path)
	}
	return nil
}

// Upload stores data as the dataset of modelName. Workbooks are converted;
// anything else is read as semicolon-separated text. Returns the
// normalised columns.
func (s *Service) Upload(modelName, filename string, data []byte) ([]string, error) {
	path, err := s.modelPath(modelName)
	if err != nil {
		return nil, err
	}
	var t *Table
	if strings.EqualFold(filepath.Ext(filename), ".xlsx") {
		t, err = ParseXLSX(data)
	} else {
		t, err = Parse(bytes.NewReader(data))
	}
	if err != nil {
		return nil, err
	}
	if err := writeTable(path, t); err != nil {
		return nil, err
	}
	zap.L().Info("dataset uploaded",
		zap.String("model", modelName),
		zap.Int("rows", len(t.Rows)),
		zap.Int("columns", len(t.Columns)),
	)
	return t.Columns, nil
}

// LoadSample copies the bundled sample as the dataset of modelName.
func (s *Service) LoadSample(modelName string) ([]string, error) {
	path, err := s.modelPath(modelName)
	if err != nil {
		return nil, err
	}
	t, err := readTable(filepath.Join(s.dir, SampleName), "sample file")
	if err != nil {
		return nil, err
	}
	if err := writeTable(path, t); err != nil {
		return nil, err
	}
	return t.Columns, nil
}

// Open reads the dataset of modelName.
func (s *Service) Open(modelName string) (*Table, error) {
	path, err := s.modelPath(modelName)
	if err != nil {
		return nil, err
	}
	return readTable(path, "dataset for model "+modelName)
}

// Suggestion ranks candidate features by correlation with the target.
type Suggestion struct {
	Suggested    []string           `json:"suggested_features"`
	Correlations map[string]float64 `json:"correlations"`
}

// SuggestFeatures returns the numeric columns whose |r| with the target
// exceeds SuggestThreshold, strongest first.
func (s *Service) SuggestFeatures(modelName string) (*Suggestion, error) {
	t, err := s.Open(modelName)
	if err != nil {
		return nil, err
	}
	if !t.Has(model.TargetColumn) {
		return nil, model.Invalid("'%s' column not found in uploaded data", model.TargetColumn)
	}

	abs := map[string]float64{}
	for c, r := range t.Correlations(model.TargetColumn) {
		abs[c] = math.Abs(r)
	}
	suggested := []string{}
	for c, r := range abs {
		if c != model.TargetColumn && r > SuggestThreshold {
			suggested = append(suggested, c)
		}
	}
	sort.Slice(suggested, func(i, j int) bool {
		if abs[suggested[i]] != abs[suggested[j]] {
			return abs[suggested[i]] > abs[suggested[j]]
		}
		return suggested[i] < suggested[j]
	})
	return &Suggestion{Suggested: suggested, Correlations: abs}, nil
}

// ExampleInput picks a random complete row restricted to features.
func (s *Service) ExampleInput(modelName string, features []string, rng *rand.Rand) (map[string]float64, error) {
	t, err := s.Open(modelName)
	if err != nil {
		return nil, err
	}
	if len(features) == 0 {
		return nil, model.Invalid("no features requested")
	}
	if missing := t.Missing(features); len(missing) > 0 {
		return nil, model.Invalid("missing features in data: %v", missing)
	}
	rows, err := t.Matrix(features)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, model.Invalid("no complete rows for features %v", features)
	}
	var pick int
	if rng != nil {
		pick = rng.IntN(len(rows))
	} else {
		pick = rand.IntN(len(rows))
	}
	out := make(map[string]float64, len(features))
	for i, f := range features {
		out[f] = rows[pick][i]
	}
	return out, nil
}

// List returns the dataset file names.
func (s *Service) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, model.IOFailure(err, "dataset: list")
	}
	out := []string{}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".csv") && !strings.HasPrefix(e.Name(), ".") {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// Preview is the head of a dataset plus descriptive statistics.
type Preview struct {
	Sample  []map[string]any              `json:"sample"`
	Summary map[string]map[string]float64 `json:"summary"`
	Columns []string                      `json:"columns"`
}

// Load previews a dataset file restricted to the declared features of the
// model sharing its stem.
func (s *Service) Load(file string) (*Preview, error) {
	path, err := s.filePath(file)
	if err != nil {
		return nil, err
	}
	t, err := readTable(path, "dataset")
	if err != nil {
		return nil, err
	}
	sum, err := s.summaries.ReadSummary(strings.TrimSuffix(file, ".csv"))
	if err != nil {
		return nil, err
	}

	cols := []string{}
	for _, f := range sum.Features {
		if t.Index(f) >= 0 {
			cols = append(cols, f)
		}
	}
	p := &Preview{Sample: []map[string]any{}, Summary: map[string]map[string]float64{}, Columns: cols}
	for i := 0; i < len(t.Rows) && i < PreviewRows; i++ {
		p.Sample = append(p.Sample, t.Record(i, cols))
	}
	for _, c := range cols {
		p.Summary[c] = Describe(t.Column(c))
	}
	return p, nil
}
