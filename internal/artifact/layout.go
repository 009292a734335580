// Package artifact is the durable on-disk store for trained models, their
// scalers and JSON summaries, plus the transient staging area that holds
// AutoML candidates until they are promoted.
package artifact

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

const (
	predictorExt  = ".mlp"
	scalerSuffix  = "_scaler.gz"
	summaryExt    = ".json"
	datasetExt    = ".csv"
	tmpPrefix     = ".tmp-"
	stagedModel   = "model.mlp"
	stagedScaler  = "scaler.gz"
	stagedSummary = "summary.json"
)

// Layout resolves the directories under a data root.
type Layout struct {
	Root string
}

func (l Layout) Datasets() string  { return filepath.Join(l.Root, "datasets") }
func (l Layout) Models() string    { return filepath.Join(l.Root, "models") }
func (l Layout) Summaries() string { return filepath.Join(l.Root, "summaries") }
func (l Layout) Staging() string   { return filepath.Join(l.Root, "temp_models") }
func (l Layout) Config() string    { return filepath.Join(l.Root, ".config") }

func (l Layout) PredictorPath(name string) string {
	return filepath.Join(l.Models(), name+predictorExt)
}

func (l Layout) ScalerPath(name string) string {
	return filepath.Join(l.Models(), name+scalerSuffix)
}

func (l Layout) SummaryPath(name string) string {
	return filepath.Join(l.Summaries(), name+summaryExt)
}

func (l Layout) DatasetPath(name string) string {
	return filepath.Join(l.Datasets(), name+datasetExt)
}

func (l Layout) StagingDir(id string) string {
	return filepath.Join(l.Staging(), id)
}

// Ensure creates every directory of the layout.
func (l Layout) Ensure() error {
	for _, dir := range []string{l.Datasets(), l.Models(), l.Summaries(), l.Staging(), l.Config()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "artifact: create %s", dir)
		}
	}
	return nil
}
