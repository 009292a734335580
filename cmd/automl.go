package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/pulse/internal/jobs"
	"github.com/sells-group/pulse/internal/model"
	"github.com/sells-group/pulse/internal/training"
)

// sweepPlan is the YAML form of an AutoML sweep.
type sweepPlan struct {
	Model     string    `yaml:"model"`
	Features  []string  `yaml:"features"`
	Epochs    []int     `yaml:"epochs"`
	TestSizes []float64 `yaml:"test_sizes"`
}

func loadPlan(path string) (*sweepPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read plan %s", path)
	}
	var p sweepPlan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, eris.Wrapf(err, "parse plan %s", path)
	}
	return &p, nil
}

// sweepParams merges the plan file, when given, with flags the user set.
func sweepParams(cmd *cobra.Command) (model.SweepParams, error) {
	var p model.SweepParams
	flags := cmd.Flags()
	if path, _ := flags.GetString("plan"); path != "" {
		plan, err := loadPlan(path)
		if err != nil {
			return p, err
		}
		p = model.SweepParams{
			ModelName:       plan.Model,
			Features:        plan.Features,
			EpochOptions:    plan.Epochs,
			TestSizeOptions: plan.TestSizes,
		}
	}
	if flags.Changed("model") || p.ModelName == "" {
		p.ModelName, _ = flags.GetString("model")
	}
	if flags.Changed("features") || len(p.Features) == 0 {
		p.Features, _ = flags.GetStringSlice("features")
	}
	if flags.Changed("epochs") || len(p.EpochOptions) == 0 {
		p.EpochOptions, _ = flags.GetIntSlice("epochs")
	}
	if flags.Changed("test-sizes") || len(p.TestSizeOptions) == 0 {
		p.TestSizeOptions, _ = flags.GetFloat64Slice("test-sizes")
	}
	return p, nil
}

var automlCmd = &cobra.Command{
	Use:   "automl",
	Short: "Run an AutoML sweep and stage every candidate",
	Long:  "Trains one candidate per (test size, epochs) pair and stages it. Promote the best one with 'pulse promote'.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		p, err := sweepParams(cmd)
		if err != nil {
			return err
		}

		env, err := initApp(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		cands, err := runSweep(ctx, env, p)
		if err != nil {
			return err
		}
		formatCandidates(os.Stdout, cands)

		if path, _ := cmd.Flags().GetString("csv"); path != "" {
			f, err := os.Create(path)
			if err != nil {
				return eris.Wrapf(err, "create %s", path)
			}
			defer f.Close() //nolint:errcheck
			return writeCandidatesCSV(f, cands)
		}
		return nil
	},
}

func runSweep(ctx context.Context, env *appEnv, p model.SweepParams) ([]training.Candidate, error) {
	if err := training.ValidateSweep(p); err != nil {
		return nil, err
	}
	var cands []training.Candidate
	work := func(ctx context.Context, emit jobs.Emit) error {
		var err error
		cands, err = env.Runner.Sweep(ctx, p, emit)
		return err
	}
	if err := runJob(ctx, env, model.JobKindAutoML, p.ModelName, p, work); err != nil {
		return nil, err
	}
	return cands, nil
}

// formatCandidates writes the staged candidates as a table.
func formatCandidates(out io.Writer, cands []training.Candidate) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "#\tSTAGING_ID\tEPOCHS\tTEST_SIZE\tLOSS\tMAE\tR2")
	for i, c := range cands {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%d\t%g\t%.6f\t%.6f\t%.6f\n", i+1, c.TempID, c.Epochs, c.TestSize, c.Loss, c.MAE, c.R2)
	}
	_ = w.Flush()
}

type candidateRow struct {
	StagingID string  `csv:"staging_id"`
	Epochs    int     `csv:"epochs"`
	TestSize  float64 `csv:"test_size"`
	Loss      float64 `csv:"loss"`
	MAE       float64 `csv:"mae"`
	R2        float64 `csv:"r2"`
}

func writeCandidatesCSV(w io.Writer, cands []training.Candidate) error {
	rows := make([]candidateRow, len(cands))
	for i, c := range cands {
		rows[i] = candidateRow{StagingID: c.TempID, Epochs: c.Epochs, TestSize: c.TestSize, Loss: c.Loss, MAE: c.MAE, R2: c.R2}
	}
	data, err := csvutil.Marshal(rows)
	if err != nil {
		return eris.Wrap(err, "encode candidates")
	}
	_, err = w.Write(data)
	return eris.Wrap(err, "write candidates")
}

func addSweepFlags(c *cobra.Command) {
	c.Flags().String("model", "", "model name (dataset must already be uploaded)")
	c.Flags().StringSlice("features", nil, "feature columns, comma separated")
	c.Flags().IntSlice("epochs", []int{5, 10}, "epoch options")
	c.Flags().Float64Slice("test-sizes", []float64{20, 30}, "held-out percentage options")
	c.Flags().String("plan", "", "YAML sweep plan (flags override its fields)")
}

func init() {
	addSweepFlags(automlCmd)
	automlCmd.Flags().String("csv", "", "also write the candidates to this CSV file")
	rootCmd.AddCommand(automlCmd)
}
