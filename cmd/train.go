package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/pulse/internal/jobs"
	"github.com/sells-group/pulse/internal/model"
	"github.com/sells-group/pulse/internal/training"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train one model in-process",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initApp(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		name, _ := cmd.Flags().GetString("model")
		features, _ := cmd.Flags().GetStringSlice("features")
		epochs, _ := cmd.Flags().GetInt("epochs")
		testSize, _ := cmd.Flags().GetFloat64("test-size")

		return runTrain(ctx, env, model.TrainParams{
			ModelName: name,
			Features:  features,
			Epochs:    epochs,
			TestSize:  testSize,
		}, os.Stdout)
	},
}

// runTrain trains through the registry like the server does and prints the
// resulting metrics.
func runTrain(ctx context.Context, env *appEnv, p model.TrainParams, out io.Writer) error {
	if err := training.ValidateTrain(p); err != nil {
		return err
	}
	if err := runJob(ctx, env, model.JobKindTrain, p.ModelName, p, env.Runner.TrainJob(p)); err != nil {
		return err
	}
	sum, err := env.Artifacts.ReadSummary(p.ModelName)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "model %s trained: loss=%.6f mae=%.6f r2=%.6f\n", //nolint:errcheck
		sum.ModelName, sum.Metrics.Loss, sum.Metrics.MAE, sum.Metrics.R2)
	return nil
}

// runJob submits work, logs its progress and waits for the terminal state.
func runJob(ctx context.Context, env *appEnv, kind model.JobKind, name string, params any, work jobs.Work) error {
	logged := func(ctx context.Context, emit jobs.Emit) error {
		return work(ctx, func(ev model.ProgressEvent) {
			logProgress(ev)
			emit(ev)
		})
	}
	id := env.Registry.Submit(kind, name, params, logged)
	if err := env.Registry.Wait(ctx); err != nil {
		return eris.Wrapf(err, "wait for job %s", id)
	}
	job, ok := env.Registry.Get(id)
	if !ok {
		return eris.Errorf("job %s vanished", id)
	}
	if job.Status == model.JobStatusFailed {
		return eris.Errorf("job %s failed: %s", id, job.Error)
	}
	return nil
}

func logProgress(ev model.ProgressEvent) {
	fields := []zap.Field{zap.String("type", ev.Type)}
	if ev.Epoch > 0 {
		fields = append(fields, zap.Int("epoch", ev.Epoch), zap.Int("total_epochs", ev.TotalEpochs))
	}
	if ev.CandidateIndex > 0 {
		fields = append(fields,
			zap.Int("candidate", ev.CandidateIndex),
			zap.Int("total_candidates", ev.TotalCandidates),
			zap.Int("epochs", ev.Epochs),
			zap.Float64("test_size", ev.TestSize),
		)
	}
	if ev.TempID != "" {
		fields = append(fields, zap.String("staging_id", ev.TempID))
	}
	for key, v := range map[string]*float64{"loss": ev.Loss, "mae": ev.MAE, "mse": ev.MSE, "r2": ev.R2} {
		if v != nil {
			fields = append(fields, zap.Float64(key, *v))
		}
	}
	zap.L().Info("progress", fields...)
}

func init() {
	trainCmd.Flags().String("model", "", "model name (dataset must already be uploaded)")
	trainCmd.Flags().StringSlice("features", nil, "feature columns, comma separated")
	trainCmd.Flags().Int("epochs", 10, "training epochs")
	trainCmd.Flags().Float64("test-size", 20, "held-out percentage, between 0 and 100")
	_ = trainCmd.MarkFlagRequired("model")
	_ = trainCmd.MarkFlagRequired("features")
	rootCmd.AddCommand(trainCmd)
}
