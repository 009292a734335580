package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/sells-group/pulse/internal/artifact"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Inspect and manage trained models",
}

var modelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List trained models",
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := initApp(cmd.Context(), "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		rows, err := collectModels(env.Artifacts)
		if err != nil {
			return err
		}
		formatModelsList(os.Stdout, rows, time.Now())
		return nil
	},
}

var modelsDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a model with its scaler, summary and dataset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initApp(cmd.Context(), "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Artifacts.Delete(args[0])
		if err != nil {
			return err
		}
		printBatch(cmd.OutOrStdout(), res)
		return nil
	},
}

var modelsPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove files that no longer belong to a model",
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := initApp(cmd.Context(), "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		printBatch(cmd.OutOrStdout(), env.Artifacts.PurgeOrphans())
		return nil
	},
}

type modelRow struct {
	Name     string
	R2       float64
	HasStats bool
	Size     int64
	Modified time.Time
}

func collectModels(arts *artifact.Store) ([]modelRow, error) {
	names, err := arts.List()
	if err != nil {
		return nil, err
	}
	layout := arts.Layout()
	rows := make([]modelRow, 0, len(names))
	for _, name := range names {
		row := modelRow{Name: name}
		if fi, err := os.Stat(layout.PredictorPath(name)); err == nil {
			row.Size = fi.Size()
			row.Modified = fi.ModTime()
		}
		if sum, err := arts.ReadSummary(name); err == nil {
			row.R2 = sum.Metrics.R2
			row.HasStats = true
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// formatModelsList writes models as a table.
func formatModelsList(out io.Writer, rows []modelRow, now time.Time) {
	if len(rows) == 0 {
		_, _ = fmt.Fprintln(out, "No models found.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tR2\tSIZE\tMODIFIED")
	for _, r := range rows {
		r2 := "-"
		if r.HasStats {
			r2 = fmt.Sprintf("%.4f", r.R2)
		}
		modified := "-"
		if !r.Modified.IsZero() {
			modified = humanize.RelTime(r.Modified, now, "ago", "from now")
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Name, r2, humanize.Bytes(uint64(r.Size)), modified)
	}
	_ = w.Flush()
}

func printBatch(out io.Writer, res *artifact.BatchResult) {
	for _, p := range res.Deleted {
		_, _ = fmt.Fprintf(out, "deleted %s\n", p)
	}
	for _, e := range res.Errors {
		_, _ = fmt.Fprintln(out, e)
	}
	_, _ = fmt.Fprintf(out, "%d removed, %d errors\n", len(res.Deleted), len(res.Errors))
}

func init() {
	modelsCmd.AddCommand(modelsListCmd, modelsDeleteCmd, modelsPurgeCmd)
	rootCmd.AddCommand(modelsCmd)
}
