package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/sells-group/pulse/internal/usage"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show model accuracy and usage counters",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initApp(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		d, err := usage.BuildDashboard(ctx, env.Artifacts, env.Usage)
		if err != nil {
			return err
		}
		formatDashboard(os.Stdout, d)
		return nil
	},
}

func formatDashboard(out io.Writer, d *usage.Dashboard) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Models:\t%s\n", humanize.Comma(int64(d.ModelsCount)))
	_, _ = fmt.Fprintf(w, "Average R2:\t%.4f\n", d.AvgAccuracy)
	_, _ = fmt.Fprintf(w, "Predictions:\t%s\n", humanize.Comma(int64(d.TotalPredictions)))
	_, _ = fmt.Fprintf(w, "Questions:\t%s\n", humanize.Comma(int64(d.LLMQuestions)))

	if len(d.AccuracyByModel) > 0 {
		_, _ = fmt.Fprintln(w, "\nMODEL\tR2")
		for _, m := range d.AccuracyByModel {
			_, _ = fmt.Fprintf(w, "%s\t%.4f\n", m.Model, m.R2)
		}
	}

	if len(d.PredictionsByMonth) > 0 {
		months := make([]string, 0, len(d.PredictionsByMonth))
		for m := range d.PredictionsByMonth {
			months = append(months, m)
		}
		sort.Strings(months)
		_, _ = fmt.Fprintln(w, "\nMONTH\tPREDICTIONS")
		for _, m := range months {
			_, _ = fmt.Fprintf(w, "%s\t%s\n", m, humanize.Comma(int64(d.PredictionsByMonth[m])))
		}
	}
	_ = w.Flush()
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
