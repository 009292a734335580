package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/pulse/internal/model"
	"github.com/sells-group/pulse/internal/store"
)

var errNoHistory = eris.New("job history is disabled (store.driver is none)")

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect recorded background jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded jobs, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		if st == nil {
			return errNoHistory
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		kind, _ := cmd.Flags().GetString("kind")
		name, _ := cmd.Flags().GetString("model")
		limit, _ := cmd.Flags().GetInt("limit")

		list, err := st.ListJobs(ctx, store.JobFilter{
			Status:    model.JobStatus(status),
			Kind:      model.JobKind(kind),
			ModelName: name,
			Limit:     limit,
		})
		if err != nil {
			return eris.Wrap(err, "list jobs")
		}
		formatJobsList(os.Stdout, list, time.Now())
		return nil
	},
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one recorded job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		if st == nil {
			return errNoHistory
		}
		defer st.Close() //nolint:errcheck

		job, err := st.GetJob(ctx, args[0])
		if err != nil {
			return err
		}
		formatJob(os.Stdout, job)
		return nil
	},
}

// formatJobsList writes jobs as a table with relative ages.
func formatJobsList(out io.Writer, list []model.Job, now time.Time) {
	if len(list) == 0 {
		_, _ = fmt.Fprintln(out, "No jobs found.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tKIND\tMODEL\tSTATUS\tCREATED\tUPDATED")
	for _, j := range list {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			j.ID, j.Kind, j.ModelName, j.StatusLine(),
			humanize.RelTime(j.CreatedAt, now, "ago", "from now"),
			humanize.RelTime(j.UpdatedAt, now, "ago", "from now"),
		)
	}
	_ = w.Flush()
}

func formatJob(out io.Writer, j *model.Job) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "ID:\t%s\n", j.ID)
	_, _ = fmt.Fprintf(w, "Kind:\t%s\n", j.Kind)
	_, _ = fmt.Fprintf(w, "Model:\t%s\n", j.ModelName)
	_, _ = fmt.Fprintf(w, "Status:\t%s\n", j.Status)
	if j.Error != "" {
		_, _ = fmt.Fprintf(w, "Error:\t%s\n", j.Error)
	}
	if j.Params != nil {
		_, _ = fmt.Fprintf(w, "Params:\t%v\n", j.Params)
	}
	_, _ = fmt.Fprintf(w, "Created:\t%s\n", j.CreatedAt.Format(time.RFC3339))
	_, _ = fmt.Fprintf(w, "Updated:\t%s\n", j.UpdatedAt.Format(time.RFC3339))
	_ = w.Flush()
}

func init() {
	jobsListCmd.Flags().String("status", "", "filter by status (queued, running, completed, failed)")
	jobsListCmd.Flags().String("kind", "", "filter by kind (train, automl)")
	jobsListCmd.Flags().String("model", "", "filter by model name")
	jobsListCmd.Flags().Int("limit", 20, "maximum number of jobs")
	jobsCmd.AddCommand(jobsListCmd, jobsShowCmd)
	rootCmd.AddCommand(jobsCmd)
}
