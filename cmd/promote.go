package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var promoteCmd = &cobra.Command{
	Use:   "promote <staging-id> <final-name>",
	Short: "Commit a staged AutoML candidate under a model name",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initApp(cmd.Context(), "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		sum, err := env.Artifacts.Promote(args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "promoted %s as %s (r2=%.6f)\n", args[0], sum.ModelName, sum.Metrics.R2) //nolint:errcheck
		return nil
	},
}

func init() {
	rootCmd.AddCommand(promoteCmd)
}
