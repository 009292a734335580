//go:build !integration

package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func subcommandNames(c *cobra.Command) map[string]bool {
	names := make(map[string]bool)
	for _, sub := range c.Commands() {
		names[sub.Name()] = true
	}
	return names
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := subcommandNames(rootCmd)
	for _, name := range []string{"serve", "train", "automl", "promote", "models", "jobs", "stats"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "pulse", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestTrainCommand_Flags(t *testing.T) {
	for name, def := range map[string]string{
		"model":     "",
		"features":  "[]",
		"epochs":    "10",
		"test-size": "20",
	} {
		flag := trainCmd.Flags().Lookup(name)
		require.NotNil(t, flag, "train should have --%s flag", name)
		assert.Equal(t, def, flag.DefValue, name)
	}
}

func TestAutoMLCommand_Flags(t *testing.T) {
	for _, name := range []string{"model", "features", "epochs", "test-sizes", "plan", "csv"} {
		assert.NotNil(t, automlCmd.Flags().Lookup(name), "automl should have --%s flag", name)
	}
	assert.Equal(t, "[5,10]", automlCmd.Flags().Lookup("epochs").DefValue)
}

func TestPromoteCommand_Args(t *testing.T) {
	assert.Error(t, promoteCmd.Args(promoteCmd, []string{"only-one"}))
	assert.NoError(t, promoteCmd.Args(promoteCmd, []string{"abc123", "final"}))
}

func TestModelsCommand_HasSubcommands(t *testing.T) {
	names := subcommandNames(modelsCmd)
	for _, name := range []string{"list", "delete", "purge"} {
		assert.True(t, names[name], "models should have subcommand %q", name)
	}
}

func TestJobsCommand_HasSubcommands(t *testing.T) {
	names := subcommandNames(jobsCmd)
	assert.True(t, names["list"])
	assert.True(t, names["show"])

	for _, name := range []string{"status", "kind", "model", "limit"} {
		assert.NotNil(t, jobsListCmd.Flags().Lookup(name), "jobs list should have --%s flag", name)
	}
	assert.Equal(t, "20", jobsListCmd.Flags().Lookup("limit").DefValue)
}
