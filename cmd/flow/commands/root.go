package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "flow",
		Short: "scenarioflow - scenario execution engine",
		Long: `flow runs automation scenarios: a trigger followed by a graph of nodes.

Scenarios are imported from YAML documents into the configured store, then
simulated with mock outputs, executed with per-node retries, or migrated to
newer node types. Every run is recorded with its lifecycle and run log.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newImportCommand())
	rootCmd.AddCommand(newSimulateCommand())
	rootCmd.AddCommand(newExecuteCommand())
	rootCmd.AddCommand(newDispatchCommand())
	rootCmd.AddCommand(newMigrateCommand())
	rootCmd.AddCommand(newGraphCommand())
	rootCmd.AddCommand(newRunsCommand())
	rootCmd.AddCommand(newTypesCommand())

	return rootCmd
}
