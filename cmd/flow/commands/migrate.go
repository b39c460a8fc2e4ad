package commands

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/openfroyo/scenarioflow/pkg/engine"
	"github.com/openfroyo/scenarioflow/pkg/migration"
)

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Migrate node configurations between types",
		Long: `Move nodes to another node type, or upgrade their configuration to the
current schema of their own type. Types that declare a migrate capability
rewrite the old configuration; the result is validated against the target
schema before anything is written.`,
	}

	cmd.AddCommand(newMigrateNodeCommand())
	cmd.AddCommand(newMigrateScenarioCommand())
	cmd.AddCommand(newMigrateCheckCommand())
	cmd.AddCommand(newMigratePathsCommand())

	return cmd
}

func newMigrateNodeCommand() *cobra.Command {
	var (
		target string
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "node <node-id>",
		Short: "Migrate one node",
		Example: `  # Upgrade a node's config in place
  flow migrate node fetch-user

  # Move a node to another type without writing
  flow migrate node notify --to webhook_send --dry-run`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				newType := target
				if newType == "" {
					node, err := a.store.GetNode(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					newType = node.Type
				}

				res := a.migrator().MigrateNodeConfig(cmd.Context(), args[0], newType, migration.Options{DryRun: dryRun})
				if err := printMigrations(cmd, []engine.MigrationResult{res}, res); err != nil {
					return err
				}
				if !res.Success {
					return fmt.Errorf("migration of %s failed: %w", args[0], res.Error)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&target, "to", "", "target node type (defaults to the node's current type)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "compute the migration without persisting it")

	return cmd
}

func newMigrateScenarioCommand() *cobra.Command {
	var (
		mapping         map[string]string
		dryRun          bool
		continueOnError bool
	)

	cmd := &cobra.Command{
		Use:   "scenario <scenario-id>",
		Short: "Migrate the nodes of a scenario",
		Long: `Migrate every node of a scenario. --map entries are keyed by node id or by
the current node type; nodes matching no entry are upgraded in place.
The batch stops at the first failure unless --continue-on-error is set.`,
		Example: `  flow migrate scenario onboarding --map legacy_http=http_request --map notify=webhook_send`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				batch, err := a.migrator().MigrateScenarioNodes(cmd.Context(), args[0], mapping, migration.BatchOptions{
					Options:         migration.Options{DryRun: dryRun},
					ContinueOnError: continueOnError,
				})
				if err != nil {
					return err
				}

				if jsonOutput {
					if err := printJSON(cmd.OutOrStdout(), batch); err != nil {
						return err
					}
				} else if err := printMigrations(cmd, batch.Results, nil); err != nil {
					return err
				}

				if batch.FailureCount > 0 {
					return fmt.Errorf("%d of %d node migrations failed", batch.FailureCount, len(batch.Results))
				}
				return nil
			})
		},
	}

	cmd.Flags().StringToStringVar(&mapping, "map", nil, "node id or old type to new type (key=value)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "compute the migrations without persisting them")
	cmd.Flags().BoolVar(&continueOnError, "continue-on-error", false, "keep migrating after a failure")

	return cmd
}

// printMigrations renders results as a table, or single as JSON when set.
func printMigrations(cmd *cobra.Command, results []engine.MigrationResult, single interface{}) error {
	if jsonOutput && single != nil {
		return printJSON(cmd.OutOrStdout(), single)
	}
	tw := newTable(cmd, table.Row{"Node", "Old Type", "New Type", "Changed", "Persisted", "Error"})
	for _, r := range results {
		msg := ""
		if r.Error != nil {
			msg = truncate(r.Error.Error(), 60)
		}
		tw.AppendRow(table.Row{r.NodeID, r.OldType, r.NewType, r.ConfigChanged, r.Persisted, msg})
	}
	tw.Render()
	return nil
}

func newMigrateCheckCommand() *cobra.Command {
	var (
		rawConfig string
		target    string
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check whether a config fits a node type",
		Example: `  flow migrate check --to http_request --config '{"endpoint":"https://api.example.com","verb":"post"}'`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				compat := a.migrator().CheckMigrationCompatibility(rawConfig, target)
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), compat)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "target:           %s\n", compat.TargetType)
				fmt.Fprintf(out, "compatible:       %t\n", compat.Compatible)
				fmt.Fprintf(out, "can migrate:      %t\n", compat.CanMigrate)
				fmt.Fprintf(out, "migration needed: %t\n", compat.MigrationNeeded)
				for _, issue := range compat.Issues {
					fmt.Fprintf(out, "  - %s\n", issue)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&rawConfig, "config", "{}", "node config as a JSON object")
	cmd.Flags().StringVar(&target, "to", "", "target node type")
	_ = cmd.MarkFlagRequired("to")

	return cmd
}

func newMigratePathsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "paths <node-type>",
		Short: "List the types a node type could migrate to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				paths := a.migrator().GetAvailableMigrationPaths(args[0])
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), paths)
				}
				if len(paths) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "no migration paths from %s\n", args[0])
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), strings.Join(paths, "\n"))
				return nil
			})
		},
	}
}
