package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/scenarioflow/pkg/stores"
)

func newImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>...",
		Short: "Import scenario documents into the store",
		Long: `Import one or more YAML scenario documents. Importing a scenario that
already exists replaces its record and its whole graph.`,
		Example: `  # Import a scenario
  flow import scenarios/onboarding.yaml

  # Import several scenarios into a Badger store
  FLOW_STORE_DRIVER=badger flow import scenarios/*.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				var imported []string
				for _, path := range args {
					doc, err := stores.LoadScenarioDocument(path)
					if err != nil {
						return err
					}
					if err := stores.ImportScenario(cmd.Context(), a.store, doc); err != nil {
						return err
					}
					a.tel.Logger.Info().
						Str("scenario_id", doc.ID).
						Int("nodes", len(doc.Nodes)).
						Int("edges", len(doc.Edges)).
						Msg("Scenario imported")
					imported = append(imported, doc.ID)
				}

				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), map[string]interface{}{"imported": imported})
				}
				for _, id := range imported {
					fmt.Fprintf(cmd.OutOrStdout(), "imported %s\n", id)
				}
				return nil
			})
		},
	}
}
