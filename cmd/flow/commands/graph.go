package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/scenarioflow/pkg/engine"
)

func newGraphCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "graph <scenario-id>",
		Short: "Print a scenario graph in DOT format",
		Long: `Load the graph of a scenario the way the executor does (graph edges, then
legacy connections, then node order) and print it in Graphviz DOT format.`,
		Example: `  flow graph onboarding | dot -Tsvg > onboarding.svg`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				g, err := engine.LoadGraph(cmd.Context(), a.store, args[0], a.tel.Logger)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), g)
				}
				_, err = fmt.Fprint(cmd.OutOrStdout(), engine.ToDOT(g.Nodes, g.Edges))
				return err
			})
		},
	}
}
