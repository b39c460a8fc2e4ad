package commands

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/openfroyo/scenarioflow/pkg/dryrun"
)

func newSimulateCommand() *cobra.Command {
	var (
		payload      string
		usePublished bool
	)

	cmd := &cobra.Command{
		Use:   "simulate <scenario>",
		Short: "Dry-run a scenario with mock node outputs",
		Long: `Walk a scenario in execution order without running any node. Each node
gets a mock output shaped like the real one, so the data flow can be checked
before anything touches an external system. No run record is written.`,
		Example: `  # Simulate with a synthetic trigger payload
  flow simulate onboarding

  # Simulate the published version with an explicit payload
  flow simulate onboarding --published --payload '{"email":"ada@example.com"}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := parsePayload(payload)
			if err != nil {
				return err
			}

			return withApp(cmd.Context(), func(a *app) error {
				res, err := a.simulator().SimulateScenario(cmd.Context(), args[0], dryrun.Options{
					TriggerPayload: body,
					UsePublished:   usePublished,
				})
				if err != nil {
					return err
				}

				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), res)
				}

				tw := newTable(cmd, table.Row{"Step", "Node", "Type", "Mock", "Status", "Error"})
				for _, nr := range res.NodeResults {
					msg := ""
					if nr.Error != nil {
						msg = truncate(nr.Error.Error(), 60)
					}
					tw.AppendRow(table.Row{nr.Step, nr.NodeID, nr.NodeType, nr.MockKind, nr.Status, msg})
				}
				tw.SetCaption("trigger %s, graph from %s", res.TriggerKey, res.GraphSource)
				tw.Render()

				if !res.Valid {
					if res.Error != nil {
						return fmt.Errorf("simulation of %s failed: %w", args[0], res.Error)
					}
					return fmt.Errorf("simulation of %s failed", args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "valid, %d nodes simulated\n", len(res.NodeResults))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&payload, "payload", "p", "", "trigger payload as a JSON object")
	cmd.Flags().BoolVar(&usePublished, "published", false, "use the published scenario configuration")

	return cmd
}
