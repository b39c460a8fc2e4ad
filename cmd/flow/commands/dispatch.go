package commands

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/scenarioflow/pkg/runner"
)

func newDispatchCommand() *cobra.Command {
	var concurrency int

	cmd := &cobra.Command{
		Use:   "dispatch <events-file>",
		Short: "Execute a batch of trigger events concurrently",
		Long: `Read a YAML list of trigger events and execute them concurrently, at most
--concurrency at a time. Each event becomes its own run; runs share nothing but
the type registry.

  - scenario_id: onboarding
    payload: {user_id: 1}
  - scenario_id: invoices
    trigger_key: manual
    retry_profile: aggressive`,
		Example: `  flow dispatch events.yaml --concurrency 8`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read events: %w", err)
			}
			var events []runner.TriggerEvent
			if err := yaml.Unmarshal(data, &events); err != nil {
				return fmt.Errorf("failed to parse events: %w", err)
			}

			return withApp(cmd.Context(), func(a *app) error {
				if err := a.tel.StartMetricsServer(cmd.Context()); err != nil {
					return err
				}
				r, err := a.runner()
				if err != nil {
					return err
				}
				if concurrency <= 0 {
					concurrency = a.cfg.Dispatch.Concurrency
				}

				results := runner.NewDispatcher(r, concurrency, a.tel.Logger).Dispatch(cmd.Context(), events)
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), results)
				}

				failed := 0
				tw := newTable(cmd, table.Row{"Scenario", "Run", "Success", "Nodes", "Error"})
				for _, res := range results {
					msg := ""
					if res.Error != nil {
						msg = truncate(string(res.Error.Code)+": "+res.Error.Message, 60)
					}
					if !res.Success {
						failed++
					}
					tw.AppendRow(table.Row{res.ScenarioID, res.RunID, res.Success, res.NodesExecuted, msg})
				}
				tw.Render()

				if failed > 0 {
					return fmt.Errorf("%d of %d runs failed", failed, len(results))
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "maximum concurrent runs (defaults to dispatch.concurrency)")

	return cmd
}
