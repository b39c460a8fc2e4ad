package commands

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/openfroyo/scenarioflow/pkg/runner"
)

func newExecuteCommand() *cobra.Command {
	var (
		payload      string
		triggerKey   string
		retryProfile string
	)

	cmd := &cobra.Command{
		Use:   "execute <scenario>",
		Short: "Execute a scenario",
		Long: `Fire the scenario's trigger and run every node in dependency order.
Nodes run one at a time; a failing node is retried according to the retry
profile and stops the run once retries are exhausted.`,
		Example: `  # Execute with the trigger's own payload
  flow execute onboarding

  # Execute with an explicit payload and no retries
  flow execute onboarding --payload '{"user_id":42}' --retry-profile none`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := parsePayload(payload)
			if err != nil {
				return err
			}

			return withApp(cmd.Context(), func(a *app) error {
				if err := a.tel.StartMetricsServer(cmd.Context()); err != nil {
					return err
				}
				r, err := a.runner()
				if err != nil {
					return err
				}

				res := r.Trigger(cmd.Context(), runner.TriggerEvent{
					ScenarioID:   args[0],
					TriggerKey:   triggerKey,
					Payload:      body,
					RetryProfile: retryProfile,
				})
				return printExecution(cmd, res)
			})
		},
	}

	cmd.Flags().StringVarP(&payload, "payload", "p", "", "trigger payload as a JSON object")
	cmd.Flags().StringVar(&triggerKey, "trigger", "", "trigger key (defaults to the scenario's trigger)")
	cmd.Flags().StringVar(&retryProfile, "retry-profile", "", "retry profile name")

	return cmd
}

func printExecution(cmd *cobra.Command, res *runner.ExecutionResult) error {
	if jsonOutput {
		if err := printJSON(cmd.OutOrStdout(), res); err != nil {
			return err
		}
	} else {
		tw := newTable(cmd, table.Row{"Node", "Type", "Status", "Attempts", "Duration", "Error"})
		for _, s := range res.Steps {
			msg := ""
			if s.Error != nil {
				msg = truncate(string(s.Error.Code)+": "+s.Error.Message, 60)
			}
			tw.AppendRow(table.Row{s.NodeID, s.NodeType, s.Status, s.Attempts, s.Duration.Round(time.Millisecond), msg})
		}
		tw.SetCaption("run %s, correlation %s", res.RunID, res.CorrelationID)
		tw.Render()
	}

	if !res.Success {
		if res.Error != nil {
			return fmt.Errorf("run %s of %s failed: %s: %s", res.RunID, res.ScenarioID, res.Error.Code, res.Error.Message)
		}
		return fmt.Errorf("run %s of %s failed", res.RunID, res.ScenarioID)
	}
	if !jsonOutput {
		fmt.Fprintf(cmd.OutOrStdout(), "succeeded, %d nodes in %s\n", res.NodesExecuted, res.TotalDuration.Round(time.Millisecond))
	}
	return nil
}
