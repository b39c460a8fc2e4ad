package commands

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/openfroyo/scenarioflow/pkg/engine"
	"github.com/openfroyo/scenarioflow/pkg/runner"
)

func newRunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect and manage scenario runs",
	}

	cmd.AddCommand(newRunsListCommand())
	cmd.AddCommand(newRunsShowCommand())
	cmd.AddCommand(newRunsCancelCommand())
	cmd.AddCommand(newRunsDeadLettersCommand())

	return cmd
}

func newRunsListCommand() *cobra.Command {
	var (
		scenarioID string
		status     string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := engine.RunFilter{ScenarioID: scenarioID, Limit: limit}
			if status != "" {
				filter.Status = engine.RunStatus(status)
				if err := filter.Status.Validate(); err != nil {
					return err
				}
			}

			return withApp(cmd.Context(), func(a *app) error {
				runs, err := a.store.ListRuns(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), runs)
				}

				tw := newTable(cmd, table.Row{"Run", "Scenario", "Status", "Trigger", "Started", "Duration", "Error"})
				for _, r := range runs {
					tw.AppendRow(table.Row{r.ID, r.ScenarioID, r.Status, r.TriggerKey, r.StartedAt.Format(time.RFC3339), runDuration(r), runErrorText(r.Error)})
				}
				tw.Render()
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&scenarioID, "scenario", "", "only runs of this scenario")
	cmd.Flags().StringVar(&status, "status", "", "only runs in this status")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs (0 for all)")

	return cmd
}

func newRunsShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a run and its log entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				return showRun(cmd, a, args[0])
			})
		},
	}
}

func newRunsCancelCommand() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "cancel <run-id>",
		Short: "Cancel a pending or running run",
		Long: `Move a run to cancelled. Runs that already reached a terminal status are
left untouched.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				run, err := a.store.GetRun(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if run.Status.IsTerminal() {
					return fmt.Errorf("run %s is already %s", run.ID, run.Status)
				}

				a.lifecycle.MarkCancelled(cmd.Context(), runner.RunRef{
					ScenarioID:    run.ScenarioID,
					RunID:         run.ID,
					CorrelationID: run.CorrelationID,
					TriggerKey:    run.TriggerKey,
				}, reason)

				return showRun(cmd, a, run.ID)
			})
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "cancelled by operator", "reason recorded in the run log")

	return cmd
}

func newRunsDeadLettersCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "dead-letters",
		Short: "List dead-lettered run failures, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				entries, err := a.store.ListDeadLetters(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), entries)
				}
				printRunLogs(cmd, entries)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of entries (0 for all)")

	return cmd
}

type runDetail struct {
	Run  *engine.ScenarioRun  `json:"run"`
	Logs []engine.RunLogEntry `json:"logs"`
}

func showRun(cmd *cobra.Command, a *app, runID string) error {
	run, err := a.store.GetRun(cmd.Context(), runID)
	if err != nil {
		return err
	}
	logs, err := a.store.ListRunLogs(cmd.Context(), runID)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), runDetail{Run: run, Logs: logs})
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run:         %s\n", run.ID)
	fmt.Fprintf(out, "scenario:    %s\n", run.ScenarioID)
	fmt.Fprintf(out, "status:      %s\n", run.Status)
	fmt.Fprintf(out, "correlation: %s\n", run.CorrelationID)
	fmt.Fprintf(out, "trigger:     %s\n", run.TriggerKey)
	fmt.Fprintf(out, "started:     %s\n", run.StartedAt.Format(time.RFC3339))
	if run.CompletedAt != nil {
		fmt.Fprintf(out, "completed:   %s (%s)\n", run.CompletedAt.Format(time.RFC3339), runDuration(*run))
	}
	if run.Error != nil {
		fmt.Fprintf(out, "error:       [%s] %s (retries: %d, fatal: %t)\n", run.Error.Code, run.Error.Message, run.Error.RetryCount, run.Error.IsFatal)
	}

	if len(logs) > 0 {
		fmt.Fprintln(out)
		printRunLogs(cmd, logs)
	}
	return nil
}

func printRunLogs(cmd *cobra.Command, entries []engine.RunLogEntry) {
	tw := newTable(cmd, table.Row{"ID", "Run", "Scenario", "Status", "Dead Letter", "Created", "Message"})
	for _, e := range entries {
		tw.AppendRow(table.Row{e.ID, e.RunID, e.ScenarioID, e.Status, e.DeadLetter, e.CreatedAt.Format(time.RFC3339), truncate(e.ErrorMessage, 60)})
	}
	tw.Render()
}

func runDuration(r engine.ScenarioRun) string {
	if r.CompletedAt == nil {
		return "-"
	}
	return r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
}

func runErrorText(e *engine.RunError) string {
	if e == nil {
		return ""
	}
	return truncate(fmt.Sprintf("[%s] %s", e.Code, e.Message), 60)
}
