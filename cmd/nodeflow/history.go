package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/pkg/schema"
)

var historyCmd = &cobra.Command{
	Use:   "history [workflow-id]",
	Short: "List recorded executions, newest first",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		since, _ := cmd.Flags().GetDuration("since")

		filter := store.ExecutionFilter{Limit: limit}
		if len(args) == 1 {
			filter.WorkflowID = args[0]
		}
		if status != "" {
			es := schema.ExecutionStatus(status)
			filter.Status = &es
		}
		if since > 0 {
			t := time.Now().Add(-since)
			filter.Since = &t
		}

		return withApp(cmd, func(a *app) error {
			execs, err := a.runner.History(cmd.Context(), filter)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "EXECUTION\tWORKFLOW\tSTATUS\tSTARTED\tDURATION\tERROR")
			for _, e := range execs {
				errText := ""
				if e.Error != nil {
					errText = e.Error.Error()
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", e.ID, e.WorkflowID, e.Status,
					e.StartedAt.Local().Format("2006-01-02 15:04:05"), e.Duration().Round(time.Millisecond), errText)
			}
			return tw.Flush()
		})
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <execution-id>",
	Short: "Print one execution with its run log as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			exec, err := a.runner.Execution(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), exec)
		})
	},
}

var historyLogsCmd = &cobra.Command{
	Use:   "logs [workflow-id]",
	Short: "List run log entries across executions, newest first",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		level, _ := cmd.Flags().GetString("level")
		nodeID, _ := cmd.Flags().GetString("node")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.LogFilter{Level: schema.LogLevel(level), NodeID: nodeID, Limit: limit}
		if len(args) == 1 {
			filter.WorkflowID = args[0]
		}

		return withApp(cmd, func(a *app) error {
			logs, err := a.store.ListLogs(cmd.Context(), filter)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tEXECUTION\tLEVEL\tNODE\tMESSAGE")
			for _, l := range logs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", l.Timestamp.Local().Format("2006-01-02 15:04:05"),
					l.ExecutionID, l.Level, l.NodeID, l.Message)
			}
			return tw.Flush()
		})
	},
}

func init() {
	historyCmd.Flags().String("status", "", "only executions with this status: running, completed, failed")
	historyCmd.Flags().Int("limit", 20, "maximum number of executions")
	historyCmd.Flags().Duration("since", 0, "only executions started within this window, e.g. 24h")
	historyLogsCmd.Flags().String("level", "", "only entries with this level: info, success, warning, error")
	historyLogsCmd.Flags().String("node", "", "only entries for this node")
	historyLogsCmd.Flags().Int("limit", 100, "maximum number of entries")

	historyCmd.AddCommand(historyShowCmd, historyLogsCmd)
	rootCmd.AddCommand(historyCmd)
}
