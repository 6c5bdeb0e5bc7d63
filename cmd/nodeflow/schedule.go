package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rendis/nodeflow/internal/scheduler"
	"github.com/rendis/nodeflow/internal/store"
)

var scheduleCmd = &cobra.Command{
	Use:     "schedule",
	Aliases: []string{"sched"},
	Short:   "Run stored workflows on cron schedules",
	Long: `Schedules are five-field cron expressions (minute hour day-of-month month
day-of-week) or descriptors such as @hourly and @every 10m, evaluated in UTC.
They fire while "nodeflow schedule run" or "nodeflow mcp --scheduler" is up.`,
}

var scheduleAddCmd = &cobra.Command{
	Use:   "add <workflow-id>",
	Short: "Schedule a stored workflow",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cronExpr, _ := cmd.Flags().GetString("cron")
		rawInput, _ := cmd.Flags().GetString("input")
		runNow, _ := cmd.Flags().GetBool("run-now")

		input, err := parseInput(rawInput)
		if err != nil {
			return err
		}
		next, err := scheduler.NextRun(cronExpr, time.Now())
		if err != nil {
			return err
		}

		return withApp(cmd, func(a *app) error {
			sched := &store.Schedule{
				ID:             uuid.NewString(),
				WorkflowID:     args[0],
				CronExpression: cronExpr,
				Input:          input,
				Enabled:        true,
			}
			if !runNow {
				sched.NextRunAt = &next
			}
			if err := a.store.CreateSchedule(cmd.Context(), sched); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scheduled %s as %s, next run %s\n",
				sched.WorkflowID, sched.ID, formatNextRun(sched.NextRunAt))
			return nil
		})
	},
}

var scheduleListCmd = &cobra.Command{
	Use:   "list [workflow-id]",
	Short: "List schedules, soonest first",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		filter := store.ScheduleFilter{Limit: limit}
		if len(args) == 1 {
			filter.WorkflowID = args[0]
		}

		return withApp(cmd, func(a *app) error {
			list, err := a.store.ListSchedules(cmd.Context(), filter)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tWORKFLOW\tCRON\tENABLED\tNEXT RUN\tLAST STATUS\tLAST EXECUTION")
			for _, s := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\t%s\t%s\n", s.ID, s.WorkflowID, s.CronExpression,
					s.Enabled, formatNextRun(s.NextRunAt), s.LastRunStatus, s.LastExecutionID)
			}
			return tw.Flush()
		})
	},
}

var scheduleRemoveCmd = &cobra.Command{
	Use:     "remove <schedule-id>",
	Aliases: []string{"rm"},
	Short:   "Delete a schedule",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			if err := a.store.DeleteSchedule(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed schedule %s\n", args[0])
			return nil
		})
	},
}

func scheduleToggleCmd(use string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <schedule-id>",
		Short: fmt.Sprintf("Mark a schedule as %sd", use),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				ctx := cmd.Context()
				update := store.ScheduleUpdate{Enabled: &enabled}
				if enabled {
					// Slots missed while disabled are not replayed.
					sched, err := a.store.GetSchedule(ctx, args[0])
					if err != nil {
						return err
					}
					next, err := scheduler.NextRun(sched.CronExpression, time.Now())
					if err != nil {
						return err
					}
					update.NextRunAt = &next
				}
				if err := a.store.UpdateSchedule(ctx, args[0], update); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%sd schedule %s\n", use, args[0])
				return nil
			})
		},
	}
}

var scheduleRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run due schedules in the foreground until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, _ := cmd.Flags().GetDuration("interval")
		once, _ := cmd.Flags().GetBool("once")

		return withApp(cmd, func(a *app) error {
			ctx := cmd.Context()
			s := scheduler.New(a.store, a.runner, a.logger, scheduler.WithInterval(interval))
			if once {
				n, err := s.RunDue(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "ran %d due schedules\n", n)
				return nil
			}
			if err := s.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			return s.Stop()
		})
	},
}

func formatNextRun(t *time.Time) string {
	if t == nil {
		return "on next poll"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func init() {
	scheduleAddCmd.Flags().String("cron", "", "cron expression, e.g. \"0 3 * * *\" or @hourly")
	scheduleAddCmd.Flags().StringP("input", "i", "", "input payload as a JSON/YAML object, or @file")
	scheduleAddCmd.Flags().Bool("run-now", false, "fire on the next poll instead of the next cron slot")
	_ = scheduleAddCmd.MarkFlagRequired("cron")
	scheduleListCmd.Flags().Int("limit", 50, "maximum number of schedules")
	scheduleRunCmd.Flags().Duration("interval", scheduler.DefaultInterval, "polling interval")
	scheduleRunCmd.Flags().Bool("once", false, "run what is due now and exit")

	scheduleCmd.AddCommand(
		scheduleAddCmd,
		scheduleListCmd,
		scheduleRemoveCmd,
		scheduleToggleCmd("enable", true),
		scheduleToggleCmd("disable", false),
		scheduleRunCmd,
	)
	rootCmd.AddCommand(scheduleCmd)
}
