package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tjbishop07/autoteller/internal/observability"
	"github.com/tjbishop07/autoteller/internal/scheduler"
)

// newScheduleCmd creates the `schedule` command group. The enabled flag and
// expression live in the settings store so the watch process picks them up on
// its next start.
func newScheduleCmd() *cobra.Command {
	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage the recurring batch schedule",
	}
	scheduleCmd.AddCommand(newScheduleStartCmd(), newScheduleStopCmd(), newScheduleStatusCmd())
	return scheduleCmd
}

func newScheduleStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start [expr]",
		Short: "Enable the schedule, optionally with a new 5-field cron expression",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			// Reject a bad expression before touching the store.
			if len(args) == 1 {
				if err := scheduler.ValidateExpression(args[0]); err != nil {
					return err
				}
			}

			st, err := openStore(ctx, getConfig(), observability.GetLogger())
			if err != nil {
				return err
			}
			defer st.Close()

			settings, err := st.GetSettings(ctx)
			if err != nil {
				return err
			}

			expr := settings.ScheduleCron
			if len(args) == 1 {
				expr = args[0]
			} else if err := scheduler.ValidateExpression(expr); err != nil {
				return err
			}

			settings.ScheduleEnabled = true
			settings.ScheduleCron = expr
			if err := st.UpdateSettings(ctx, settings); err != nil {
				return err
			}

			fmt.Printf("Schedule enabled (%s). Host it with 'autoteller watch'.\n", expr)
			return nil
		},
	}
}

func newScheduleStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Disable the schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			st, err := openStore(ctx, getConfig(), observability.GetLogger())
			if err != nil {
				return err
			}
			defer st.Close()

			settings, err := st.GetSettings(ctx)
			if err != nil {
				return err
			}
			if !settings.ScheduleEnabled {
				fmt.Println("Schedule is already disabled.")
				return nil
			}

			settings.ScheduleEnabled = false
			if err := st.UpdateSettings(ctx, settings); err != nil {
				return err
			}

			fmt.Println("Schedule disabled.")
			return nil
		},
	}
}

func newScheduleStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the schedule state and the most recent run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			st, err := openStore(ctx, getConfig(), observability.GetLogger())
			if err != nil {
				return err
			}
			defer st.Close()

			settings, err := st.GetSettings(ctx)
			if err != nil {
				return err
			}

			if settings.ScheduleEnabled {
				fmt.Printf("Schedule:   enabled (%s)\n", settings.ScheduleCron)
			} else {
				fmt.Println("Schedule:   disabled")
			}

			runs, err := st.ListRuns(ctx, 1)
			if err != nil || len(runs) == 0 {
				fmt.Println("Last run:   never")
				return nil
			}

			last := runs[0]
			when := last.StartedAt.Local().Format("2006-01-02 15:04:05")
			fmt.Printf("Last run:   %s  %s (%s)\n", when, last.RecordingName, last.Status)
			if last.Error != "" {
				fmt.Printf("Last error: %s\n", last.Error)
			}
			return nil
		},
	}
}
