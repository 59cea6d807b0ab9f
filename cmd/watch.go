package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tjbishop07/autoteller/internal/observability"
)

// newWatchCmd creates the `watch` command: the long-running process that
// actually fires the cron trigger. `schedule start` only persists the
// schedule; this command hosts it.
func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Run the scheduler in the foreground until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			c, err := initializeComponents(ctx, getConfig(), observability.GetLogger())
			if err != nil {
				return err
			}
			defer c.Shutdown()

			if err := c.Sched.InitFromSettings(ctx); err != nil {
				return err
			}

			status := c.Sched.Status()
			if !status.Enabled {
				fmt.Println("No schedule armed. Enable one with 'autoteller schedule start <expr>'.")
				return nil
			}

			fmt.Printf("Scheduler armed (%s). Press Ctrl+C to stop.\n", status.Expression)
			<-ctx.Done()
			fmt.Println("\nShutting down.")
			return nil
		},
	}
}
