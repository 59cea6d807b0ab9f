package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tjbishop07/autoteller/api/schemas"
	"github.com/tjbishop07/autoteller/internal/observability"
)

// newRunCmd creates the `run` command: an immediate batch run of every
// stored recording, through the same guard the scheduler uses.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Play every stored recording now, in name order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			c, err := initializeComponents(ctx, getConfig(), observability.GetLogger())
			if err != nil {
				return err
			}
			defer c.Shutdown()

			batchStart := time.Now()
			if err := c.Sched.RunAll(ctx); err != nil {
				return fmt.Errorf("batch run failed: %w", err)
			}

			// Summarize the batch from the run history it just wrote.
			succeeded, failed := 0, 0
			if runs, err := c.Store.ListRuns(ctx, 0); err == nil {
				for _, run := range runs {
					if run.StartedAt.Before(batchStart) {
						continue
					}
					switch run.Status {
					case schemas.RunSucceeded:
						succeeded++
					case schemas.RunFailed:
						failed++
					}
				}
			}
			fmt.Printf("Batch run finished: %d succeeded, %d failed.\n", succeeded, failed)
			return nil
		},
	}
}
