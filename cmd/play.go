package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tjbishop07/autoteller/internal/observability"
)

// newPlayCmd creates the `play` command.
func newPlayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "play <recording>",
		Short: "Replay one stored recording against its site",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			name := args[0]

			c, err := initializeComponents(ctx, getConfig(), observability.GetLogger())
			if err != nil {
				return err
			}
			defer c.Shutdown()

			if err := c.Sched.PlayRecording(ctx, name); err != nil {
				return fmt.Errorf("playback of %q failed: %w", name, err)
			}

			fmt.Printf("Recording %q completed successfully.\n", name)
			return nil
		},
	}
}
