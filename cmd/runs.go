package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tjbishop07/autoteller/internal/observability"
)

const errorColumnWidth = 60

// newRunsCmd creates the `runs` command: the recent run history, newest
// first.
func newRunsCmd() *cobra.Command {
	var limit int

	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Show recent playback runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			st, err := openStore(ctx, getConfig(), observability.GetLogger())
			if err != nil {
				return err
			}
			defer st.Close()

			runs, err := st.ListRuns(ctx, limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("No runs recorded yet.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STARTED\tRECORDING\tSTATUS\tSTEPS\tERROR")
			for _, run := range runs {
				errText := run.Error
				if runes := []rune(errText); len(runes) > errorColumnWidth {
					errText = string(runes[:errorColumnWidth-1]) + "…"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\n",
					run.StartedAt.Local().Format("2006-01-02 15:04:05"),
					run.RecordingName, run.Status,
					run.StepsDone, run.StepsTotal, errText)
			}
			return w.Flush()
		},
	}
	runsCmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs to show")
	return runsCmd
}
