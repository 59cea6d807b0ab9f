package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/tjbishop07/autoteller/api/schemas"
	"github.com/tjbishop07/autoteller/internal/observability"
)

// newRecordingsCmd creates the `recordings` command group. Recordings are
// captured elsewhere; this surface lists, imports and removes them.
func newRecordingsCmd() *cobra.Command {
	recordingsCmd := &cobra.Command{
		Use:   "recordings",
		Short: "List the stored recordings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			st, err := openStore(ctx, getConfig(), observability.GetLogger())
			if err != nil {
				return err
			}
			defer st.Close()

			recs, err := st.ListRecordings(ctx)
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				fmt.Println("No recordings stored.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSTEPS\tSTART URL\tUPDATED")
			for _, rec := range recs {
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n",
					rec.Name, len(rec.Steps), rec.StartURL,
					rec.UpdatedAt.Local().Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}
	recordingsCmd.AddCommand(newRecordingsImportCmd(), newRecordingsDeleteCmd())
	return recordingsCmd
}

func newRecordingsImportCmd() *cobra.Command {
	var name string

	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a recording from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read recording file: %w", err)
			}

			var rec schemas.Recording
			if err := json.Unmarshal(data, &rec); err != nil {
				return fmt.Errorf("failed to parse recording file: %w", err)
			}
			if name != "" {
				rec.Name = name
			}

			st, err := openStore(ctx, getConfig(), observability.GetLogger())
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.SaveRecording(ctx, &rec); err != nil {
				return err
			}

			fmt.Printf("Imported recording %q (%d steps).\n", rec.Name, len(rec.Steps))
			return nil
		},
	}
	importCmd.Flags().StringVar(&name, "name", "", "store the recording under this name instead of the one in the file")
	return importCmd
}

func newRecordingsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <recording>",
		Short: "Delete a stored recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			st, err := openStore(ctx, getConfig(), observability.GetLogger())
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.DeleteRecording(ctx, args[0]); err != nil {
				return err
			}

			fmt.Printf("Deleted recording %q.\n", args[0])
			return nil
		},
	}
}
