package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/hpcloud/tail"
	"github.com/spf13/cobra"
)

// newLogsCmd creates the `logs` command: the tail of the rotating log file,
// optionally following new lines as the watch process writes them.
func newLogsCmd() *cobra.Command {
	var (
		lines  int
		follow bool
	)

	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the application log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logFile := getConfig().Logger.LogFile
			if logFile == "" {
				return fmt.Errorf("logger.log_file is not configured")
			}

			if err := printLastLines(cmd.OutOrStdout(), logFile, lines); err != nil {
				return err
			}
			if !follow {
				return nil
			}

			t, err := tail.TailFile(logFile, tail.Config{
				Follow:    true,
				ReOpen:    true,
				MustExist: true,
				Location:  &tail.SeekInfo{Offset: 0, Whence: 2},
				Logger:    tail.DiscardingLogger,
			})
			if err != nil {
				return fmt.Errorf("failed to tail log file: %w", err)
			}
			defer func() {
				_ = t.Stop()
				t.Cleanup()
			}()

			ctx := cmd.Context()
			for {
				select {
				case <-ctx.Done():
					return nil
				case line, ok := <-t.Lines:
					if !ok {
						return nil
					}
					if line.Err != nil {
						return fmt.Errorf("log tail failed: %w", line.Err)
					}
					fmt.Fprintln(cmd.OutOrStdout(), line.Text)
				}
			}
		},
	}
	logsCmd.Flags().IntVarP(&lines, "lines", "n", 50, "number of trailing lines to print")
	logsCmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing new lines as they are written")
	return logsCmd
}

// printLastLines prints up to n trailing lines of the file. A missing file is
// not an error; there is simply nothing to show yet.
func printLastLines(w io.Writer, path string, n int) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintln(w, "Log file does not exist yet.")
			return nil
		}
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer f.Close()

	if n <= 0 {
		return nil
	}

	ring := make([]string, 0, n)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(ring) == n {
			ring = append(ring[1:], scanner.Text())
			continue
		}
		ring = append(ring, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read log file: %w", err)
	}

	for _, line := range ring {
		fmt.Fprintln(w, line)
	}
	return nil
}
