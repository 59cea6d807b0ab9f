package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tjbishop07/autoteller/api/schemas"
	"github.com/tjbishop07/autoteller/internal/observability"
)

// newSettingsCmd creates the `settings` command group for the stored playback
// knobs.
func newSettingsCmd() *cobra.Command {
	settingsCmd := &cobra.Command{
		Use:   "settings",
		Short: "Show the stored playback settings",
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

			fmt.Printf("retry_attempts:   %d\n", settings.RetryAttempts)
			fmt.Printf("retry_delay_ms:   %d\n", settings.RetryDelayMs)
			fmt.Printf("min_confidence:   %d\n", settings.MinConfidence)
			fmt.Printf("schedule_enabled: %t\n", settings.ScheduleEnabled)
			fmt.Printf("schedule_cron:    %s\n", settings.ScheduleCron)
			return nil
		},
	}
	settingsCmd.AddCommand(newSettingsSetCmd())
	return settingsCmd
}

func newSettingsSetCmd() *cobra.Command {
	var (
		retryAttempts int
		retryDelayMs  int
		minConfidence int
	)

	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Update stored playback settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			// Validate flag values before touching the store.
			var mutations []func(s *schemas.Settings)
			if cmd.Flags().Changed("retry-attempts") {
				if retryAttempts < 1 {
					return fmt.Errorf("retry-attempts must be at least 1")
				}
				mutations = append(mutations, func(s *schemas.Settings) { s.RetryAttempts = retryAttempts })
			}
			if cmd.Flags().Changed("retry-delay-ms") {
				if retryDelayMs < 0 {
					return fmt.Errorf("retry-delay-ms must not be negative")
				}
				mutations = append(mutations, func(s *schemas.Settings) { s.RetryDelayMs = retryDelayMs })
			}
			if cmd.Flags().Changed("min-confidence") {
				if minConfidence < 0 || minConfidence > 100 {
					return fmt.Errorf("min-confidence must be between 0 and 100")
				}
				mutations = append(mutations, func(s *schemas.Settings) { s.MinConfidence = minConfidence })
			}
			if len(mutations) == 0 {
				return fmt.Errorf("nothing to update; pass at least one flag")
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
			for _, mutate := range mutations {
				mutate(&settings)
			}

			if err := st.UpdateSettings(ctx, settings); err != nil {
				return err
			}

			fmt.Println("Settings updated.")
			return nil
		},
	}
	setCmd.Flags().IntVar(&retryAttempts, "retry-attempts", 0, "attempts per step before a recording fails")
	setCmd.Flags().IntVar(&retryDelayMs, "retry-delay-ms", 0, "base backoff delay between attempts")
	setCmd.Flags().IntVar(&minConfidence, "min-confidence", 0, "confidence floor for element matches (0-100)")
	return setCmd
}
