package main

import (
	"github.com/spf13/cobra"

	appLog "schedsync/internal/log"
	"schedsync/internal/pipeline"
)

func newSyncCmd() *cobra.Command {
	var (
		output      string
		maxWeeks    int
		showBrowser bool
		snapshotDir string
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sign into the portal and write the calendar once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if output != "" {
				cfg.Calendar.Output = output
			}
			if maxWeeks > 0 {
				cfg.MaxWeeks = maxWeeks
			}
			if showBrowser {
				cfg.Portal.ShowBrowser = true
			}
			if snapshotDir != "" {
				cfg.Portal.SnapshotDir = snapshotDir
			}

			appLog.Info("schedsync starting", "version", version)
			report, err := pipeline.Run(cmd.Context(), cfg, pipeline.Options{})
			if err != nil {
				return err
			}
			appLog.Info("sync finished",
				"entries", report.Entries,
				"placeholder", report.Placeholder,
				"misconfigured", report.Misconfigured,
				"stopped", string(report.Stopped),
			)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Calendar file to write (overrides config)")
	cmd.Flags().IntVar(&maxWeeks, "max-weeks", 0, "Number of weeks to collect (overrides config)")
	cmd.Flags().BoolVar(&showBrowser, "show-browser", false, "Run the browser with a visible window")
	cmd.Flags().StringVar(&snapshotDir, "snapshot-dir", "", "Archive each week's HTML here for offline replay")
	return cmd
}
