package main

import (
	"errors"

	"github.com/spf13/cobra"

	"schedsync/internal/config"
	appLog "schedsync/internal/log"
	"schedsync/internal/pipeline"
)

func newExtractCmd() *cobra.Command {
	var (
		output string
		dir    string
	)

	cmd := &cobra.Command{
		Use:   "extract [week.html...]",
		Short: "Build the calendar from saved schedule pages, without the portal",
		Long: `extract replays schedule pages saved by "sync --snapshot-dir" (or saved
by hand from a browser) through the same extraction and calendar steps as a
live sync. Files are treated as consecutive weeks in the order given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (len(args) == 0) == (dir == "") {
				return errors.New("give either snapshot files or --dir, not both")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if output != "" {
				cfg.Calendar.Output = output
			}

			opener := pipeline.ReplayOpener(args)
			if dir != "" {
				opener = pipeline.ArchiveOpener(dir)
			}
			if n := len(args); n > cfg.MaxWeeks {
				cfg.MaxWeeks = min(n, config.MaxWeeksLimit)
				if n > config.MaxWeeksLimit {
					appLog.Warn("more pages than the week limit, the rest are ignored",
						"pages", n,
						"limit", config.MaxWeeksLimit,
					)
				}
			}

			report, err := pipeline.Run(cmd.Context(), cfg, pipeline.Options{
				Open:    opener,
				Offline: true,
			})
			if err != nil {
				return err
			}
			appLog.Info("extract finished",
				"entries", report.Entries,
				"weeks", len(report.Weeks),
				"skipped", len(report.Skips),
			)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Calendar file to write (overrides config)")
	cmd.Flags().StringVar(&dir, "dir", "", "Replay a snapshot archive directory")
	return cmd
}
