package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"schedsync/internal/config"
	appLog "schedsync/internal/log"
)

const version = "0.1.0"

var (
	flagConfig string
	flagDebug  bool
)

func main() {
	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		appLog.Error("schedsync failed", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedsync",
		Short: "Export the film school class schedule to an iCalendar file",
		Long: `schedsync signs into the student portal, walks the weekly schedule view
and writes the classes it finds as an .ics calendar.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&flagConfig, "config", "schedsync.yaml", "Path to config file (created with defaults if missing)")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Debug logging and browser debug artifacts")

	cmd.AddCommand(newSyncCmd(), newExtractCmd(), newServeCmd())
	return cmd
}

// loadConfig reads the config file and applies the persistent flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}

	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))
	if flagDebug {
		appLog.SetLevel(appLog.LevelDebug)
		if cfg.Portal.DebugDir == "" {
			cfg.Portal.DebugDir = "./debug"
		}
	}

	appLog.Info("effective config",
		"config_path", flagConfig,
		"portal", cfg.Portal.URL,
		"max_weeks", cfg.MaxWeeks,
		"output", cfg.Calendar.Output,
		"timezone", cfg.Calendar.Timezone,
		"snapshot_dir", cfg.Portal.SnapshotDir,
		"debug_dir", cfg.Portal.DebugDir,
	)
	return cfg, nil
}
