package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"schedsync/internal/config"
	appLog "schedsync/internal/log"
	"schedsync/internal/pipeline"
	"schedsync/internal/web"
)

func newServeCmd() *cobra.Command {
	var (
		listen  string
		noFirst bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Publish the calendar over HTTP and re-sync on a cron schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Listen = listen
			}
			return serve(cmd.Context(), cfg, !noFirst)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides config)")
	cmd.Flags().BoolVar(&noFirst, "no-initial-sync", false, "Wait for the first cron tick instead of syncing at startup")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, initialSync bool) error {
	appLog.Info("schedsync serving", "version", version, "refresh", cfg.RefreshCron)

	srv := web.NewServer(cfg, func(ctx context.Context) (pipeline.Report, error) {
		return pipeline.Run(ctx, cfg, pipeline.Options{})
	})

	loc, err := time.LoadLocation(cfg.Calendar.Timezone)
	if err != nil {
		return fmt.Errorf("serve: timezone %q: %w", cfg.Calendar.Timezone, err)
	}
	c := cron.New(cron.WithLocation(loc))
	if _, err := c.AddFunc(cfg.RefreshCron, func() {
		if _, err := srv.Sync(ctx); errors.Is(err, web.ErrSyncRunning) {
			appLog.Warn("scheduled sync skipped, previous still running")
		}
	}); err != nil {
		return fmt.Errorf("serve: refresh schedule %q: %w", cfg.RefreshCron, err)
	}
	c.Start()
	defer func() {
		<-c.Stop().Done()
	}()

	if initialSync {
		go func() {
			_, _ = srv.Sync(ctx)
		}()
	}

	return srv.Serve(ctx)
}
