package pipeline

import (
	"context"
	"time"

	"schedsync/internal/config"
	"schedsync/internal/paginate"
	"schedsync/internal/portal"
	"schedsync/internal/snapshot"
)

// PortalOpener signs into the live portal with chromedp.
func PortalOpener(ctx context.Context, cfg *config.Config, creds config.Credentials) (Source, error) {
	return portal.Open(ctx, portal.Options{
		URL:         cfg.Portal.URL,
		Email:       creds.Email,
		Password:    creds.Password,
		ShowBrowser: cfg.Portal.ShowBrowser,
		Timeout:     time.Duration(cfg.Portal.TimeoutSec) * time.Second,
		DebugDir:    cfg.Portal.DebugDir,
	})
}

// ReplayOpener serves previously saved snapshot files, one per week.
func ReplayOpener(paths []string) Opener {
	return func(context.Context, *config.Config, config.Credentials) (Source, error) {
		return NopCloser(snapshot.NewReplay(paths)), nil
	}
}

// ArchiveOpener replays every week recorded under dir.
func ArchiveOpener(dir string) Opener {
	return func(context.Context, *config.Config, config.Credentials) (Source, error) {
		r, err := snapshot.OpenReplay(dir)
		if err != nil {
			return nil, err
		}
		return NopCloser(r), nil
	}
}

// NopCloser adapts a provider without resources into a Source.
func NopCloser(p paginate.SnapshotProvider) Source {
	return nopCloser{p}
}

type nopCloser struct {
	paginate.SnapshotProvider
}

func (nopCloser) Close() {}
