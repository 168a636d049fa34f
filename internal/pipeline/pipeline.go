// Package pipeline runs one synchronisation: credentials check, week
// collection, calendar emission and the atomic write of the output file.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"schedsync/internal/config"
	"schedsync/internal/extract"
	"schedsync/internal/fsutil"
	"schedsync/internal/ics"
	appLog "schedsync/internal/log"
	"schedsync/internal/model"
	"schedsync/internal/paginate"
	"schedsync/internal/portal"
	"schedsync/internal/snapshot"
)

// Source is a provider that holds resources until closed.
type Source interface {
	paginate.SnapshotProvider
	Close()
}

// Opener produces the Source for one run, already showing the first week.
type Opener func(ctx context.Context, cfg *config.Config, creds config.Credentials) (Source, error)

// Options tune Run. The zero value opens the live portal.
type Options struct {
	// Open produces the page source. Nil selects PortalOpener.
	Open Opener

	// Lookup reads the credential env vars. Nil selects os.LookupEnv.
	Lookup func(string) (string, bool)

	// Offline skips the credentials check, for replayed snapshots.
	Offline bool

	// Now is the clock for DTSTAMP, placeholders and the report.
	Now func() time.Time
}

// Report summarises a run. It is written next to the calendar when
// calendar.report_path is set and served by the web API.
type Report struct {
	GeneratedAt   time.Time                `json:"generated_at"`
	Output        string                   `json:"output"`
	Misconfigured bool                     `json:"misconfigured"`
	Records       int                      `json:"records"`
	Entries       int                      `json:"entries"`
	Placeholder   bool                     `json:"placeholder"`
	Stopped       paginate.StopReason      `json:"stopped,omitempty"`
	StopError     string                   `json:"stop_error,omitempty"`
	Weeks         []paginate.WeekReport    `json:"weeks,omitempty"`
	Skips         []model.Skip             `json:"skips,omitempty"`
	SkipCounts    map[model.SkipReason]int `json:"skip_counts,omitempty"`
}

// Run performs one synchronisation. The calendar file is always written:
// the misconfiguration stub when credentials are missing, a placeholder when
// nothing was found, otherwise one entry per record. An unknown timezone
// falls back to the default and max_weeks is capped at
// config.MaxWeeksLimit. The returned error is reserved for failures to write
// the output.
func Run(ctx context.Context, cfg *config.Config, opts Options) (Report, error) {
	if cfg == nil {
		return Report{}, errors.New("pipeline: config is nil")
	}
	// Overrides applied after Load are checked here, before any page work.
	cfg.Normalize()
	if opts.Open == nil {
		opts.Open = PortalOpener
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	emitter := ics.NewEmitter(ics.EmitterOptions{
		Name:      cfg.Calendar.Name,
		Timezone:  cfg.Calendar.Timezone,
		ProdID:    cfg.Calendar.ProdID,
		UIDDomain: cfg.Calendar.UIDDomain,
		Now:       opts.Now,
	})
	report := Report{
		GeneratedAt: opts.Now().UTC(),
		Output:      cfg.Calendar.Output,
	}

	var creds config.Credentials
	if !opts.Offline {
		var err error
		creds, err = cfg.Credentials(opts.Lookup)
		appLog.Info("portal account",
			"email", creds.Email,
			"password", portal.MaskSecret(creds.Password),
		)
		if err != nil {
			appLog.Error("credentials missing, writing stub calendar", err,
				"email_env", cfg.Portal.EmailEnv,
				"password_env", cfg.Portal.PasswordEnv,
			)
			report.Misconfigured = true
			return report, write(cfg, emitter.Misconfigured(), report)
		}
	}

	result := collect(ctx, cfg, opts, creds)
	report.Records = len(result.Records)
	report.Stopped = result.Stopped
	report.Weeks = result.Weeks
	report.Skips = append(report.Skips, result.Skips...)
	if result.Err != nil {
		report.StopError = result.Err.Error()
	}

	doc, err := emitter.Build(result.Records)
	if err != nil {
		return report, fmt.Errorf("pipeline: build calendar: %w", err)
	}
	report.Entries = doc.Entries
	report.Placeholder = doc.Placeholder
	report.Skips = append(report.Skips, doc.Skips...)
	report.SkipCounts = model.CountByReason(report.Skips)

	if err := write(cfg, doc, report); err != nil {
		return report, err
	}
	appLog.Info("calendar written",
		"path", cfg.Calendar.Output,
		"entries", doc.Entries,
		"weeks", len(result.Weeks),
		"stopped", string(result.Stopped),
		"skipped", len(report.Skips),
	)
	return report, nil
}

// collect opens the source and walks the weeks. Failing to open counts as a
// snapshot failure on week 1.
func collect(ctx context.Context, cfg *config.Config, opts Options, creds config.Credentials) paginate.Result {
	src, err := opts.Open(ctx, cfg, creds)
	if err != nil {
		appLog.Error("could not reach the schedule", err)
		return paginate.Result{
			Stopped: paginate.StopSnapshotFailed,
			Err:     err,
			Skips: []model.Skip{{
				Week:   1,
				Reason: model.ReasonSnapshotFailed,
				Detail: err.Error(),
			}},
		}
	}
	defer src.Close()

	var provider paginate.SnapshotProvider = src
	if cfg.Portal.SnapshotDir != "" && !opts.Offline {
		provider = snapshot.NewRecorder(src, snapshot.NewArchive(cfg.Portal.SnapshotDir))
	}

	ex := extract.New(ExtractOptions(cfg))
	return paginate.New(provider, ex, cfg.MaxWeeks).Run(ctx)
}

// ExtractOptions maps the extract section of the config onto extractor
// options. A negative max_drift turns the cap off.
func ExtractOptions(cfg *config.Config) extract.Options {
	return extract.Options{
		Layout:       cfg.Extract.Layout,
		HeaderTopMin: cfg.Extract.HeaderTopMin,
		HeaderTopMax: cfg.Extract.HeaderTopMax,
		MaxDrift:     max(cfg.Extract.MaxDrift, 0),
		RoomPrefix:   cfg.Extract.RoomPrefix,
	}
}

func write(cfg *config.Config, doc ics.Document, report Report) error {
	if err := ics.WriteFile(cfg.Calendar.Output, doc); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if cfg.Calendar.ReportPath == "" {
		return nil
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("pipeline: encode report: %w", err)
	}
	if err := fsutil.WriteFileAtomic(cfg.Calendar.ReportPath, data, 0o644); err != nil {
		// Report failures are logged only.
		appLog.Error("report write failed", err, "path", cfg.Calendar.ReportPath)
	}
	return nil
}
