package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedsync/internal/config"
	"schedsync/internal/ics"
	"schedsync/internal/model"
	"schedsync/internal/paginate"
	"schedsync/internal/snapshot"
)

var fixedNow = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

// weekPage renders a schedule view whose Monday column holds the given
// classes, each at 10:00-11:30 in room 204.
func weekPage(monday time.Time, titles ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><div id="plan">`)
	fmt.Fprintf(&b, `<div style="position:absolute; left: 20px; top: -40px">Pon %s</div>`, monday.Format("02-01-2006"))
	for _, title := range titles {
		fmt.Fprintf(&b,
			`<div style="position:absolute; left: 22px; top: 100px" onmouseover="showtip('%s&lt;br&gt;dr Lis&lt;br&gt;10:00-11:30&lt;br&gt;Sala: 204')">%s</div>`,
			title, title)
	}
	b.WriteString(`</div></body></html>`)
	return b.String()
}

// fakeSource serves pages in order and fails to advance past the last one.
type fakeSource struct {
	pages  []string
	i      int
	closed bool
}

func (f *fakeSource) CurrentSnapshot(ctx context.Context) (string, error) {
	return f.pages[f.i], ctx.Err()
}

func (f *fakeSource) AdvanceWeek(context.Context) error {
	if f.i+1 >= len(f.pages) {
		return errors.New("no next-week control")
	}
	f.i++
	return nil
}

func (f *fakeSource) Close() { f.closed = true }

func openerFor(src *fakeSource, opened *int) Opener {
	return func(context.Context, *config.Config, config.Credentials) (Source, error) {
		*opened++
		return src, nil
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	dir := t.TempDir()
	cfg.Calendar.Output = filepath.Join(dir, "plan_zajec.ics")
	cfg.Calendar.ReportPath = filepath.Join(dir, "report.json")
	return cfg
}

func envWith(vals map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vals[k]
		return v, ok
	}
}

var goodEnv = envWith(map[string]string{
	"AZURE_EMAIL":    "student@example.edu",
	"AZURE_PASSWORD": "secret",
})

func readCalendar(t *testing.T, cfg *config.Config) ics.Parsed {
	t.Helper()
	parsed, err := ics.ParseFile(cfg.Calendar.Output)
	require.NoError(t, err)
	return parsed
}

func TestRunMissingCredentialsWritesStub(t *testing.T) {
	cfg := testConfig(t)
	opened := 0
	src := &fakeSource{pages: []string{weekPage(time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), "Algebra")}}

	report, err := Run(context.Background(), cfg, Options{
		Open:   openerFor(src, &opened),
		Lookup: envWith(map[string]string{"AZURE_EMAIL": "student@example.edu"}),
		Now:    func() time.Time { return fixedNow },
	})
	require.NoError(t, err)

	assert.True(t, report.Misconfigured)
	assert.Zero(t, opened, "no page work without credentials")

	parsed := readCalendar(t, cfg)
	assert.Equal(t, "BŁĄD - brak konfiguracji", parsed.Name)
	assert.Empty(t, parsed.Entries)
}

func TestRunCollectsAllWeeksUntilAdvanceFails(t *testing.T) {
	cfg := testConfig(t)
	monday := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	src := &fakeSource{}
	for w := 0; w < 4; w++ {
		src.pages = append(src.pages, weekPage(monday.AddDate(0, 0, 7*w), fmt.Sprintf("Zajęcia %d", w+1)))
	}
	opened := 0

	report, err := Run(context.Background(), cfg, Options{
		Open:   openerFor(src, &opened),
		Lookup: goodEnv,
		Now:    func() time.Time { return fixedNow },
	})
	require.NoError(t, err)

	assert.Equal(t, 1, opened)
	assert.True(t, src.closed)
	assert.Equal(t, 4, report.Records)
	assert.Equal(t, 4, report.Entries)
	assert.False(t, report.Placeholder)
	assert.Equal(t, paginate.StopAdvanceFailed, report.Stopped)
	assert.Contains(t, report.StopError, "no next-week control")
	assert.Len(t, report.Weeks, 4)
	assert.Equal(t, 1, report.SkipCounts[model.ReasonAdvanceFailed])

	parsed := readCalendar(t, cfg)
	require.Len(t, parsed.Entries, 4)
	loc, err := time.LoadLocation("Europe/Warsaw")
	require.NoError(t, err)
	for i, e := range parsed.Entries {
		want := time.Date(2024, 3, 4+7*i, 10, 0, 0, 0, loc)
		assert.True(t, want.Equal(e.Start), "entry %d starts %s", i, e.Start)
		assert.Contains(t, e.Summary, fmt.Sprintf("Zajęcia %d", i+1))
	}
}

func TestRunEmptyScheduleWritesPlaceholder(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxWeeks = 2
	monday := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	src := &fakeSource{pages: []string{weekPage(monday), weekPage(monday.AddDate(0, 0, 7))}}
	opened := 0

	report, err := Run(context.Background(), cfg, Options{
		Open:   openerFor(src, &opened),
		Lookup: goodEnv,
		Now:    func() time.Time { return fixedNow },
	})
	require.NoError(t, err)

	assert.Equal(t, paginate.StopCompleted, report.Stopped)
	assert.Zero(t, report.Records)
	assert.True(t, report.Placeholder)
	assert.Equal(t, 1, report.Entries)

	parsed := readCalendar(t, cfg)
	require.Len(t, parsed.Entries, 1)
	assert.True(t, strings.HasPrefix(parsed.Entries[0].UID, "info-"))
	assert.Equal(t, time.Hour, parsed.Entries[0].End.Sub(parsed.Entries[0].Start))
}

func TestRunUnknownTimezoneStillWritesCalendar(t *testing.T) {
	cfg := testConfig(t)
	cfg.Calendar.Timezone = "Europe/Warsw"
	src := &fakeSource{pages: []string{weekPage(time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), "Algebra")}}
	opened := 0

	report, err := Run(context.Background(), cfg, Options{
		Open:   openerFor(src, &opened),
		Lookup: goodEnv,
		Now:    func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Entries)
	assert.Equal(t, "Europe/Warsaw", cfg.Calendar.Timezone)

	parsed := readCalendar(t, cfg)
	assert.Equal(t, "Europe/Warsaw", parsed.Timezone)
	require.Len(t, parsed.Entries, 1)
	loc, err := time.LoadLocation("Europe/Warsaw")
	require.NoError(t, err)
	assert.True(t, time.Date(2024, 3, 4, 10, 0, 0, 0, loc).Equal(parsed.Entries[0].Start))
}

func TestRunCapsLiveWeeks(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxWeeks = 30
	monday := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	src := &fakeSource{}
	for w := 0; w < 20; w++ {
		src.pages = append(src.pages, weekPage(monday.AddDate(0, 0, 7*w), fmt.Sprintf("Zajęcia %d", w+1)))
	}
	opened := 0

	report, err := Run(context.Background(), cfg, Options{
		Open:   openerFor(src, &opened),
		Lookup: goodEnv,
		Now:    func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	assert.Equal(t, paginate.StopCompleted, report.Stopped)
	assert.Len(t, report.Weeks, config.MaxWeeksLimit)
	assert.Equal(t, config.MaxWeeksLimit, report.Entries)
}

func TestRunOpenFailureStillWritesCalendar(t *testing.T) {
	cfg := testConfig(t)

	report, err := Run(context.Background(), cfg, Options{
		Open: func(context.Context, *config.Config, config.Credentials) (Source, error) {
			return nil, errors.New("login page did not load")
		},
		Lookup: goodEnv,
		Now:    func() time.Time { return fixedNow },
	})
	require.NoError(t, err)

	assert.Equal(t, paginate.StopSnapshotFailed, report.Stopped)
	assert.True(t, report.Placeholder)
	require.Len(t, report.Skips, 1)
	assert.Equal(t, model.ReasonSnapshotFailed, report.Skips[0].Reason)

	_, err = os.Stat(cfg.Calendar.Output)
	assert.NoError(t, err)
}

func TestRunWritesReport(t *testing.T) {
	cfg := testConfig(t)
	src := &fakeSource{pages: []string{weekPage(time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), "Algebra")}}
	opened := 0

	_, err := Run(context.Background(), cfg, Options{
		Open:   openerFor(src, &opened),
		Lookup: goodEnv,
		Now:    func() time.Time { return fixedNow },
	})
	require.NoError(t, err)

	data, err := os.ReadFile(cfg.Calendar.ReportPath)
	require.NoError(t, err)
	var got Report
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, 1, got.Entries)
	assert.Equal(t, cfg.Calendar.Output, got.Output)
	assert.True(t, fixedNow.Equal(got.GeneratedAt))
}

func TestRunRecordsSnapshots(t *testing.T) {
	cfg := testConfig(t)
	cfg.Portal.SnapshotDir = filepath.Join(t.TempDir(), "snapshots")
	monday := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	src := &fakeSource{pages: []string{weekPage(monday, "A"), weekPage(monday.AddDate(0, 0, 7), "B")}}
	opened := 0

	_, err := Run(context.Background(), cfg, Options{
		Open:   openerFor(src, &opened),
		Lookup: goodEnv,
		Now:    func() time.Time { return fixedNow },
	})
	require.NoError(t, err)

	meta, err := snapshot.NewArchive(cfg.Portal.SnapshotDir).Meta()
	require.NoError(t, err)
	assert.Len(t, meta.Weeks, 2)

	// The archive replays offline to the same calendar.
	replayCfg := testConfig(t)
	report, err := Run(context.Background(), replayCfg, Options{
		Open:    ArchiveOpener(cfg.Portal.SnapshotDir),
		Offline: true,
		Now:     func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Entries)

	live, err := os.ReadFile(cfg.Calendar.Output)
	require.NoError(t, err)
	replayed, err := os.ReadFile(replayCfg.Calendar.Output)
	require.NoError(t, err)
	assert.Equal(t, string(live), string(replayed))
}

func TestRunOfflineReplayIgnoresCredentials(t *testing.T) {
	cfg := testConfig(t)
	path := filepath.Join(t.TempDir(), "week.html")
	require.NoError(t, os.WriteFile(path, []byte(weekPage(time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), "Algebra", "Montaż")), 0o600))

	report, err := Run(context.Background(), cfg, Options{
		Open:    ReplayOpener([]string{path}),
		Offline: true,
		Lookup:  envWith(nil),
		Now:     func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	assert.False(t, report.Misconfigured)
	assert.Equal(t, 2, report.Entries)
}

func TestRunNilConfig(t *testing.T) {
	_, err := Run(context.Background(), nil, Options{})
	assert.Error(t, err)
}

func TestExtractOptions(t *testing.T) {
	cfg := config.DefaultConfig()
	opts := ExtractOptions(cfg)
	assert.Equal(t, 65, opts.MaxDrift)
	assert.Equal(t, "Sala:", opts.RoomPrefix)
	assert.Equal(t, model.DefaultLayout, opts.Layout)

	cfg.Extract.MaxDrift = -1
	assert.Zero(t, ExtractOptions(cfg).MaxDrift)
}
