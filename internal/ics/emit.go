package ics

import (
	"fmt"
	"hash/fnv"
	"strings"
	"time"
	_ "time/tzdata" // Europe/Warsaw must resolve on minimal images too.

	ical "github.com/arran4/golang-ical"

	"schedsync/internal/fsutil"
	appLog "schedsync/internal/log"
	"schedsync/internal/model"
)

const (
	placeholderSummary = "⚠️ Brak zajęć w tym okresie"
	misconfiguredName  = "BŁĄD - brak konfiguracji"
	lecturerLabel      = "Prowadzący: "
	lecturerMissing    = "N/A"

	uidStampLayout = "200601021504"
	uidHashModulo  = 100000
)

// EmitterOptions carry the calendar-level metadata.
type EmitterOptions struct {
	Name      string
	Timezone  string
	ProdID    string
	UIDDomain string

	// Now is the clock used for DTSTAMP and the placeholder entry.
	Now func() time.Time
}

// Document is an emitted calendar plus what was dropped on the way.
type Document struct {
	Calendar    *ical.Calendar
	Entries     int
	Placeholder bool
	Skips       []model.Skip
}

// Serialize renders the calendar in iCalendar text form.
func (d Document) Serialize() string {
	return d.Calendar.Serialize()
}

// Emitter converts EventRecords into a calendar document.
type Emitter struct {
	opts EmitterOptions
}

// NewEmitter returns an Emitter with unset options defaulted.
func NewEmitter(opts EmitterOptions) *Emitter {
	if opts.Name == "" {
		opts.Name = "Plan Zajęć - Szkoła Filmowa"
	}
	if opts.Timezone == "" {
		opts.Timezone = "Europe/Warsaw"
	}
	if opts.ProdID == "" {
		opts.ProdID = "-//Plan Zajec Szkola Filmowa//PL"
	}
	if opts.UIDDomain == "" {
		opts.UIDDomain = "szkolafilmowa"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Emitter{opts: opts}
}

// Build emits one entry per record, in order. A record whose date or times
// cannot be parsed is skipped with ReasonBadTime. An empty input yields the
// one-hour placeholder entry. The only error is an unknown timezone.
func (e *Emitter) Build(records []model.EventRecord) (Document, error) {
	loc, err := time.LoadLocation(e.opts.Timezone)
	if err != nil {
		return Document{}, fmt.Errorf("ics: load timezone %q: %w", e.opts.Timezone, err)
	}

	cal := e.newCalendar(e.opts.Name)
	doc := Document{Calendar: cal}
	stamp := e.opts.Now().UTC()

	if len(records) == 0 {
		now := e.opts.Now().In(loc).Truncate(time.Second)
		ev := cal.AddEvent("info-" + now.Format(uidStampLayout) + "@" + e.opts.UIDDomain)
		ev.SetDtStampTime(stamp)
		ev.SetSummary(placeholderSummary)
		ev.SetStartAt(now)
		ev.SetEndAt(now.Add(time.Hour))
		doc.Entries = 1
		doc.Placeholder = true
		appLog.Warn("no classes found, emitting placeholder entry", "start", now.Format(time.RFC3339))
		return doc, nil
	}

	for i, rec := range records {
		start, end, err := recordTimes(rec, loc)
		if err != nil {
			doc.Skips = append(doc.Skips, model.Skip{Index: i, Reason: model.ReasonBadTime, Detail: err.Error()})
			appLog.Error("entry skipped", err, "index", i, "title", rec.Title)
			continue
		}

		summary := DisplayTitle(rec)
		ev := cal.AddEvent(UID(start, summary, e.opts.UIDDomain))
		ev.SetDtStampTime(stamp)
		ev.SetSummary(summary)
		ev.SetStartAt(start)
		ev.SetEndAt(end)
		if rec.Room != "" {
			ev.SetLocation(rec.Room)
		}
		ev.SetDescription(Description(rec))
		doc.Entries++

		appLog.Info("entry added",
			"date", rec.Date,
			"start", padClock(rec.TimeStart),
			"end", padClock(rec.TimeEnd),
			"title", truncate(rec.Title, 40),
		)
	}

	return doc, nil
}

// Misconfigured returns the stub written when portal credentials are absent:
// calendar metadata only, no entries.
func (e *Emitter) Misconfigured() Document {
	return Document{Calendar: e.newCalendar(misconfiguredName)}
}

func (e *Emitter) newCalendar(name string) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.SetProductId(e.opts.ProdID)
	cal.SetVersion("2.0")
	cal.SetCalscale("GREGORIAN")
	cal.SetMethod(ical.MethodPublish)
	cal.SetXWRCalName(name)
	cal.SetXWRTimezone(e.opts.Timezone)
	return cal
}

// DisplayTitle is "title (lecturer)", or just the title without a lecturer.
func DisplayTitle(rec model.EventRecord) string {
	if rec.Lecturer == "" {
		return rec.Title
	}
	return rec.Title + " (" + rec.Lecturer + ")"
}

// Description names the lecturer, or marks it as not available.
func Description(rec model.EventRecord) string {
	if rec.Lecturer == "" {
		return lecturerLabel + lecturerMissing
	}
	return lecturerLabel + rec.Lecturer
}

// UID derives a stable identifier from the start minute and display title:
// identical inputs give identical UIDs across runs and processes.
func UID(start time.Time, summary, domain string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(summary))
	return fmt.Sprintf("%s-%d@%s", start.Format(uidStampLayout), h.Sum32()%uidHashModulo, domain)
}

func recordTimes(rec model.EventRecord, loc *time.Location) (time.Time, time.Time, error) {
	const layout = "2006-01-02 15:04"
	start, err := time.ParseInLocation(layout, rec.Date+" "+padClock(rec.TimeStart), loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse start: %w", err)
	}
	end, err := time.ParseInLocation(layout, rec.Date+" "+padClock(rec.TimeEnd), loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse end: %w", err)
	}
	return start, end, nil
}

// padClock turns "8:15" into "08:15"; other values pass through.
func padClock(s string) string {
	s = strings.TrimSpace(s)
	if len(s) == 4 && s[1] == ':' {
		return "0" + s
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// WriteFile atomically replaces path with the serialized document.
func WriteFile(path string, doc Document) error {
	if err := fsutil.WriteFileAtomic(path, []byte(doc.Serialize()), 0o644); err != nil {
		return fmt.Errorf("ics: write %s: %w", path, err)
	}
	return nil
}
