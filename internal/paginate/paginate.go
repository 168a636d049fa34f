// Package paginate walks the portal's weekly schedule view one week at a
// time and aggregates what the extractor finds.
package paginate

import (
	"context"
	"errors"
	"strconv"

	"schedsync/internal/extract"
	appLog "schedsync/internal/log"
	"schedsync/internal/model"
)

// DefaultMaxWeeks is how many week views are collected when the caller does
// not say otherwise.
const DefaultMaxWeeks = 12

// SnapshotProvider is the page the paginator drives. CurrentSnapshot returns
// the HTML of the week currently shown; AdvanceWeek moves to the next one.
type SnapshotProvider interface {
	CurrentSnapshot(ctx context.Context) (string, error)
	AdvanceWeek(ctx context.Context) error
}

// Extractor is satisfied by *extract.Extractor.
type Extractor interface {
	Extract(html string) extract.Result
}

// StopReason tells why the walk ended.
type StopReason string

const (
	StopCompleted      StopReason = "completed"
	StopAdvanceFailed  StopReason = "advance_failed"
	StopSnapshotFailed StopReason = "snapshot_failed"
	StopCanceled       StopReason = "canceled"
)

// WeekReport summarizes one processed week.
type WeekReport struct {
	Week    int               `json:"week"`
	Records int               `json:"records"`
	Anchors map[string]string `json:"anchors,omitempty"` // column -> date
	Skips   int               `json:"skips"`
}

// Result is everything collected by Run, in week order.
type Result struct {
	Records []model.EventRecord `json:"records"`
	Weeks   []WeekReport        `json:"weeks"`
	Skips   []model.Skip        `json:"skips,omitempty"`
	Stopped StopReason          `json:"stopped"`
	// Err is the failure that ended the walk early, if any.
	Err error `json:"-"`
}

// Paginator collects up to maxWeeks snapshots sequentially.
type Paginator struct {
	provider  SnapshotProvider
	extractor Extractor
	maxWeeks  int
}

// New builds a Paginator. maxWeeks <= 0 selects DefaultMaxWeeks.
func New(provider SnapshotProvider, extractor Extractor, maxWeeks int) *Paginator {
	if maxWeeks <= 0 {
		maxWeeks = DefaultMaxWeeks
	}
	return &Paginator{
		provider:  provider,
		extractor: extractor,
		maxWeeks:  maxWeeks,
	}
}

// Run walks the weeks. Week 1 is whatever the provider currently shows;
// each later week is requested only after the previous one was extracted.
// Run never fails: any snapshot, advance or context error stops the walk and
// the records gathered so far are returned.
func (p *Paginator) Run(ctx context.Context) Result {
	res := Result{
		Records: make([]model.EventRecord, 0),
		Weeks:   make([]WeekReport, 0, p.maxWeeks),
		Stopped: StopCompleted,
	}

	for week := 1; week <= p.maxWeeks; week++ {
		if week > 1 {
			if err := ctx.Err(); err != nil {
				p.stop(&res, week, StopCanceled, model.ReasonCanceled, err)
				return res
			}
			if err := p.provider.AdvanceWeek(ctx); err != nil {
				p.stop(&res, week, StopAdvanceFailed, model.ReasonAdvanceFailed, err)
				return res
			}
		}

		html, err := p.provider.CurrentSnapshot(ctx)
		if err != nil {
			p.stop(&res, week, StopSnapshotFailed, model.ReasonSnapshotFailed, err)
			return res
		}

		out := p.extractor.Extract(html)
		for _, s := range out.Skips {
			s.Week = week
			res.Skips = append(res.Skips, s)
		}
		res.Records = append(res.Records, out.Records...)

		wr := WeekReport{
			Week:    week,
			Records: len(out.Records),
			Skips:   len(out.Skips),
			Anchors: make(map[string]string, len(out.Anchors)),
		}
		for _, a := range out.Anchors {
			wr.Anchors[dayName(a.Slot.Day)] = a.Date
		}
		res.Weeks = append(res.Weeks, wr)

		appLog.Info("week collected", "week", week, "records", len(out.Records), "skipped", len(out.Skips))
	}

	return res
}

func (p *Paginator) stop(res *Result, week int, reason StopReason, skip model.SkipReason, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		reason, skip = StopCanceled, model.ReasonCanceled
	}
	res.Stopped = reason
	res.Err = err
	res.Skips = append(res.Skips, model.Skip{Week: week, Reason: skip, Detail: err.Error()})
	appLog.Warn("week walk stopped early",
		"week", week,
		"reason", string(reason),
		"err", err,
		"records_kept", len(res.Records),
	)
}

var dayNames = [...]string{"mon", "tue", "wed", "thu", "fri", "sat", "sun"}

func dayName(d int) string {
	if d >= 0 && d < len(dayNames) {
		return dayNames[d]
	}
	return "day" + strconv.Itoa(d)
}
