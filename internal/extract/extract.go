package extract

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	appLog "schedsync/internal/log"
	"schedsync/internal/model"
	"schedsync/internal/tooltip"
)

const defaultHeaderTop = -40

var (
	leftPattern     = regexp.MustCompile(`(?i)(?:^|[;\s])left\s*:\s*(-?\d+)`)
	topPattern      = regexp.MustCompile(`(?i)(?:^|[;\s])top\s*:\s*(-?\d+)`)
	absolutePattern = regexp.MustCompile(`(?i)position\s*:\s*absolute`)
	datePattern     = regexp.MustCompile(`(\d{2})-(\d{2})-(\d{4})`)
	timePattern     = regexp.MustCompile(`(\d{1,2}:\d{2})-(\d{1,2}:\d{2})`)
)

// Options configure an Extractor.
type Options struct {
	// Layout lists the weekday columns in declaration order.
	Layout []model.DaySlot

	// HeaderTopMin / HeaderTopMax is the inclusive `top:` band of date
	// header cells.
	HeaderTopMin int
	HeaderTopMax int

	// MaxDrift caps the pixel distance to the nearest column; <= 0 accepts
	// any distance.
	MaxDrift int

	// RoomPrefix marks the tooltip line holding the room, e.g. "Sala:".
	RoomPrefix string
}

// Result is what one snapshot yields.
type Result struct {
	Records []model.EventRecord
	// Anchors is keyed by the slot's Left coordinate.
	Anchors map[int]model.DateAnchor
	// Skips explains every dropped candidate; Week is left zero.
	Skips []model.Skip
}

// Extractor turns schedule snapshots into event records. It holds no
// per-snapshot state and is safe to reuse.
type Extractor struct {
	opts Options
}

// New returns an Extractor, filling unset options with the portal defaults.
func New(opts Options) *Extractor {
	if len(opts.Layout) == 0 {
		opts.Layout = model.DefaultLayout
	}
	if opts.HeaderTopMin == 0 && opts.HeaderTopMax == 0 {
		opts.HeaderTopMin, opts.HeaderTopMax = defaultHeaderTop, defaultHeaderTop
	}
	if opts.RoomPrefix == "" {
		opts.RoomPrefix = "Sala:"
	}
	return &Extractor{opts: opts}
}

// Extract parses one snapshot of the schedule view. It never fails: a
// snapshot that cannot be parsed yields an empty Result with a single skip.
func (e *Extractor) Extract(html string) Result {
	return e.ExtractReader(strings.NewReader(html))
}

// ExtractReader is Extract over an io.Reader.
func (e *Extractor) ExtractReader(r io.Reader) Result {
	res := Result{
		Records: make([]model.EventRecord, 0),
		Anchors: make(map[int]model.DateAnchor),
	}

	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		res.Skips = append(res.Skips, model.Skip{Reason: model.ReasonBadSnapshot, Detail: err.Error()})
		return res
	}

	e.collectAnchors(doc, res.Anchors)

	doc.Find("div[onmouseover]").Each(func(i int, s *goquery.Selection) {
		handler, _ := s.Attr("onmouseover")
		style, _ := s.Attr("style")

		cand := model.EventCandidate{Index: i, Left: -1}
		if left, ok := styleInt(leftPattern, style); ok {
			cand.Left = left
		} else {
			res.Skips = append(res.Skips, model.Skip{Index: i, Reason: model.ReasonNoCoordinate})
			return
		}
		cand.Tooltip = handler

		rec, skip, ok := e.candidate(cand, res.Anchors)
		if !ok {
			res.Skips = append(res.Skips, skip)
			return
		}
		res.Records = append(res.Records, rec)
	})

	appLog.Debug("snapshot extracted",
		"records", len(res.Records),
		"anchors", len(res.Anchors),
		"skipped", len(res.Skips),
	)
	return res
}

// collectAnchors records one date per column from header cells.
func (e *Extractor) collectAnchors(doc *goquery.Document, anchors map[int]model.DateAnchor) {
	doc.Find("div[style]").Each(func(_ int, s *goquery.Selection) {
		style, _ := s.Attr("style")
		if !absolutePattern.MatchString(style) {
			return
		}
		top, ok := styleInt(topPattern, style)
		if !ok || top < e.opts.HeaderTopMin || top > e.opts.HeaderTopMax {
			return
		}
		left, ok := styleInt(leftPattern, style)
		if !ok {
			return
		}
		m := datePattern.FindStringSubmatch(s.Text())
		if m == nil {
			return
		}
		slot, ok := e.slotFor(left)
		if !ok {
			appLog.Debug("date header outside layout", "left", left, "text", strings.TrimSpace(s.Text()))
			return
		}
		anchors[slot.Left] = model.DateAnchor{
			Slot: slot,
			Date: m[3] + "-" + m[2] + "-" + m[1],
		}
	})
}

// candidate validates one tooltip-bearing element.
func (e *Extractor) candidate(c model.EventCandidate, anchors map[int]model.DateAnchor) (model.EventRecord, model.Skip, bool) {
	skip := func(reason model.SkipReason, detail string) (model.EventRecord, model.Skip, bool) {
		return model.EventRecord{}, model.Skip{Index: c.Index, Reason: reason, Detail: detail}, false
	}

	slot, dist, ok := Nearest(e.opts.Layout, c.Left)
	if !ok || (e.opts.MaxDrift > 0 && dist > e.opts.MaxDrift) {
		return skip(model.ReasonOutOfRange, fmt.Sprintf("left=%d drift=%d", c.Left, dist))
	}
	anchor, ok := anchors[slot.Left]
	if !ok {
		return skip(model.ReasonNoAnchor, fmt.Sprintf("column %d", slot.Left))
	}

	payload, ok := tooltip.Payload(c.Tooltip)
	if !ok {
		return skip(model.ReasonNoTooltip, "")
	}
	lines := tooltip.Lines(payload)
	if len(lines) < 3 {
		return skip(model.ReasonTooFewLines, fmt.Sprintf("%d lines", len(lines)))
	}

	rec := model.EventRecord{
		Title:    lines[0],
		Lecturer: lines[1],
		Date:     anchor.Date,
	}
	for _, line := range lines {
		if m := timePattern.FindStringSubmatch(line); m != nil {
			rec.TimeStart, rec.TimeEnd = m[1], m[2]
			break
		}
	}
	if rec.TimeStart == "" || rec.TimeEnd == "" {
		return skip(model.ReasonNoTimeRange, rec.Title)
	}
	for _, line := range lines {
		if strings.HasPrefix(line, e.opts.RoomPrefix) {
			rec.Room = strings.TrimSpace(strings.TrimPrefix(line, e.opts.RoomPrefix))
			break
		}
	}
	if rec.Title == "" {
		return skip(model.ReasonEmptyTitle, "")
	}
	return rec, model.Skip{}, true
}

func (e *Extractor) slotFor(left int) (model.DaySlot, bool) {
	slot, dist, ok := Nearest(e.opts.Layout, left)
	if !ok || (e.opts.MaxDrift > 0 && dist > e.opts.MaxDrift) {
		return model.DaySlot{}, false
	}
	return slot, true
}

// Nearest returns the slot closest to left and the absolute distance to it.
// Ties go to the slot declared first. ok is false only for an empty layout.
func Nearest(layout []model.DaySlot, left int) (slot model.DaySlot, dist int, ok bool) {
	for i, s := range layout {
		d := abs(left - s.Left)
		if i == 0 || d < dist {
			slot, dist = s, d
		}
	}
	return slot, dist, len(layout) > 0
}

func styleInt(p *regexp.Regexp, style string) (int, bool) {
	m := p.FindStringSubmatch(style)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
