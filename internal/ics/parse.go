package ics

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	ical "github.com/arran4/golang-ical"

	appLog "schedsync/internal/log"
	"schedsync/internal/model"
)

// Parsed is a calendar file read back from disk.
type Parsed struct {
	Name     string
	Timezone string
	Entries  []model.Entry
}

// ParseFile reads and parses an emitted calendar.
func ParseFile(path string) (Parsed, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return Parsed{}, err
	}
	return ParseICS(body)
}

// ParseICS parses an iCalendar payload into entries. A VEVENT that cannot
// be read is logged and skipped; the rest are still returned.
func ParseICS(body []byte) (Parsed, error) {
	if len(body) == 0 {
		return Parsed{}, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return Parsed{}, fmt.Errorf("ics: parse: %w", err)
	}

	out := Parsed{Entries: make([]model.Entry, 0)}
	for _, p := range cal.CalendarProperties {
		switch p.IANAToken {
		case string(ical.PropertyXWRCalName):
			out.Name = p.Value
		case string(ical.PropertyXWRTimezone):
			out.Timezone = p.Value
		}
	}

	for _, ve := range cal.Events() {
		entry, perr := parseVEvent(ve)
		if perr != nil {
			appLog.Error("ics vevent parse failed", perr)
			continue
		}
		out.Entries = append(out.Entries, entry)
	}
	return out, nil
}

func parseVEvent(ve *ical.VEvent) (model.Entry, error) {
	var out model.Entry

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uidProp.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = p.Value
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return out, fmt.Errorf("uid %s: DTSTART: %w", out.UID, err)
	}
	end, err := ve.GetEndAt()
	if err != nil {
		return out, fmt.Errorf("uid %s: DTEND: %w", out.UID, err)
	}
	out.Start = start
	out.End = end

	return out, nil
}
