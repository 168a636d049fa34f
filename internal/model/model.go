package model

import (
	"regexp"
	"time"
)

// DaySlot maps one horizontal pixel bucket of the schedule grid to a weekday
// index (0 = Monday ... 6 = Sunday).
type DaySlot struct {
	Left int `yaml:"left" json:"left"`
	Day  int `yaml:"day" json:"day"`
}

// DefaultLayout is the column layout of the portal's weekly view.
var DefaultLayout = []DaySlot{
	{Left: 20, Day: 0},
	{Left: 150, Day: 1},
	{Left: 280, Day: 2},
	{Left: 410, Day: 3},
	{Left: 540, Day: 4},
	{Left: 670, Day: 5},
	{Left: 800, Day: 6},
}

// DateAnchor ties a DaySlot to a concrete date within one snapshot.
type DateAnchor struct {
	Slot DaySlot `json:"slot"`
	Date string  `json:"date"` // YYYY-MM-DD
}

// EventCandidate is a positioned, tooltip-bearing element before validation.
type EventCandidate struct {
	// Index is the DOM encounter order within the snapshot.
	Index   int
	Left    int
	Tooltip string
}

// EventRecord is a validated class entry ready for calendar emission.
type EventRecord struct {
	Title     string `json:"title"`
	Lecturer  string `json:"lecturer"`
	Date      string `json:"date"`
	TimeStart string `json:"time_start"`
	TimeEnd   string `json:"time_end"`
	Room      string `json:"room"`
}

var isoDate = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Valid reports whether the record carries everything needed to emit it.
func (r EventRecord) Valid() bool {
	return r.Title != "" && r.TimeStart != "" && r.TimeEnd != "" && isoDate.MatchString(r.Date)
}

// Entry is a calendar entry as read back from an emitted calendar file.
type Entry struct {
	UID         string    `json:"uid"`
	Summary     string    `json:"summary"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}
