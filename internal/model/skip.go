package model

import "fmt"

// SkipReason names why an item was dropped from the pipeline.
type SkipReason string

const (
	ReasonNoCoordinate   SkipReason = "no_coordinate"
	ReasonOutOfRange     SkipReason = "out_of_range"
	ReasonNoAnchor       SkipReason = "no_anchor"
	ReasonNoTooltip      SkipReason = "no_tooltip"
	ReasonTooFewLines    SkipReason = "too_few_lines"
	ReasonNoTimeRange    SkipReason = "no_time_range"
	ReasonEmptyTitle     SkipReason = "empty_title"
	ReasonBadSnapshot    SkipReason = "bad_snapshot"
	ReasonBadTime        SkipReason = "bad_time"
	ReasonSnapshotFailed SkipReason = "snapshot_failed"
	ReasonAdvanceFailed  SkipReason = "advance_failed"
	ReasonCanceled       SkipReason = "canceled"
)

// Skip records one dropped item. Week is 1-based and 0 when not applicable;
// Index is the DOM order of a candidate or the position of a record.
type Skip struct {
	Week   int        `json:"week,omitempty"`
	Index  int        `json:"index"`
	Reason SkipReason `json:"reason"`
	Detail string     `json:"detail,omitempty"`
}

func (s Skip) String() string {
	if s.Detail == "" {
		return fmt.Sprintf("week %d item %d: %s", s.Week, s.Index, s.Reason)
	}
	return fmt.Sprintf("week %d item %d: %s (%s)", s.Week, s.Index, s.Reason, s.Detail)
}

// CountByReason tallies skips, handy for logs and reports.
func CountByReason(skips []Skip) map[SkipReason]int {
	out := make(map[SkipReason]int)
	for _, s := range skips {
		out[s.Reason]++
	}
	return out
}
