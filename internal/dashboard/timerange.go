// Package dashboard aggregates sync job activity and manages replays.
package dashboard

import (
	"time"

	"github.com/pglemos/ml-bling-sync/internal/domain"
)

// TimeRange selects the overview window.
type TimeRange string

const (
	RangeLastHour    TimeRange = "1h"
	RangeLast6Hours  TimeRange = "6h"
	RangeLast24Hours TimeRange = "24h"
	RangeLast7Days   TimeRange = "7d"
	RangeLast30Days  TimeRange = "30d"
	RangeCustom      TimeRange = "custom"
)

var rangeDurations = map[TimeRange]time.Duration{
	RangeLastHour:    time.Hour,
	RangeLast6Hours:  6 * time.Hour,
	RangeLast24Hours: 24 * time.Hour,
	RangeLast7Days:   7 * 24 * time.Hour,
	RangeLast30Days:  30 * 24 * time.Hour,
}

// Window is a resolved overview period.
type Window struct {
	Range TimeRange `json:"range"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the window, bounds included.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// ResolveWindow turns a range name into a concrete window ending at now.
// An empty range means the last 24 hours. Custom ranges need both bounds.
func ResolveWindow(r TimeRange, start, end *time.Time, now time.Time) (Window, error) {
	if r == "" {
		r = RangeLast24Hours
	}

	if r == RangeCustom {
		if start == nil || end == nil {
			return Window{}, domain.NewValidationError("start and end are required for a custom range")
		}
		if !start.Before(*end) {
			return Window{}, domain.NewValidationError("start must be before end")
		}
		return Window{Range: r, Start: start.UTC(), End: end.UTC()}, nil
	}

	d, ok := rangeDurations[r]
	if !ok {
		return Window{}, domain.NewValidationError("invalid range %q: must be one of 1h, 6h, 24h, 7d, 30d, custom", r)
	}
	now = now.UTC()
	return Window{Range: r, Start: now.Add(-d), End: now}, nil
}
