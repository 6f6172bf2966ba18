package domain

import (
	"fmt"
	"time"
)

// DateLayout is the calendar-date format stored in StreamState.
const DateLayout = "2006-01-02"

// Schedule runs the stream once a day for a fixed duration.
type Schedule struct {
	Enabled       bool    `json:"enabled" yaml:"enabled"`
	StartTime     string  `json:"start_time,omitempty" yaml:"start_time" validate:"required_if=Enabled true,omitempty,datetime=15:04"`
	DurationHours float64 `json:"duration_hours,omitempty" yaml:"duration_hours" validate:"required_if=Enabled true,omitempty,gte=0.5,lte=24"`
}

// Duration is the length of one daily window.
func (s Schedule) Duration() time.Duration {
	return time.Duration(s.DurationHours * float64(time.Hour))
}

// Window returns the most recent window that started at or before now, and
// whether now falls inside it. The window date is the calendar date of its
// start, so a window crossing midnight keeps the previous day's date.
func (s Schedule) Window(now time.Time) (start, end time.Time, inside bool, err error) {
	if !s.Enabled {
		return time.Time{}, time.Time{}, false, nil
	}
	clock, err := time.Parse("15:04", s.StartTime)
	if err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("invalid schedule start_time %q: %w", s.StartTime, err)
	}

	y, m, d := now.Date()
	start = time.Date(y, m, d, clock.Hour(), clock.Minute(), 0, 0, now.Location())
	if start.After(now) {
		start = start.AddDate(0, 0, -1)
	}
	end = start.Add(s.Duration())
	return start, end, now.Before(end), nil
}

// WindowDate is the date key recorded for a window start.
func WindowDate(start time.Time) string { return start.Format(DateLayout) }
