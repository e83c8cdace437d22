// Package schedule evaluates event schedules and computes the final
// occurrence of one-time and recurring series.
//
// Every instant handled here is UTC. Stored dates and times carry no zone
// information and are never converted from a local timezone.
package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidDate is returned when a schedule's date is missing or malformed
	ErrInvalidDate = errors.New("invalid schedule date")

	// ErrInvalidTime is returned when a schedule's time of day is malformed
	ErrInvalidTime = errors.New("invalid schedule time")

	// ErrInvalidUntil is returned when a recurring series' end boundary is malformed
	ErrInvalidUntil = errors.New("invalid schedule until")

	// ErrUnsupportedFrequency is returned for a recurring series with an unknown frequency
	ErrUnsupportedFrequency = errors.New("unsupported frequency value")

	// ErrRunawaySeries is returned when walking a series exceeds the occurrence cap
	ErrRunawaySeries = errors.New("series exceeds maximum occurrences")
)

// Type distinguishes one-time events from recurring series
type Type string

const (
	TypeOnce      Type = "once"
	TypeRecurring Type = "recurring"
)

// Schedule describes when an event occurs.
//
// Fields keep the stored string form; they are parsed on every evaluation.
// A nil or empty Time means midnight, a nil or empty Until means the series
// never ends.
type Schedule struct {
	Type      Type      `json:"type" yaml:"type"`
	Date      string    `json:"date" yaml:"date"`
	Time      *string   `json:"time,omitempty" yaml:"time,omitempty"`
	Frequency Frequency `json:"frequency,omitempty" yaml:"frequency,omitempty"`
	Until     *string   `json:"until,omitempty" yaml:"until,omitempty"`
}

const dateLayout = "2006-01-02"

var timeLayouts = []string{
	"15:04:05.999999999",
	"15:04:05",
	"15:04",
}

var untilLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	dateLayout,
}

// First returns the instant of the first occurrence: Date combined with Time,
// or Date at midnight when Time is unset.
func (s Schedule) First() (time.Time, error) {
	day, err := time.ParseInLocation(dateLayout, strings.TrimSpace(s.Date), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w %q: %v", ErrInvalidDate, s.Date, err)
	}

	if s.Time == nil || strings.TrimSpace(*s.Time) == "" {
		return day, nil
	}

	clock, err := parseClock(*s.Time)
	if err != nil {
		return time.Time{}, err
	}

	return time.Date(day.Year(), day.Month(), day.Day(),
		clock.Hour(), clock.Minute(), clock.Second(), clock.Nanosecond(), time.UTC), nil
}

// UntilTime returns the parsed end boundary. ok is false when the series is unbounded.
func (s Schedule) UntilTime() (until time.Time, ok bool, err error) {
	if s.Until == nil {
		return time.Time{}, false, nil
	}
	raw := strings.TrimSpace(*s.Until)
	if raw == "" {
		return time.Time{}, false, nil
	}

	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), true, nil
	}
	for _, layout := range untilLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t, true, nil
		}
	}
	return time.Time{}, false, fmt.Errorf("%w %q", ErrInvalidUntil, raw)
}

// IsRecurring reports whether the schedule describes a recurring series
func (s Schedule) IsRecurring() bool {
	return s.Type == TypeRecurring
}

// parseClock accepts "HH:MM", "HH:MM:SS" and fractional seconds, with or
// without the leading "T" used by the stored form.
func parseClock(raw string) (time.Time, error) {
	value := strings.TrimPrefix(strings.TrimSpace(raw), "T")
	value = strings.TrimSuffix(value, "Z")
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w %q", ErrInvalidTime, raw)
}
