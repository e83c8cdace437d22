package schedule

import (
	"fmt"
	"time"
)

// Frequency is the step between occurrences of a recurring series
type Frequency string

const (
	FrequencyDaily    Frequency = "daily"
	FrequencyWeekly   Frequency = "weekly"
	FrequencyMonthly  Frequency = "monthly"
	FrequencyAnnually Frequency = "annually"
)

// incrementFunc returns the occurrence after current. first is the original
// first occurrence of the series and anchors the day of month.
type incrementFunc func(first, current time.Time) time.Time

// Valid reports whether f is a known frequency
func (f Frequency) Valid() bool {
	_, err := f.increment()
	return err == nil
}

// Next returns the occurrence following current in a series that started at first
func (f Frequency) Next(first, current time.Time) (time.Time, error) {
	inc, err := f.increment()
	if err != nil {
		return time.Time{}, err
	}
	return inc(first.UTC(), current.UTC()), nil
}

func (f Frequency) increment() (incrementFunc, error) {
	switch f {
	case FrequencyDaily:
		return incrementDay, nil
	case FrequencyWeekly:
		return incrementWeek, nil
	case FrequencyMonthly:
		return incrementMonth, nil
	case FrequencyAnnually:
		return incrementYear, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFrequency, string(f))
	}
}

func incrementDay(_, current time.Time) time.Time {
	return current.AddDate(0, 0, 1)
}

func incrementWeek(_, current time.Time) time.Time {
	return current.AddDate(0, 0, 7)
}

// incrementMonth moves to the next calendar month, keeping the first
// occurrence's day of month clamped to the length of the target month.
// Jan 31 steps to Feb 28 (29 in leap years), then Mar 31, Apr 30.
func incrementMonth(first, current time.Time) time.Time {
	year, month := current.Year(), current.Month()+1
	if month > time.December {
		month = time.January
		year++
	}
	return onDay(first, year, month)
}

// incrementYear keeps the first occurrence's month and day. A Feb 29 series
// falls on Feb 28 in non-leap years and returns to Feb 29 in leap years.
func incrementYear(first, current time.Time) time.Time {
	return onDay(first, current.Year()+1, first.Month())
}

func onDay(first time.Time, year int, month time.Month) time.Time {
	day := min(first.Day(), daysInMonth(year, month))
	return time.Date(year, month, day,
		first.Hour(), first.Minute(), first.Second(), first.Nanosecond(), time.UTC)
}

func daysInMonth(year int, month time.Month) int {
	// Day 0 of the following month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
