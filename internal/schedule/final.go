package schedule

import (
	"fmt"
	"time"
)

// DefaultMaxOccurrences bounds the walk through a recurring series.
// A daily series reaches it after roughly 270 years.
const DefaultMaxOccurrences = 100000

// FinalDate is the last occurrence of a schedule, if there is one
type FinalDate struct {
	// At is the final occurrence. Zero when the schedule is unbounded.
	At time.Time
	// Bounded is false when the schedule has no final occurrence
	Bounded bool
}

// Unbounded is the FinalDate of a series that never ends
var Unbounded = FinalDate{}

// Before reports whether the final date exists and is strictly before t
func (f FinalDate) Before(t time.Time) bool {
	return f.Bounded && f.At.Before(t)
}

func (f FinalDate) String() string {
	if !f.Bounded {
		return "unbounded"
	}
	return f.At.Format(time.RFC3339)
}

// Evaluator computes final dates. The zero value uses DefaultMaxOccurrences.
type Evaluator struct {
	MaxOccurrences int
}

// Final computes the final occurrence of s using the default evaluator
func Final(s Schedule) (FinalDate, error) {
	return Evaluator{}.Final(s)
}

// Final computes the final occurrence of s.
//
// One-time events end on their only occurrence. A recurring series must have
// a known frequency, with or without until; without until it is unbounded. Otherwise the series is walked from its first
// occurrence and the result is the last occurrence strictly before until; if
// the first occurrence is not before until, the first occurrence is returned.
// Unknown schedule types are unbounded and never produce an error.
func (e Evaluator) Final(s Schedule) (FinalDate, error) {
	switch s.Type {
	case TypeOnce:
		first, err := s.First()
		if err != nil {
			return Unbounded, err
		}
		return FinalDate{At: first, Bounded: true}, nil

	case TypeRecurring:
		first, err := s.First()
		if err != nil {
			return Unbounded, err
		}

		inc, err := s.Frequency.increment()
		if err != nil {
			return Unbounded, err
		}

		until, ok, err := s.UntilTime()
		if err != nil {
			return Unbounded, err
		}
		if !ok {
			return Unbounded, nil
		}

		last, err := e.walk(first, until, inc)
		if err != nil {
			return Unbounded, err
		}
		return FinalDate{At: last, Bounded: true}, nil

	default:
		return Unbounded, nil
	}
}

func (e Evaluator) walk(first, until time.Time, inc incrementFunc) (time.Time, error) {
	limit := e.MaxOccurrences
	if limit <= 0 {
		limit = DefaultMaxOccurrences
	}

	last, current := first, first
	for steps := 0; current.Before(until); steps++ {
		if steps >= limit {
			return time.Time{}, fmt.Errorf("%w (%d) before %s", ErrRunawaySeries, limit, until.Format(time.RFC3339))
		}
		last = current
		current = inc(first, current)
	}
	return last, nil
}
