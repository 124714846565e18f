// Package schedule computes trigger instants for recurring briefs.
package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/briefcast/api/internal/model"
)

var (
	ErrInvalidTimeOfDay = errors.New("time of day must be HH:MM")
	ErrUnknownType      = errors.New("unknown recurrence type")
)

// NextOccurrence returns the next trigger instant strictly after now. "Today"
// and the time of day are evaluated in the descriptor's timezone; the result
// carries that location.
func NextOccurrence(d model.RecurrenceDescriptor, now time.Time) (time.Time, error) {
	loc, err := location(d.Timezone)
	if err != nil {
		return time.Time{}, err
	}
	hour, minute, err := parseTimeOfDay(d.TimeOfDay)
	if err != nil {
		return time.Time{}, err
	}

	local := now.In(loc)
	y, m, day := local.Date()
	at := func(offset int) time.Time {
		return time.Date(y, m, day+offset, hour, minute, 0, 0, loc)
	}

	switch d.Type {
	case model.RecurrenceDaily:
		if today := at(0); today.After(local) {
			return today, nil
		}
		return at(1), nil

	case model.RecurrenceWeekly:
		if len(d.Weekdays) == 0 {
			return at(7), nil
		}
		days := make(map[time.Weekday]bool, len(d.Weekdays))
		for _, wd := range d.Weekdays {
			if wd < 0 || wd > 6 {
				return time.Time{}, fmt.Errorf("weekday %d out of range", wd)
			}
			days[time.Weekday(wd)] = true
		}
		for offset := 1; offset <= 7; offset++ {
			if candidate := at(offset); days[candidate.Weekday()] {
				return candidate, nil
			}
		}
		// Unreachable with a non-empty valid set.
		return at(7), nil

	case model.RecurrenceCustom:
		interval := d.IntervalDays
		if interval < 1 {
			interval = 1
		}
		return at(interval), nil
	}

	return time.Time{}, fmt.Errorf("%w: %q", ErrUnknownType, d.Type)
}

// Occurrences chains NextOccurrence n times starting from now.
func Occurrences(d model.RecurrenceDescriptor, now time.Time, n int) ([]time.Time, error) {
	out := make([]time.Time, 0, n)
	cursor := now
	for i := 0; i < n; i++ {
		next, err := NextOccurrence(d, cursor)
		if err != nil {
			return nil, err
		}
		out = append(out, next)
		cursor = next
	}
	return out, nil
}

// Validate checks that the descriptor can produce occurrences.
func Validate(d model.RecurrenceDescriptor) error {
	_, err := NextOccurrence(d, time.Now())
	return err
}

func location(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", name, err)
	}
	return loc, nil
}

func parseTimeOfDay(s string) (int, int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}
	return t.Hour(), t.Minute(), nil
}
