// Copyright (c) 2025 the homewatt authors
// Licensed under the MIT License

// Package timeutil provides timezone-aware day-boundary and clock-time
// helpers used by the price cache scheduler and the comparators.
package timeutil

import (
	"fmt"
	"math/rand"
	"time"
)

// StartOfDay returns midnight of t's calendar day in the given location.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	year, month, day := t.In(loc).Date()
	return time.Date(year, month, day, 0, 0, 0, 0, loc)
}

// StartOfHour truncates t to the top of its hour.
func StartOfHour(t time.Time) time.Time {
	return t.Truncate(time.Hour)
}

// SameHour reports whether a and b fall within the same hour.
func SameHour(a, b time.Time) bool {
	return StartOfHour(a).Equal(StartOfHour(b))
}

// Clock is a wall-clock time of day without a date, e.g. the provider's
// daily price publish cutoff.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses a "HH:MM" string.
func ParseClock(s string) (Clock, error) {
	var c Clock
	if _, err := fmt.Sscanf(s, "%d:%d", &c.Hour, &c.Minute); err != nil {
		return Clock{}, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	if c.Hour < 0 || c.Hour > 23 || c.Minute < 0 || c.Minute > 59 {
		return Clock{}, fmt.Errorf("clock time %q out of range", s)
	}
	return c, nil
}

// String formats the clock time as "HH:MM".
func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// On anchors the clock time on t's calendar day in the given location.
func (c Clock) On(t time.Time, loc *time.Location) time.Time {
	year, month, day := t.In(loc).Date()
	return time.Date(year, month, day, c.Hour, c.Minute, 0, 0, loc)
}

// Window anchors a [start, end) wall-clock interval around now. When the
// interval stretches over midnight (start after end lexically), start is
// moved to yesterday if now has not yet passed end's naive time-of-day, and
// end is moved to tomorrow if it has. The result is a single correctly
// anchored interval that now may or may not fall inside.
func Window(now time.Time, start, end Clock, loc *time.Location) (time.Time, time.Time) {
	startAt := start.On(now, loc)
	endAt := end.On(now, loc)

	if startAt.After(endAt) {
		if now.Before(endAt) {
			startAt = startAt.AddDate(0, 0, -1)
		}
		if now.After(endAt) {
			endAt = endAt.AddDate(0, 0, 1)
		}
	}

	return startAt, endAt
}

// Contains reports whether now falls within [start, end).
func Contains(now, start, end time.Time) bool {
	return !now.Before(start) && now.Before(end)
}

// RandomDelay returns a uniformly distributed duration in [min, max).
// Randomized delays spread scheduled fetches and reconnects so that many
// instances sharing the same trigger time do not hit the provider at once.
func RandomDelay(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}

// TakeFromStartOrEnd takes up to n entries from the front of s when n is
// positive, or up to -n entries from the back when n is negative. It
// truncates to however many entries exist rather than failing.
func TakeFromStartOrEnd[T any](s []T, n int) []T {
	switch {
	case n == 0:
		return nil
	case n > 0:
		if n > len(s) {
			n = len(s)
		}
		return s[:n]
	default:
		n = -n
		if n > len(s) {
			n = len(s)
		}
		return s[len(s)-n:]
	}
}
