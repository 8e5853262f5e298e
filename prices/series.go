// Copyright (c) 2025 the homewatt authors
// Licensed under the MIT License

package prices

import (
	"time"

	"github.com/homewatt/homewatt/pkg/timeutil"
)

// Data is the per-poll snapshot of derived views over the cached series:
// the entries for the local calendar day, the entry whose hour contains
// now, and the day's extremes. Comparators take it alongside the full
// series so they stay pure functions.
type Data struct {
	Today        []Entry
	Latest       *Entry
	LowestToday  *Entry
	HighestToday *Entry
}

// Today filters the series to entries on now's calendar day in loc.
func Today(series []Entry, now time.Time, loc *time.Location) []Entry {
	startOfDay := timeutil.StartOfDay(now, loc)
	startOfTomorrow := startOfDay.AddDate(0, 0, 1)

	var today []Entry
	for _, e := range series {
		if !e.StartsAt.Before(startOfDay) && e.StartsAt.Before(startOfTomorrow) {
			today = append(today, e)
		}
	}
	return today
}

// Latest returns the entry whose hour contains now, or nil.
func Latest(series []Entry, now time.Time) *Entry {
	for i := range series {
		if timeutil.SameHour(series[i].StartsAt, now) {
			return &series[i]
		}
	}
	return nil
}

// MinByTotal returns the entry with the lowest total, or nil for an empty
// slice. Ties keep the earliest entry.
func MinByTotal(entries []Entry) *Entry {
	if len(entries) == 0 {
		return nil
	}
	min := &entries[0]
	for i := 1; i < len(entries); i++ {
		if entries[i].Total < min.Total {
			min = &entries[i]
		}
	}
	return min
}

// MaxByTotal returns the entry with the highest total, or nil for an empty
// slice. Ties keep the earliest entry.
func MaxByTotal(entries []Entry) *Entry {
	if len(entries) == 0 {
		return nil
	}
	max := &entries[0]
	for i := 1; i < len(entries); i++ {
		if entries[i].Total > max.Total {
			max = &entries[i]
		}
	}
	return max
}

// Snapshot derives the Data views for now from the series.
func Snapshot(series []Entry, now time.Time, loc *time.Location) Data {
	today := Today(series, now, loc)
	return Data{
		Today:        today,
		Latest:       Latest(series, now),
		LowestToday:  MinByTotal(today),
		HighestToday: MaxByTotal(today),
	}
}
