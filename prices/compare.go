// Copyright (c) 2025 the homewatt authors
// Licensed under the MIT License

package prices

import (
	"sort"
	"time"

	"github.com/homewatt/homewatt/pkg/logger"
	"github.com/homewatt/homewatt/pkg/metrics"
	"github.com/homewatt/homewatt/pkg/timeutil"
)

// The comparators are pure functions of (series, data, now, options); they
// hold no state. Conditions that cannot be evaluated (empty subset, unknown
// latest price, rank not found) fail closed: they return false with a
// diagnostic log line instead of an error, so an automation condition that
// cannot be determined reads as "not met".

// AveragePriceOptions configures the average-deviation comparator. A nil
// Hours selects today's entries; a non-nil value selects a directional
// slice of the full series relative to now.
type AveragePriceOptions struct {
	Hours      *int
	Percentage float64
}

// AveragePrice reports whether the latest price deviates from the mean of
// the selected subset by strictly more than Percentage percent. With below
// set the deviation is evaluated downwards.
func AveragePrice(series []Entry, data Data, now time.Time, opts AveragePriceOptions, below bool) bool {
	// Zero-width windows are meaningless and short-circuit to false.
	if opts.Hours != nil && *opts.Hours == 0 {
		return false
	}

	subset := data.Today
	if opts.Hours != nil {
		subset = subsetForHours(series, now, *opts.Hours)
	}

	if len(subset) == 0 {
		indeterminate("no prices available for the selected hours")
		return false
	}

	if data.Latest == nil {
		indeterminate("latest price is unknown")
		return false
	}

	var sum float64
	for _, e := range subset {
		sum += e.Total
	}
	avg := sum / float64(len(subset))

	diff := (data.Latest.Total - avg) / avg * 100
	if below {
		diff = -diff
	}

	met := diff > opts.Percentage
	logger.Debug().
		Float64("latest", data.Latest.Total).
		Float64("average", avg).
		Float64("deviation_pct", diff).
		Float64("threshold_pct", opts.Percentage).
		Bool("below", below).
		Bool("met", met).
		Msg("Average price condition evaluated")
	return met
}

// MinMaxPriceOptions configures the extremes comparator. A nil Hours
// selects today's entries. With RankedHours set the comparator tests the
// latest entry's rank instead of comparing against the true extreme.
type MinMaxPriceOptions struct {
	Hours       *int
	RankedHours *int
}

// MinMaxPrice reports whether the latest price is the extreme of the
// selected subset (boundary equality counts), or, in ranked mode, whether
// it is among the RankedHours cheapest or most expensive entries.
func MinMaxPrice(series []Entry, data Data, now time.Time, opts MinMaxPriceOptions, lowest bool) bool {
	if opts.Hours != nil && *opts.Hours == 0 {
		return false
	}
	if opts.RankedHours != nil && *opts.RankedHours == 0 {
		return false
	}

	subset := data.Today
	if opts.Hours != nil {
		subset = subsetForHours(series, now, *opts.Hours)
	}

	if len(subset) == 0 {
		indeterminate("no prices available for the selected hours")
		return false
	}

	if data.Latest == nil {
		indeterminate("latest price is unknown")
		return false
	}

	if opts.RankedHours != nil {
		rank, ok := rankByTotal(subset, data.Latest.StartsAt)
		if !ok {
			indeterminate("latest price not found in the selected hours")
			return false
		}

		var met bool
		if lowest {
			met = rank < *opts.RankedHours
		} else {
			met = rank >= len(subset)-*opts.RankedHours
		}

		logger.Debug().
			Float64("latest", data.Latest.Total).
			Int("rank", rank).
			Int("ranked_hours", *opts.RankedHours).
			Bool("lowest", lowest).
			Bool("met", met).
			Msg("Ranked price condition evaluated")
		return met
	}

	var extreme float64
	if lowest {
		extreme = MinByTotal(subset).Total
	} else {
		extreme = MaxByTotal(subset).Total
	}

	var met bool
	if lowest {
		met = data.Latest.Total <= extreme
	} else {
		met = data.Latest.Total >= extreme
	}

	logger.Debug().
		Float64("latest", data.Latest.Total).
		Float64("extreme", extreme).
		Bool("lowest", lowest).
		Bool("met", met).
		Msg("Extreme price condition evaluated")
	return met
}

// TimeFrameOptions configures the time-window ranked comparator. StartTime
// and EndTime are wall-clock times; a window whose start is after its end
// stretches over midnight.
type TimeFrameOptions struct {
	RankedHours int
	StartTime   timeutil.Clock
	EndTime     timeutil.Clock
}

// LowestPricesWithinTimeFrame reports whether now is inside the configured
// window and the latest price ranks among the RankedHours cheapest entries
// within it. Outside the window the condition is simply not met.
func LowestPricesWithinTimeFrame(series []Entry, data Data, now time.Time, opts TimeFrameOptions, loc *time.Location) bool {
	if opts.RankedHours == 0 {
		return false
	}

	localNow := now.In(loc)
	start, end := timeutil.Window(localNow, opts.StartTime, opts.EndTime, loc)

	if !timeutil.Contains(localNow, start, end) {
		logger.Debug().
			Time("start", start).
			Time("end", end).
			Msg("Time conditions not met")
		return false
	}

	startHour := timeutil.StartOfHour(start)
	var window []Entry
	for _, e := range series {
		if !timeutil.StartOfHour(e.StartsAt).Before(startHour) && e.StartsAt.Before(end) {
			window = append(window, e)
		}
	}

	if len(window) == 0 {
		indeterminate("no prices available within the time frame")
		return false
	}

	if data.Latest == nil {
		indeterminate("latest price is unknown")
		return false
	}

	rank, ok := rankByTotal(window, data.Latest.StartsAt)
	if !ok {
		indeterminate("latest price not found within the time frame")
		return false
	}

	met := rank < opts.RankedHours
	logger.Debug().
		Float64("latest", data.Latest.Total).
		Int("rank", rank).
		Int("ranked_hours", opts.RankedHours).
		Time("start", start).
		Time("end", end).
		Bool("met", met).
		Msg("Time frame price condition evaluated")
	return met
}

// subsetForHours selects up to |hours| entries from the series: forward
// from now when hours is positive, backward (entries before the current
// hour) when negative. Fewer entries than |hours| is tolerated.
func subsetForHours(series []Entry, now time.Time, hours int) []Entry {
	nowHour := timeutil.StartOfHour(now)

	var filtered []Entry
	for _, e := range series {
		if hours > 0 {
			if e.StartsAt.After(now) {
				filtered = append(filtered, e)
			}
		} else {
			if timeutil.StartOfHour(e.StartsAt).Before(nowHour) {
				filtered = append(filtered, e)
			}
		}
	}

	return timeutil.TakeFromStartOrEnd(filtered, hours)
}

// rankByTotal stable-sorts entries ascending by total and returns the rank
// of the entry whose StartsAt exactly matches wanted. Identity matching by
// timestamp keeps ranking unambiguous when two entries share a total.
func rankByTotal(entries []Entry, wanted time.Time) (int, bool) {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Total < sorted[j].Total
	})

	for i, e := range sorted {
		if e.StartsAt.Equal(wanted) {
			return i, true
		}
	}
	return 0, false
}

func indeterminate(reason string) {
	metrics.ComparatorIndeterminate.Inc()
	logger.Debug().Str("reason", reason).Msg("Cannot determine price condition")
}
