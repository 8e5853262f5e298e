// Copyright (c) 2025 the homewatt authors
// Licensed under the MIT License

package prices

import (
	"testing"
	"time"

	"github.com/homewatt/homewatt/pkg/timeutil"
)

var oslo = func() *time.Location {
	loc, err := time.LoadLocation("Europe/Oslo")
	if err != nil {
		panic(err)
	}
	return loc
}()

// hourlySeries builds a chronological series of one entry per hour starting
// at start, with the given totals.
func hourlySeries(start time.Time, totals ...float64) []Entry {
	entries := make([]Entry, len(totals))
	for i, total := range totals {
		entries[i] = Entry{
			StartsAt: start.Add(time.Duration(i) * time.Hour),
			Total:    total,
			Energy:   total * 0.8,
			Tax:      total * 0.2,
			Level:    LevelNormal,
		}
	}
	return entries
}

func intPtr(v int) *int { return &v }

func TestAveragePrice_BelowToday(t *testing.T) {
	day := time.Date(2024, 3, 15, 0, 0, 0, 0, oslo)
	series := hourlySeries(day, 1.0, 1.0, 0.5, 1.0)
	now := day.Add(2*time.Hour + 30*time.Minute)
	data := Snapshot(series, now, oslo)

	// Latest is 0.5 against a 0.875 average: about 43% below.
	if !AveragePrice(series, data, now, AveragePriceOptions{Percentage: 20}, true) {
		t.Error("0.5 should be more than 20% below the day average")
	}
	if AveragePrice(series, data, now, AveragePriceOptions{Percentage: 50}, true) {
		t.Error("0.5 is not more than 50% below the day average")
	}
	if AveragePrice(series, data, now, AveragePriceOptions{Percentage: 20}, false) {
		t.Error("a below-average price cannot satisfy an above-average condition")
	}
}

func TestAveragePrice_FutureHours(t *testing.T) {
	day := time.Date(2024, 3, 15, 0, 0, 0, 0, oslo)
	series := hourlySeries(day, 2.0, 1.0, 1.0, 1.0, 1.0)
	now := day.Add(30 * time.Minute) // latest is the 2.0 entry
	data := Snapshot(series, now, oslo)

	// Average over the next 4 hours is 1.0; latest 2.0 is 100% above.
	if !AveragePrice(series, data, now, AveragePriceOptions{Hours: intPtr(4), Percentage: 50}, false) {
		t.Error("2.0 should be more than 50% above the next-hours average")
	}
}

func TestAveragePrice_ZeroHours(t *testing.T) {
	day := time.Date(2024, 3, 15, 0, 0, 0, 0, oslo)
	series := hourlySeries(day, 1.0, 2.0)
	now := day.Add(30 * time.Minute)
	data := Snapshot(series, now, oslo)

	if AveragePrice(series, data, now, AveragePriceOptions{Hours: intPtr(0), Percentage: 0}, true) {
		t.Error("a zero-hour window must short-circuit to false")
	}
}

func TestAveragePrice_EmptySubset(t *testing.T) {
	day := time.Date(2024, 3, 15, 0, 0, 0, 0, oslo)
	series := hourlySeries(day, 1.0)
	// Now is past the whole series, so a forward-looking subset is empty.
	now := day.Add(5 * time.Hour)
	data := Snapshot(series, now, oslo)

	if AveragePrice(series, data, now, AveragePriceOptions{Hours: intPtr(3), Percentage: 0}, true) {
		t.Error("an empty subset must evaluate to false, not fail")
	}
}

func TestAveragePrice_UnknownLatest(t *testing.T) {
	day := time.Date(2024, 3, 15, 0, 0, 0, 0, oslo)
	series := hourlySeries(day, 1.0, 2.0, 3.0)
	// Now is outside every entry's hour, so there is no latest price.
	now := day.Add(-2 * time.Hour)
	data := Snapshot(series, now, oslo)

	if data.Latest != nil {
		t.Fatal("test setup: latest should be unknown")
	}
	if AveragePrice(series, data, now, AveragePriceOptions{Hours: intPtr(2), Percentage: 0}, true) {
		t.Error("unknown latest price must evaluate to false")
	}
}

func TestSubsetForHours_ForwardProperties(t *testing.T) {
	day := time.Date(2024, 3, 15, 0, 0, 0, 0, oslo)
	series := hourlySeries(day, 1, 2, 3, 4, 5, 6, 7, 8)
	now := day.Add(3*time.Hour + 15*time.Minute)

	for _, hours := range []int{1, 3, 5, 20} {
		subset := subsetForHours(series, now, hours)
		if len(subset) > hours {
			t.Errorf("hours=%d: subset size %d exceeds hours", hours, len(subset))
		}
		for _, e := range subset {
			if !e.StartsAt.After(now) {
				t.Errorf("hours=%d: entry at %v is not strictly after now %v", hours, e.StartsAt, now)
			}
		}
	}
}

func TestSubsetForHours_Backward(t *testing.T) {
	day := time.Date(2024, 3, 15, 0, 0, 0, 0, oslo)
	series := hourlySeries(day, 1, 2, 3, 4, 5)
	now := day.Add(3*time.Hour + 15*time.Minute)

	subset := subsetForHours(series, now, -2)
	if len(subset) != 2 {
		t.Fatalf("subset size = %d, want 2", len(subset))
	}
	// The two hours immediately before the current hour, excluding the
	// current hour itself.
	if subset[0].Total != 2 || subset[1].Total != 3 {
		t.Errorf("subset totals = %v, %v, want 2, 3", subset[0].Total, subset[1].Total)
	}
}

func TestMinMaxPrice_BoundaryEquality(t *testing.T) {
	day := time.Date(2024, 3, 15, 0, 0, 0, 0, oslo)
	series := hourlySeries(day, 0.5, 1.0, 1.5)

	// Latest is the 0.5 entry, exactly the minimum.
	now := day.Add(15 * time.Minute)
	data := Snapshot(series, now, oslo)
	if !MinMaxPrice(series, data, now, MinMaxPriceOptions{}, true) {
		t.Error("latest equal to today's minimum must satisfy the lowest condition")
	}
	if MinMaxPrice(series, data, now, MinMaxPriceOptions{}, false) {
		t.Error("today's minimum cannot satisfy the highest condition")
	}

	// Latest is the 1.5 entry, exactly the maximum.
	now = day.Add(2*time.Hour + 15*time.Minute)
	data = Snapshot(series, now, oslo)
	if !MinMaxPrice(series, data, now, MinMaxPriceOptions{}, false) {
		t.Error("latest equal to today's maximum must satisfy the highest condition")
	}
}

func TestMinMaxPrice_Ranked(t *testing.T) {
	day := time.Date(2024, 3, 15, 0, 0, 0, 0, oslo)
	series := hourlySeries(day, 0.9, 0.3, 0.7, 0.5, 1.1, 1.3)

	// Latest is 0.5, the second cheapest of the day.
	now := day.Add(3*time.Hour + 10*time.Minute)
	data := Snapshot(series, now, oslo)

	if !MinMaxPrice(series, data, now, MinMaxPriceOptions{RankedHours: intPtr(2)}, true) {
		t.Error("second cheapest hour should be among the 2 lowest")
	}
	if MinMaxPrice(series, data, now, MinMaxPriceOptions{RankedHours: intPtr(1)}, true) {
		t.Error("second cheapest hour should not be among the 1 lowest")
	}
	if MinMaxPrice(series, data, now, MinMaxPriceOptions{RankedHours: intPtr(2)}, false) {
		t.Error("second cheapest hour should not be among the 2 highest")
	}
	if !MinMaxPrice(series, data, now, MinMaxPriceOptions{RankedHours: intPtr(5)}, false) {
		t.Error("with 5 ranked hours of 6 the second cheapest counts as highest too")
	}
}

func TestMinMaxPrice_RankedIdentityWithDuplicateTotals(t *testing.T) {
	day := time.Date(2024, 3, 15, 0, 0, 0, 0, oslo)
	// Two entries share the same total; ranking must locate latest by
	// exact StartsAt identity, never by numeric proximity.
	series := hourlySeries(day, 0.5, 0.5, 1.0)

	now := day.Add(1*time.Hour + 5*time.Minute) // latest is the second 0.5
	data := Snapshot(series, now, oslo)

	if data.Latest == nil || !data.Latest.StartsAt.Equal(day.Add(time.Hour)) {
		t.Fatal("test setup: latest should be the second entry")
	}

	// Stable sort keeps the first 0.5 at rank 0, the latest at rank 1.
	if MinMaxPrice(series, data, now, MinMaxPriceOptions{RankedHours: intPtr(1)}, true) {
		t.Error("the second duplicate must rank behind the first, outside the 1 lowest")
	}
	if !MinMaxPrice(series, data, now, MinMaxPriceOptions{RankedHours: intPtr(2)}, true) {
		t.Error("the second duplicate should be within the 2 lowest")
	}
}

func TestMinMaxPrice_RankNotFound(t *testing.T) {
	day := time.Date(2024, 3, 15, 0, 0, 0, 0, oslo)
	series := hourlySeries(day, 1, 2, 3, 4)
	now := day.Add(10 * time.Minute)
	data := Snapshot(series, now, oslo)

	// A truncated forward subset cannot contain the current hour, so the
	// rank lookup legitimately fails and the condition is not met.
	if MinMaxPrice(series, data, now, MinMaxPriceOptions{Hours: intPtr(2), RankedHours: intPtr(2)}, true) {
		t.Error("latest outside the subset must evaluate to false")
	}
}

func TestMinMaxPrice_ZeroRankedHours(t *testing.T) {
	day := time.Date(2024, 3, 15, 0, 0, 0, 0, oslo)
	series := hourlySeries(day, 1, 2)
	now := day.Add(10 * time.Minute)
	data := Snapshot(series, now, oslo)

	if MinMaxPrice(series, data, now, MinMaxPriceOptions{RankedHours: intPtr(0)}, true) {
		t.Error("zero ranked hours must short-circuit to false")
	}
}

func TestLowestPricesWithinTimeFrame_MidnightWrap(t *testing.T) {
	// Overnight window 23:00-06:00, evaluated at 02:00: the window must
	// span 23:00 yesterday through 05:59 today.
	yesterday := time.Date(2024, 3, 14, 0, 0, 0, 0, oslo)
	series := hourlySeries(yesterday.Add(22*time.Hour), // 22:00 yesterday
		2.0, // 22:00 yesterday, outside the window
		0.4, // 23:00 yesterday
		0.6, // 00:00 today
		0.5, // 01:00
		0.3, // 02:00 <- latest
		0.8, // 03:00
		0.9, // 04:00
		1.0, // 05:00
		0.1, // 06:00 today, outside the window
	)
	now := time.Date(2024, 3, 15, 2, 0, 0, 0, oslo)
	data := Snapshot(series, now, oslo)

	opts := TimeFrameOptions{
		RankedHours: 3,
		StartTime:   timeutil.Clock{Hour: 23},
		EndTime:     timeutil.Clock{Hour: 6},
	}

	// 02:00 at 0.3 is the cheapest within the window; the cheaper 06:00
	// entry must not be considered.
	if !LowestPricesWithinTimeFrame(series, data, now, opts, oslo) {
		t.Error("02:00 should be among the 3 lowest in the 23:00-06:00 window")
	}

	opts.RankedHours = 1
	if !LowestPricesWithinTimeFrame(series, data, now, opts, oslo) {
		t.Error("02:00 should be the single lowest in the window")
	}
}

func TestLowestPricesWithinTimeFrame_OutsideWindow(t *testing.T) {
	day := time.Date(2024, 3, 15, 0, 0, 0, 0, oslo)
	series := hourlySeries(day, 1, 2, 3)
	now := day.Add(12 * time.Hour)
	data := Snapshot(series, now, oslo)

	opts := TimeFrameOptions{
		RankedHours: 2,
		StartTime:   timeutil.Clock{Hour: 23},
		EndTime:     timeutil.Clock{Hour: 6},
	}

	if LowestPricesWithinTimeFrame(series, data, now, opts, oslo) {
		t.Error("midday is outside an overnight window")
	}
}

func TestLowestPricesWithinTimeFrame_NotCheapEnough(t *testing.T) {
	day := time.Date(2024, 3, 15, 0, 0, 0, 0, oslo)
	series := hourlySeries(day, 0.2, 0.3, 0.9, 0.1)
	now := day.Add(2*time.Hour + 30*time.Minute) // latest is 0.9
	data := Snapshot(series, now, oslo)

	opts := TimeFrameOptions{
		RankedHours: 2,
		StartTime:   timeutil.Clock{Hour: 0},
		EndTime:     timeutil.Clock{Hour: 4},
	}

	if LowestPricesWithinTimeFrame(series, data, now, opts, oslo) {
		t.Error("the most expensive hour cannot be among the 2 lowest")
	}
}

func TestSnapshotExtremes(t *testing.T) {
	day := time.Date(2024, 3, 15, 0, 0, 0, 0, oslo)
	yesterday := hourlySeries(day.AddDate(0, 0, -1).Add(23*time.Hour), 9.9)
	series := append(yesterday, hourlySeries(day, 0.7, 0.2, 1.4)...)
	now := day.Add(90 * time.Minute)

	data := Snapshot(series, now, oslo)

	if len(data.Today) != 3 {
		t.Fatalf("today has %d entries, want 3", len(data.Today))
	}
	if data.Latest == nil || data.Latest.Total != 0.2 {
		t.Errorf("latest = %+v, want the 01:00 entry", data.Latest)
	}
	if data.LowestToday == nil || data.LowestToday.Total != 0.2 {
		t.Errorf("lowestToday = %+v, want 0.2", data.LowestToday)
	}
	if data.HighestToday == nil || data.HighestToday.Total != 1.4 {
		t.Errorf("highestToday = %+v, want 1.4", data.HighestToday)
	}
}
