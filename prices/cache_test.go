// Copyright (c) 2025 the homewatt authors
// Licensed under the MIT License

package prices

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/homewatt/homewatt/pkg/timeutil"
)

// fakeFetcher returns canned today/tomorrow series and counts calls.
type fakeFetcher struct {
	mu       sync.Mutex
	calls    int
	today    []Entry
	tomorrow []Entry
	err      error
}

func (f *fakeFetcher) FetchPriceInfo(ctx context.Context) ([]Entry, []Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.today, f.tomorrow, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testCache(f *fakeFetcher, now time.Time) *Cache {
	c := NewCache(f, oslo, timeutil.Clock{Hour: 13})
	c.now = func() time.Time { return now }
	return c
}

func TestCacheEmptyFetchesSynchronously(t *testing.T) {
	day := time.Date(2024, 3, 15, 0, 0, 0, 0, oslo)
	f := &fakeFetcher{today: hourlySeries(day, 1.0, 2.0)}
	c := testCache(f, day.Add(10*time.Hour))
	defer c.Stop()

	series, err := c.GetPrices(context.Background())
	if err != nil {
		t.Fatalf("GetPrices: %v", err)
	}
	if len(series) != 2 {
		t.Errorf("got %d entries, want 2", len(series))
	}
	if f.callCount() != 1 {
		t.Errorf("fetch count = %d, want 1", f.callCount())
	}
}

func TestCacheBeforeCutoffDoesNotSchedule(t *testing.T) {
	day := time.Date(2024, 3, 15, 0, 0, 0, 0, oslo)
	f := &fakeFetcher{today: hourlySeries(day, 1.0)}
	c := testCache(f, time.Date(2024, 3, 15, 12, 59, 0, 0, oslo))
	defer c.Stop()

	if _, err := c.GetPrices(context.Background()); err != nil {
		t.Fatalf("GetPrices: %v", err)
	}

	// Cache holds only today and it is before the publish cutoff: nothing
	// must be scheduled.
	if _, err := c.GetPrices(context.Background()); err != nil {
		t.Fatalf("GetPrices: %v", err)
	}

	c.mu.Lock()
	pending := c.refreshPending
	c.mu.Unlock()
	if pending {
		t.Error("refresh scheduled before the publish cutoff")
	}
	if f.callCount() != 1 {
		t.Errorf("fetch count = %d, want 1", f.callCount())
	}
}

func TestCacheAfterCutoffSchedulesOnce(t *testing.T) {
	day := time.Date(2024, 3, 15, 0, 0, 0, 0, oslo)
	f := &fakeFetcher{today: hourlySeries(day, 1.0)}
	c := testCache(f, time.Date(2024, 3, 15, 13, 1, 0, 0, oslo))
	defer c.Stop()

	// Keep the timer from firing during the test.
	c.delay = func(min, max time.Duration) time.Duration { return time.Hour }

	if _, err := c.GetPrices(context.Background()); err != nil {
		t.Fatalf("GetPrices: %v", err)
	}

	// Repeated polls after the cutoff must arm exactly one timer.
	for i := 0; i < 3; i++ {
		if _, err := c.GetPrices(context.Background()); err != nil {
			t.Fatalf("GetPrices: %v", err)
		}
	}

	c.mu.Lock()
	pending := c.refreshPending
	c.mu.Unlock()
	if !pending {
		t.Error("no refresh scheduled after the publish cutoff")
	}
	if f.callCount() != 1 {
		t.Errorf("fetch count = %d, want 1 (refresh must be deferred)", f.callCount())
	}
}

func TestCacheWithTomorrowDoesNotSchedule(t *testing.T) {
	day := time.Date(2024, 3, 15, 0, 0, 0, 0, oslo)
	f := &fakeFetcher{
		today:    hourlySeries(day, 1.0),
		tomorrow: hourlySeries(day.AddDate(0, 0, 1), 2.0),
	}
	c := testCache(f, time.Date(2024, 3, 15, 18, 0, 0, 0, oslo))
	defer c.Stop()

	if _, err := c.GetPrices(context.Background()); err != nil {
		t.Fatalf("GetPrices: %v", err)
	}
	if _, err := c.GetPrices(context.Background()); err != nil {
		t.Fatalf("GetPrices: %v", err)
	}

	c.mu.Lock()
	pending := c.refreshPending
	c.mu.Unlock()
	if pending {
		t.Error("refresh scheduled although tomorrow's prices are cached")
	}
}

func TestCacheRefreshKeepsYesterdayTail(t *testing.T) {
	day := time.Date(2024, 3, 15, 0, 0, 0, 0, oslo)
	yesterdayEntry := hourlySeries(day.Add(-2*time.Hour), 9.0, 9.5) // 22:00, 23:00 yesterday
	f := &fakeFetcher{today: hourlySeries(day, 1.0)}
	c := testCache(f, time.Date(2024, 3, 15, 13, 5, 0, 0, oslo))
	defer c.Stop()

	// Seed the cache with yesterday's tail plus today.
	c.mu.Lock()
	c.series = append(append([]Entry{}, yesterdayEntry...), hourlySeries(day, 1.0)...)
	c.mu.Unlock()

	f.mu.Lock()
	f.today = hourlySeries(day, 1.1)
	f.tomorrow = hourlySeries(day.AddDate(0, 0, 1), 2.0)
	f.mu.Unlock()

	c.delay = func(min, max time.Duration) time.Duration { return time.Millisecond }
	if _, err := c.GetPrices(context.Background()); err != nil {
		t.Fatalf("GetPrices: %v", err)
	}

	waitFor(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return !c.refreshPending
	})

	series, err := c.GetPrices(context.Background())
	if err != nil {
		t.Fatalf("GetPrices: %v", err)
	}
	if len(series) != 4 {
		t.Fatalf("got %d entries, want 4 (2 yesterday + 1 today + 1 tomorrow)", len(series))
	}
	if !series[0].StartsAt.Equal(yesterdayEntry[0].StartsAt) {
		t.Errorf("yesterday's tail was dropped, series starts at %v", series[0].StartsAt)
	}
	if series[2].Total != 1.1 {
		t.Errorf("today's entry was not replaced, total = %v", series[2].Total)
	}
}

func TestCacheFailedRefreshKeepsStaleData(t *testing.T) {
	day := time.Date(2024, 3, 15, 0, 0, 0, 0, oslo)
	f := &fakeFetcher{today: hourlySeries(day, 1.0)}
	c := testCache(f, time.Date(2024, 3, 15, 14, 0, 0, 0, oslo))
	defer c.Stop()

	if _, err := c.GetPrices(context.Background()); err != nil {
		t.Fatalf("GetPrices: %v", err)
	}

	f.mu.Lock()
	f.err = errors.New("provider unavailable")
	f.mu.Unlock()

	c.delay = func(min, max time.Duration) time.Duration { return time.Millisecond }
	if _, err := c.GetPrices(context.Background()); err != nil {
		t.Fatalf("GetPrices: %v", err)
	}

	waitFor(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return !c.refreshPending
	})

	series, err := c.GetPrices(context.Background())
	if err != nil {
		t.Fatalf("GetPrices after failed refresh: %v", err)
	}
	if len(series) != 1 || series[0].Total != 1.0 {
		t.Errorf("stale data lost after failed refresh: %+v", series)
	}
}

func TestCacheStopCancelsPendingRefresh(t *testing.T) {
	day := time.Date(2024, 3, 15, 0, 0, 0, 0, oslo)
	f := &fakeFetcher{today: hourlySeries(day, 1.0)}
	c := testCache(f, time.Date(2024, 3, 15, 14, 0, 0, 0, oslo))

	c.delay = func(min, max time.Duration) time.Duration { return 50 * time.Millisecond }
	if _, err := c.GetPrices(context.Background()); err != nil {
		t.Fatalf("GetPrices: %v", err)
	}

	c.Stop()
	c.Stop() // reentrant

	time.Sleep(100 * time.Millisecond)
	if f.callCount() != 1 {
		t.Errorf("fetch count = %d after Stop, want 1", f.callCount())
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}
