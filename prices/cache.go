// Copyright (c) 2025 the homewatt authors
// Licensed under the MIT License

package prices

import (
	"context"
	"sync"
	"time"

	"github.com/homewatt/homewatt/pkg/logger"
	"github.com/homewatt/homewatt/pkg/metrics"
	"github.com/homewatt/homewatt/pkg/timeutil"
)

const (
	// defaultMaxRefreshDelay bounds the random delay before a scheduled
	// refresh. Spreading refreshes over the window after the publish
	// cutoff keeps many homes from hitting the provider at once.
	defaultMaxRefreshDelay = 50 * time.Minute

	refreshFetchTimeout = 5 * time.Minute
)

// Fetcher retrieves fresh today/tomorrow price entries from the provider.
type Fetcher interface {
	FetchPriceInfo(ctx context.Context) (today, tomorrow []Entry, err error)
}

// Cache holds the known hourly price series and decides when a refresh is
// due. Refreshes are derived from cache content rather than a fixed polling
// interval, which keeps the cache correct across restarts and clock drift.
type Cache struct {
	fetcher         Fetcher
	loc             *time.Location
	cutoff          timeutil.Clock
	maxRefreshDelay time.Duration

	mu             sync.Mutex
	series         []Entry
	refreshTimer   *time.Timer
	refreshPending bool
	stopped        bool

	// test hooks
	now   func() time.Time
	delay func(min, max time.Duration) time.Duration
}

// NewCache creates an empty price cache. cutoff is the provider's daily
// publish cutoff in loc (the provider's reference timezone).
func NewCache(fetcher Fetcher, loc *time.Location, cutoff timeutil.Clock) *Cache {
	return &Cache{
		fetcher:         fetcher,
		loc:             loc,
		cutoff:          cutoff,
		maxRefreshDelay: defaultMaxRefreshDelay,
		now:             time.Now,
		delay:           timeutil.RandomDelay,
	}
}

// SetMaxRefreshDelay bounds the random delay before a scheduled refresh.
// A zero or negative value keeps the current bound.
func (c *Cache) SetMaxRefreshDelay(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxRefreshDelay = d
}

// GetPrices returns the currently cached series. It never blocks on the
// network except on the very first call when the cache is empty. When a
// refresh is due it schedules a one-shot background refresh after a random
// delay instead of fetching inline.
func (c *Cache) GetPrices(ctx context.Context) ([]Entry, error) {
	c.mu.Lock()

	if len(c.series) == 0 {
		c.mu.Unlock()
		logger.Info().Msg("No prices cached, fetching immediately")
		series, err := c.fetch(ctx)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.series = series
		metrics.CachedPriceEntries.Set(float64(len(c.series)))
		out := c.snapshotLocked()
		c.mu.Unlock()
		return out, nil
	}

	now := c.now()
	if c.needsRefreshLocked(now) {
		c.scheduleRefreshLocked()
	}

	out := c.snapshotLocked()
	c.mu.Unlock()
	return out, nil
}

// Stop cancels any pending refresh timer. It is safe to call multiple
// times; after Stop no scheduled refresh will fire.
func (c *Cache) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopped = true
	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
		c.refreshTimer = nil
	}
	c.refreshPending = false
}

// needsRefreshLocked reports whether fresh prices should be requested: the
// last cached entry's calendar day is before tomorrow and the publish
// cutoff has passed. Polling before the cutoff would reliably return stale
// data and waste a round trip.
func (c *Cache) needsRefreshLocked(now time.Time) bool {
	if len(c.series) == 0 {
		return true
	}

	last := c.series[len(c.series)-1]
	lastDay := timeutil.StartOfDay(last.StartsAt, c.loc)
	tomorrow := timeutil.StartOfDay(now, c.loc).AddDate(0, 0, 1)
	if !lastDay.Before(tomorrow) {
		return false
	}

	cutoffAt := c.cutoff.On(now, c.loc)
	return now.After(cutoffAt)
}

// scheduleRefreshLocked arms the one-shot refresh timer. At most one
// refresh timer is pending per cache; concurrent triggers are idempotent.
func (c *Cache) scheduleRefreshLocked() {
	if c.refreshPending || c.stopped {
		return
	}

	d := c.delay(0, c.maxRefreshDelay)
	c.refreshPending = true
	c.refreshTimer = time.AfterFunc(d, c.refresh)
	metrics.PriceRefreshesScheduled.Inc()
	logger.Info().Dur("delay", d).Msg("New prices expected, scheduled refresh")
}

// refresh runs when the scheduled timer fires. A failed fetch is logged
// and the cache keeps serving stale data; the next needsRefresh evaluation
// will schedule again.
func (c *Cache) refresh() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), refreshFetchTimeout)
	defer cancel()

	series, err := c.fetch(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshPending = false
	c.refreshTimer = nil

	if err != nil {
		logger.Warn().Err(err).Msg("Scheduled price refresh failed, keeping stale prices")
		return
	}
	if c.stopped {
		return
	}

	c.series = series
	metrics.CachedPriceEntries.Set(float64(len(c.series)))
	logger.Info().Int("entries", len(c.series)).Msg("Price cache refreshed")
}

// fetch retrieves fresh today/tomorrow entries and prepends the trailing
// window of yesterday's entries already held, preserving continuity for
// comparators spanning midnight. The result replaces the series wholesale,
// keeping the cache bounded.
func (c *Cache) fetch(ctx context.Context) ([]Entry, error) {
	now := c.now()
	startOfToday := timeutil.StartOfDay(now, c.loc)
	startOfYesterday := startOfToday.AddDate(0, 0, -1)

	c.mu.Lock()
	var yesterday []Entry
	for _, e := range c.series {
		if !e.StartsAt.Before(startOfYesterday) && e.StartsAt.Before(startOfToday) {
			yesterday = append(yesterday, e)
		}
	}
	c.mu.Unlock()

	start := time.Now()
	today, tomorrow, err := c.fetcher.FetchPriceInfo(ctx)
	metrics.PriceFetchDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.PriceFetchErrors.Inc()
		return nil, err
	}
	metrics.PriceFetchesTotal.Inc()

	merged := make([]Entry, 0, len(yesterday)+len(today)+len(tomorrow))
	merged = append(merged, yesterday...)
	merged = append(merged, today...)
	merged = append(merged, tomorrow...)
	return merged, nil
}

// snapshotLocked copies the series so callers never observe a refresh
// mutating it underneath them.
func (c *Cache) snapshotLocked() []Entry {
	out := make([]Entry, len(c.series))
	copy(out, c.series)
	return out
}
