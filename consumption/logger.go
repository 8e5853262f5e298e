// Copyright (c) 2025 the homewatt authors
// Licensed under the MIT License

// Package consumption backfills settled consumption intervals into
// storage, tracking per-resolution watermarks so each interval is logged
// exactly once.
package consumption

import (
	"context"
	"sync"
	"time"

	"github.com/homewatt/homewatt/pkg/interfaces"
	"github.com/homewatt/homewatt/pkg/logger"
	"github.com/homewatt/homewatt/pkg/metrics"
	"github.com/homewatt/homewatt/pkg/timeutil"
	"github.com/homewatt/homewatt/tibber"
)

const (
	dailyWatermarkKey  = "last_logged_daily_consumption"
	hourlyWatermarkKey = "last_logged_hourly_consumption"

	// First run without watermarks backfills this much history.
	initialDaysToFetch  = 14
	initialHoursToFetch = 200

	// Scheduled fetches spread over this window so a fleet does not hit
	// the provider at the top of the hour.
	defaultMaxFetchDelay = 59 * time.Minute

	fetchTimeout = 5 * time.Minute
)

// Fetcher retrieves consumption history from the provider.
type Fetcher interface {
	GetConsumption(ctx context.Context, days, hours int) (tibber.ConsumptionData, error)
}

// Writer persists settled consumption nodes at a resolution.
type Writer interface {
	WriteConsumption(resolution string, nodes []tibber.ConsumptionNode) error
}

// Logger fetches and stores consumption data incrementally. Watermarks
// (the end timestamp of the newest logged interval per resolution) live
// in the settings store and survive restarts.
type Logger struct {
	fetcher       Fetcher
	writer        Writer
	settings      interfaces.SettingsStore
	maxFetchDelay time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	pending bool
	stopped bool

	// test hooks
	now   func() time.Time
	delay func(min, max time.Duration) time.Duration
}

// NewLogger creates a consumption logger. Nothing is fetched until
// Update is called.
func NewLogger(fetcher Fetcher, writer Writer, settings interfaces.SettingsStore) *Logger {
	return &Logger{
		fetcher:       fetcher,
		writer:        writer,
		settings:      settings,
		maxFetchDelay: defaultMaxFetchDelay,
		now:           time.Now,
		delay:         timeutil.RandomDelay,
	}
}

// SetMaxFetchDelay bounds the random delay before a scheduled fetch.
// A zero or negative value keeps the current bound.
func (l *Logger) SetMaxFetchDelay(d time.Duration) {
	if d <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.maxFetchDelay = d
}

// Update decides how much history is missing and fetches it. The very
// first run (no watermarks) fetches synchronously; a routine catch-up is
// deferred by a random delay. Already up-to-date data skips the fetch
// entirely.
func (l *Logger) Update(ctx context.Context) error {
	now := l.now()

	dailyWatermark, haveDaily := l.watermark(dailyWatermarkKey)
	hourlyWatermark, haveHourly := l.watermark(hourlyWatermarkKey)

	days := initialDaysToFetch
	if haveDaily {
		days = int(now.Sub(dailyWatermark).Hours() / 24)
	}
	hours := initialHoursToFetch
	if haveHourly {
		hours = int(now.Sub(hourlyWatermark).Hours())
	}

	logger.Debug().
		Int("days", days).
		Int("hours", hours).
		Msg("Consumption update")

	if !haveDaily || !haveHourly {
		return l.fetch(ctx, days, hours)
	}
	if days == 0 && hours == 0 {
		logger.Debug().Msg("Consumption data up to date, skipping fetch")
		return nil
	}

	l.schedule(days, hours)
	return nil
}

// Stop cancels any scheduled fetch.
func (l *Logger) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stopped = true
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.pending = false
}

func (l *Logger) watermark(key string) (time.Time, bool) {
	value, ok := l.settings.Get(key)
	if !ok || value == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		logger.Warn().Str("key", key).Str("value", value).Msg("Invalid consumption watermark, ignoring")
		return time.Time{}, false
	}
	return t, true
}

// schedule arms a one-shot deferred fetch. At most one is pending.
func (l *Logger) schedule(days, hours int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.pending || l.stopped {
		return
	}

	d := l.delay(0, l.maxFetchDelay)
	l.pending = true
	l.timer = time.AfterFunc(d, func() {
		l.mu.Lock()
		l.pending = false
		l.timer = nil
		stopped := l.stopped
		l.mu.Unlock()
		if stopped {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		if err := l.fetch(ctx, days, hours); err != nil {
			logger.Warn().Err(err).Msg("Scheduled consumption fetch failed")
		}
	})
	logger.Info().
		Dur("delay", d).
		Int("days", days).
		Int("hours", hours).
		Msg("Scheduled consumption fetch")
}

// fetch retrieves and persists the missing intervals.
func (l *Logger) fetch(ctx context.Context, days, hours int) error {
	data, err := l.fetcher.GetConsumption(ctx, days, hours)
	if err != nil {
		return err
	}

	if err := l.persist("daily", dailyWatermarkKey, data.Daily); err != nil {
		return err
	}
	return l.persist("hourly", hourlyWatermarkKey, data.Hourly)
}

// persist writes the settled nodes newer than the watermark and advances
// it to the newest logged interval.
func (l *Logger) persist(resolution, watermarkKey string, nodes []tibber.ConsumptionNode) error {
	watermark, haveWatermark := l.watermark(watermarkKey)

	var fresh []tibber.ConsumptionNode
	for _, node := range nodes {
		if node.Consumption == nil {
			continue
		}
		if haveWatermark && !node.To.After(watermark) {
			continue
		}
		fresh = append(fresh, node)
	}

	if len(fresh) == 0 {
		return nil
	}

	if err := l.writer.WriteConsumption(resolution, fresh); err != nil {
		return err
	}

	newest := fresh[len(fresh)-1].To
	for _, node := range fresh {
		if node.To.After(newest) {
			newest = node.To
		}
	}
	if err := l.settings.Set(watermarkKey, newest.Format(time.RFC3339)); err != nil {
		logger.Warn().Err(err).Str("key", watermarkKey).Msg("Storing consumption watermark failed")
	}

	metrics.ConsumptionNodesLogged.WithLabelValues(resolution).Add(float64(len(fresh)))
	logger.Info().
		Str("resolution", resolution).
		Int("nodes", len(fresh)).
		Time("watermark", newest).
		Msg("Consumption logged")
	return nil
}
