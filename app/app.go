// Copyright (c) 2025 the homewatt authors
// Licensed under the MIT License

// Package app wires the homewatt components together: the provider
// client, the price cache, the live measurement stream, the consumption
// logger and InfluxDB storage, plus the metrics/health HTTP listener.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/homewatt/homewatt/config"
	"github.com/homewatt/homewatt/consumption"
	"github.com/homewatt/homewatt/live"
	hwerrors "github.com/homewatt/homewatt/pkg/errors"
	"github.com/homewatt/homewatt/pkg/logger"
	"github.com/homewatt/homewatt/pkg/metrics"
	"github.com/homewatt/homewatt/pkg/pushnotifier"
	"github.com/homewatt/homewatt/pkg/timeutil"
	"github.com/homewatt/homewatt/prices"
	"github.com/homewatt/homewatt/settings"
	"github.com/homewatt/homewatt/storage"
	"github.com/homewatt/homewatt/tibber"
)

const (
	signalChannelSize     = 1
	alertContextTimeout   = 5 * time.Second
	readinessCheckTimeout = 2 * time.Second
	shutdownTimeout       = 5 * time.Second
	flushTimeout          = 10 * time.Second
	updateTimeout         = 5 * time.Minute

	// A failed hourly update retries after a short random wait instead
	// of sitting out the rest of the hour.
	updateRetryMax = 5 * time.Minute

	// The live feed delivers roughly one measurement per second; storage
	// keeps one point per interval. Gauges still update on every message.
	liveWriteInterval = 10 * time.Second
)

// App represents the main application
type App struct {
	cfg           *config.Config
	server        *http.Server
	store         *settings.Store
	client        *tibber.Client
	cache         *prices.Cache
	manager       *live.Manager
	consumption   *consumption.Logger
	influxDB      *storage.InfluxDBStorage
	notifier      *pushnotifier.Notifier
	configWatcher *config.Watcher

	// lastPriceWrite is the hour of the most recent price point written
	// to storage. Only touched from the update loop goroutine.
	lastPriceWrite time.Time

	// lastMeasurementWrite throttles live writes. Only touched from the
	// stream's delivery goroutine.
	lastMeasurementWrite time.Time

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new application instance
func New(cfg *config.Config, configWatcher *config.Watcher) (*App, error) {
	app := &App{
		cfg:           cfg,
		configWatcher: configWatcher,
	}

	if err := app.initializeComponents(); err != nil {
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	return app, nil
}

// initializeComponents initializes all application components
func (a *App) initializeComponents() error {
	store, err := settings.Open(a.cfg.Settings.Dir)
	if err != nil {
		return fmt.Errorf("failed to open settings store: %w", err)
	}
	a.store = store

	a.client = tibber.NewClient(store, a.cfg.Provider.HomeID, a.cfg.Provider.APIURL, a.cfg.Provider.UserAgent)

	// The token normally lives in the settings store; the environment
	// variable seeds or rotates it on startup.
	if token := os.Getenv("TIBBER_TOKEN"); token != "" {
		if err := a.client.SetToken(token); err != nil {
			return fmt.Errorf("failed to store access token: %w", err)
		}
		logger.Info().Msg("Access token taken from TIBBER_TOKEN")
	}

	a.influxDB, err = storage.NewInfluxDBStorage(
		a.cfg.InfluxDB.URL,
		a.cfg.InfluxDB.Token,
		a.cfg.InfluxDB.Organization,
		a.cfg.InfluxDB.Bucket,
		a.cfg.Provider.HomeID,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize InfluxDB: %w", err)
	}

	a.cache = prices.NewCache(a.client, a.cfg.Location(), a.cfg.Cutoff())
	a.cache.SetMaxRefreshDelay(a.cfg.Provider.RefreshMaxDelay)

	a.notifier = pushnotifier.New(a.client, a.cfg.Notifications.PushEnabled)
	if a.notifier.IsEnabled() {
		logger.Info().Msg("Push notifications enabled")
	} else {
		logger.Info().Msg("Push notifications disabled")
	}

	a.consumption = consumption.NewLogger(a.client, a.influxDB, store)
	a.consumption.SetMaxFetchDelay(a.cfg.Consumption.MaxFetchDelay)

	a.manager = live.NewManager(a.client, a.handleMeasurement, live.Config{
		SilenceWindow:    a.cfg.Live.SilenceWindow,
		SilenceJitterMax: a.cfg.Live.SilenceJitterMax,
		BackoffMin:       a.cfg.Live.BackoffMin,
		BackoffMax:       a.cfg.Live.BackoffMax,
		UserAgent:        a.cfg.Provider.UserAgent,
	})

	// Rate limiters keep the unauthenticated health endpoints cheap.
	healthLimiter := rate.NewLimiter(10, 20)
	readyLimiter := rate.NewLimiter(10, 20)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", rateLimitMiddleware(healthLimiter, healthCheckHandler))
	mux.HandleFunc("/ready", rateLimitMiddleware(readyLimiter, func(w http.ResponseWriter, r *http.Request) {
		readinessCheckHandler(w, r, a.influxDB)
	}))

	a.server = &http.Server{
		Addr:    a.cfg.Metrics.ListenAddress,
		Handler: mux,
	}

	return nil
}

// Run starts the application and blocks until shutdown
func (a *App) Run(configChan <-chan *config.Config) {
	ctx, cancel := context.WithCancel(context.Background())
	a.ctx = ctx
	a.cancel = cancel
	defer a.cancel()

	a.configWatcher.Start(ctx)

	a.startMetricsServer()
	a.setupSignalHandler()
	a.startConfigWatcher(configChan)
	a.startLiveStream()
	a.runUpdateLoop(ctx)
}

// Stop initiates a graceful shutdown; Run returns once it completes.
func (a *App) Stop() {
	a.performGracefulShutdown()
}

// handleMeasurement processes one live meter reading. It runs on the
// stream's read loop, so it must stay quick.
func (a *App) handleMeasurement(m live.Measurement) {
	if m.Power != nil {
		metrics.CurrentPower.Set(*m.Power)
	}

	if m.Timestamp.Sub(a.lastMeasurementWrite) < liveWriteInterval {
		return
	}
	if err := a.influxDB.WriteMeasurement(m); err != nil {
		logger.Error().Err(err).Time("timestamp", m.Timestamp).
			Msg("Failed to write live measurement")
		return
	}
	a.lastMeasurementWrite = m.Timestamp
}

// startLiveStream opens the live subscription when enabled. A failed
// start is logged; the manager's own backoff handles later retries once
// it gets going, but an endpoint that reports real-time disabled stays
// down until the next restart.
func (a *App) startLiveStream() {
	if !a.cfg.Live.Enabled {
		logger.Info().Msg("Live measurement stream disabled")
		return
	}
	if err := a.manager.Start(); err != nil {
		logger.Error().Err(err).Msg("Failed to start live measurement stream")
	}
}

// startMetricsServer starts the HTTP server for metrics and health checks
func (a *App) startMetricsServer() {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger.Info().Str("addr", a.server.Addr).Msg("Starting metrics and health check server")
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()
}

// setupSignalHandler sets up graceful shutdown on interrupt signals
func (a *App) setupSignalHandler() {
	sigChan := make(chan os.Signal, signalChannelSize)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		a.performGracefulShutdown()
	}()
}

// runUpdateLoop runs the hourly price and consumption update. The first
// update fires immediately; afterwards the loop wakes at the top of each
// hour, or earlier after a failure.
func (a *App) runUpdateLoop(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Shutting down")
			a.performCleanup()
			return
		case <-timer.C:
			if ctx.Err() != nil {
				return
			}
			timer.Reset(a.updateData(ctx))
		}
	}
}

// updateData refreshes prices and consumption and returns the wait until
// the next run.
func (a *App) updateData(ctx context.Context) time.Duration {
	now := time.Now().In(a.cfg.Location())

	updateCtx, cancel := context.WithTimeout(ctx, updateTimeout)
	defer cancel()

	series, err := a.cache.GetPrices(updateCtx)
	if err != nil {
		return a.handleUpdateError(err)
	}

	snapshot := prices.Snapshot(series, now, a.cfg.Location())
	if snapshot.Latest != nil {
		metrics.CurrentPriceTotal.Set(snapshot.Latest.Total)
		metrics.CurrentPriceLevel.Set(float64(snapshot.Latest.Level))
		a.storeCurrentPrice(*snapshot.Latest)
	} else {
		logger.Warn().Time("now", now).Msg("No cached price for the current hour")
	}

	if a.cfg.Consumption.Enabled {
		if err := a.consumption.Update(updateCtx); err != nil {
			return a.handleUpdateError(err)
		}
	}

	wait := time.Until(timeutil.StartOfHour(now).Add(time.Hour))
	if wait < time.Second {
		wait = time.Second
	}
	return wait
}

// storeCurrentPrice writes the current hour's price point once per hour.
func (a *App) storeCurrentPrice(e prices.Entry) {
	if timeutil.SameHour(a.lastPriceWrite, e.StartsAt) {
		return
	}
	if err := a.influxDB.WritePrice(e); err != nil {
		logger.Error().Err(err).Msg("Failed to write price point")
		return
	}
	a.lastPriceWrite = e.StartsAt
}

// handleUpdateError classifies an update failure, alerts the user for
// conditions needing action, and returns the retry delay.
func (a *App) handleUpdateError(err error) time.Duration {
	switch {
	case errors.Is(err, hwerrors.ErrTokenNotSet):
		logger.Warn().Msg("Access token not set; store it via settings or the TIBBER_TOKEN environment variable")
	case hwerrors.IsAuthError(err):
		a.sendAlert("Access token rejected",
			"The energy provider rejected the access token. Generate a new token and update it.")
	case hwerrors.IsHomeNotFoundError(err):
		a.sendAlert("Home not found",
			"The configured home is no longer available on this account.")
	}

	retry := timeutil.RandomDelay(0, updateRetryMax)
	logger.Warn().Err(err).Dur("retry_in", retry).Msg("Update failed")
	return retry
}

// sendAlert pushes an alert without blocking the update loop for long.
func (a *App) sendAlert(title, message string) {
	if !a.notifier.IsEnabled() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), alertContextTimeout)
	defer cancel()
	if err := a.notifier.SendAlert(ctx, title, message); err != nil {
		logger.Error().Err(err).Str("title", title).Msg("Failed to send push alert")
	}
}

// DumpApplicationState dumps current application state to logs
func (a *App) DumpApplicationState() {
	logger.Info().Msg("=== APPLICATION STATE DUMP (SIGUSR1) ===")

	logger.Info().
		Str("home_id", a.cfg.Provider.HomeID).
		Bool("live_enabled", a.cfg.Live.Enabled).
		Bool("consumption_enabled", a.cfg.Consumption.Enabled).
		Bool("push_enabled", a.notifier.IsEnabled()).
		Msg("Configuration")

	dailyWatermark, _ := a.store.Get("last_logged_daily_consumption")
	hourlyWatermark, _ := a.store.Get("last_logged_hourly_consumption")
	logger.Info().
		Str("daily_watermark", dailyWatermark).
		Str("hourly_watermark", hourlyWatermark).
		Time("last_price_write", a.lastPriceWrite).
		Msg("Logging state")

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	logger.Info().
		Uint64("alloc_mb", m.Alloc/1024/1024).
		Uint64("total_alloc_mb", m.TotalAlloc/1024/1024).
		Uint32("num_gc", m.NumGC).
		Int("num_goroutines", runtime.NumGoroutine()).
		Msg("Runtime statistics")

	logger.Info().Msg("=== END STATE DUMP ===")
}

// DumpGoroutineStackTraces dumps all goroutine stack traces to logs
func DumpGoroutineStackTraces() {
	logger.Info().Msg("=== GOROUTINE STACK TRACES (SIGUSR2) ===")
	logger.Info().Int("num_goroutines", runtime.NumGoroutine()).Msg("Current goroutine count")

	buf := make([]byte, 1024*1024) // 1MB buffer
	stackLen := runtime.Stack(buf, true)
	logger.Info().Str("stack_traces", string(buf[:stackLen])).Msg("Full stack trace")

	logger.Info().Msg("=== END STACK TRACES ===")
}

// performGracefulShutdown handles graceful shutdown of all components
func (a *App) performGracefulShutdown() {
	logger.Info().Msg("Initiating graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	} else {
		logger.Info().Msg("HTTP server stopped")
	}

	a.manager.Destroy()
	a.cache.Stop()
	a.consumption.Stop()
	a.configWatcher.Stop()
	a.cancel()
}

// performCleanup flushes storage and waits for goroutines to finish
func (a *App) performCleanup() {
	flushCtx, flushCancel := context.WithTimeout(context.Background(), flushTimeout)
	defer flushCancel()

	flushDone := make(chan struct{})
	go func() {
		a.influxDB.Close()
		close(flushDone)
	}()

	select {
	case <-flushDone:
		logger.Info().Msg("InfluxDB flush completed")
	case <-flushCtx.Done():
		logger.Warn().Msg("InfluxDB flush timeout - some data may be lost")
	}

	logger.Info().Msg("Waiting for goroutines to finish...")
	a.wg.Wait()
	logger.Info().Msg("All goroutines finished, exiting")
}

// UpdateConfig updates the application's configuration.
func (a *App) UpdateConfig(newCfg *config.Config) {
	a.cfg = newCfg
	logger.Info().Msg("Application configuration updated")

	// Reconfigure components that depend on dynamic config values
	a.notifier.SetEnabled(newCfg.Notifications.PushEnabled)
	a.cache.SetMaxRefreshDelay(newCfg.Provider.RefreshMaxDelay)
	a.consumption.SetMaxFetchDelay(newCfg.Consumption.MaxFetchDelay)
}

// startConfigWatcher starts a goroutine to listen for config file changes and reloads
func (a *App) startConfigWatcher(configChan <-chan *config.Config) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-a.ctx.Done():
				logger.Info().Msg("Config watcher goroutine shutting down")
				return
			case newCfg := <-configChan:
				a.UpdateConfig(newCfg)
			}
		}
	}()
}

// healthChecker is the slice of storage the readiness probe needs.
type healthChecker interface {
	Health(ctx context.Context) error
}

// rateLimitMiddleware wraps an HTTP handler with rate limiting
func rateLimitMiddleware(limiter *rate.Limiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			logger.Warn().
				Str("path", r.URL.Path).
				Str("remote_addr", r.RemoteAddr).
				Msg("Rate limit exceeded for health endpoint")
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

// healthCheckHandler handles health check requests
func healthCheckHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, writeErr := w.Write([]byte("OK")); writeErr != nil {
		logger.Error().Err(writeErr).Msg("Failed to write health check response")
	}
}

// readinessCheckHandler handles readiness check requests
func readinessCheckHandler(w http.ResponseWriter, _ *http.Request, db healthChecker) {
	ctx, cancel := context.WithTimeout(context.Background(), readinessCheckTimeout)
	defer cancel()

	if err := db.Health(ctx); err != nil {
		logger.Warn().Err(err).Msg("Readiness check failed: InfluxDB unhealthy")
		w.WriteHeader(http.StatusServiceUnavailable)
		if _, writeErr := w.Write([]byte("NOT READY: InfluxDB unhealthy")); writeErr != nil {
			logger.Error().Err(writeErr).Msg("Failed to write readiness check response")
		}
		return
	}

	w.WriteHeader(http.StatusOK)
	if _, writeErr := w.Write([]byte("READY")); writeErr != nil {
		logger.Error().Err(writeErr).Msg("Failed to write readiness check response")
	}
}
