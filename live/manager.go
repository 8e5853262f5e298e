// Copyright (c) 2025 the homewatt authors
// Licensed under the MIT License

package live

import (
	"context"
	"errors"
	"sync"
	"time"

	hwerrors "github.com/homewatt/homewatt/pkg/errors"
	"github.com/homewatt/homewatt/pkg/logger"
	"github.com/homewatt/homewatt/pkg/metrics"
	"github.com/homewatt/homewatt/pkg/timeutil"
)

const (
	defaultSilenceWindow    = 10 * time.Minute
	defaultSilenceJitterMax = 10 * time.Second
	defaultBackoffMin       = 5 * time.Second
	defaultBackoffMax       = 120 * time.Second

	endpointFetchTimeout = time.Minute
)

// Endpoint is everything needed to open one live subscription. The URL and
// token are re-resolved on every (re)subscribe because both can rotate.
type Endpoint struct {
	URL       string
	Token     string
	Query     string
	Variables map[string]any
}

// EndpointSource resolves the current subscription endpoint. It is
// consulted again on every resubscribe.
type EndpointSource interface {
	LiveEndpoint(ctx context.Context) (Endpoint, error)
}

// Handler receives measurements synchronously from the stream's read loop.
// A slow handler delays watchdog re-arming, so handlers must be quick.
type Handler func(Measurement)

// Config tunes the manager's liveness behavior. Zero values select the
// defaults.
type Config struct {
	// SilenceWindow is how long the stream may stay quiet before the
	// watchdog forces a resubscribe. A jitter drawn once at construction
	// is added so a fleet does not resubscribe in lockstep.
	SilenceWindow    time.Duration
	SilenceJitterMax time.Duration

	// BackoffMin and BackoffMax bound the random wait before
	// reconnecting after a transport error.
	BackoffMin time.Duration
	BackoffMax time.Duration

	UserAgent string
}

// connection is the slice of stream the manager drives; tests substitute
// a scripted fake.
type connection interface {
	read() (Measurement, error)
	close() error
}

// Manager keeps one live subscription alive: it opens the stream, re-arms
// a silence watchdog on every measurement, and resubscribes with a random
// backoff after transport errors. The provider ends streams without
// warning and silently stops sending on stale subscriptions, so liveness
// is enforced from this side.
type Manager struct {
	source     EndpointSource
	handler    Handler
	userAgent  string
	silence    time.Duration
	backoffMin time.Duration
	backoffMax time.Duration

	mu        sync.Mutex
	destroyed bool
	gen       int
	conn      connection
	watchdog  *time.Timer
	restart   *time.Timer
	wg        sync.WaitGroup

	// test hooks
	dial  func(ep Endpoint, userAgent string) (connection, error)
	delay func(min, max time.Duration) time.Duration
}

// NewManager creates a manager. The subscription is not opened until
// Start is called.
func NewManager(source EndpointSource, handler Handler, cfg Config) *Manager {
	if cfg.SilenceWindow == 0 {
		cfg.SilenceWindow = defaultSilenceWindow
	}
	if cfg.SilenceJitterMax == 0 {
		cfg.SilenceJitterMax = defaultSilenceJitterMax
	}
	if cfg.BackoffMin == 0 {
		cfg.BackoffMin = defaultBackoffMin
	}
	if cfg.BackoffMax == 0 {
		cfg.BackoffMax = defaultBackoffMax
	}

	return &Manager{
		source:     source,
		handler:    handler,
		userAgent:  cfg.UserAgent,
		silence:    cfg.SilenceWindow + timeutil.RandomDelay(0, cfg.SilenceJitterMax),
		backoffMin: cfg.BackoffMin,
		backoffMax: cfg.BackoffMax,
		dial: func(ep Endpoint, userAgent string) (connection, error) {
			return dialStream(ep, userAgent)
		},
		delay: timeutil.RandomDelay,
	}
}

// Start opens (or reopens) the subscription. The endpoint is resolved
// fresh on every call. Any previous session is torn down first; calling
// Start on a live manager is how the watchdog and backoff paths
// resubscribe.
func (m *Manager) Start() error {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return hwerrors.ErrDestroyed
	}

	m.gen++
	gen := m.gen
	m.stopTimersLocked()
	if m.conn != nil {
		m.conn.close()
		m.conn = nil
	}
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(gen)
	return nil
}

// Destroy tears the subscription down for good. It is safe to call more
// than once; after Destroy returns no further measurements are delivered.
// Must not be called from inside a Handler.
func (m *Manager) Destroy() {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	m.destroyed = true
	m.stopTimersLocked()
	if m.conn != nil {
		m.conn.close()
		m.conn = nil
	}
	m.mu.Unlock()

	m.wg.Wait()
	logger.Info().Msg("Live subscription manager destroyed")
}

// run is one subscription session. gen ties its callbacks to this session
// so that timers and reads from a superseded session become no-ops.
func (m *Manager) run(gen int) {
	defer m.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), endpointFetchTimeout)
	ep, err := m.source.LiveEndpoint(ctx)
	cancel()
	if err != nil {
		if errors.Is(err, hwerrors.ErrRealTimeDisabled) || errors.Is(err, hwerrors.ErrTokenNotSet) {
			// Not retryable from here; the caller decides what to do.
			logger.Warn().Err(err).Msg("Live subscription unavailable")
			return
		}
		logger.Warn().Err(err).Msg("Resolving live endpoint failed")
		m.scheduleRestart(gen)
		return
	}

	conn, err := m.dial(ep, m.userAgent)
	if err != nil {
		metrics.LiveStreamErrors.Inc()
		logger.Warn().Err(err).Msg("Opening live stream failed")
		m.scheduleRestart(gen)
		return
	}

	m.mu.Lock()
	if m.destroyed || gen != m.gen {
		m.mu.Unlock()
		conn.close()
		return
	}
	m.conn = conn
	m.armWatchdogLocked(gen)
	m.mu.Unlock()

	logger.Info().Str("url", ep.URL).Msg("Live stream connected")

	for {
		meas, err := conn.read()
		if err != nil {
			m.mu.Lock()
			stale := m.destroyed || gen != m.gen
			m.mu.Unlock()
			if stale {
				return
			}

			if errors.Is(err, errStreamComplete) {
				// Graceful end. The watchdog stays armed and will
				// resubscribe once the silence window elapses.
				logger.Info().Msg("Live subscription completed by server")
				return
			}

			metrics.LiveStreamErrors.Inc()
			logger.Warn().Err(err).Msg("Live stream error")
			m.scheduleRestart(gen)
			return
		}

		m.mu.Lock()
		if m.destroyed || gen != m.gen {
			m.mu.Unlock()
			return
		}
		m.armWatchdogLocked(gen)
		m.mu.Unlock()

		metrics.LiveMessagesTotal.Inc()
		m.handler(meas)
	}
}

// armWatchdogLocked (re)starts the silence watchdog for the session.
func (m *Manager) armWatchdogLocked(gen int) {
	if m.watchdog != nil {
		m.watchdog.Stop()
	}
	m.watchdog = time.AfterFunc(m.silence, func() {
		m.mu.Lock()
		if m.destroyed || gen != m.gen {
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()

		logger.Warn().Dur("silence", m.silence).Msg("No live measurements received, resubscribing")
		metrics.LiveResubscribesTotal.Inc()
		m.Start()
	})
}

// scheduleRestart arms a one-shot reconnect after a random backoff. The
// watchdog is cancelled first: the error already established the stream
// is dead.
func (m *Manager) scheduleRestart(gen int) {
	d := m.delay(m.backoffMin, m.backoffMax)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed || gen != m.gen {
		return
	}

	m.stopTimersLocked()
	m.restart = time.AfterFunc(d, func() {
		m.mu.Lock()
		if m.destroyed || gen != m.gen {
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()

		metrics.LiveResubscribesTotal.Inc()
		m.Start()
	})
	logger.Info().Dur("backoff", d).Msg("Live stream restart scheduled")
}

func (m *Manager) stopTimersLocked() {
	if m.watchdog != nil {
		m.watchdog.Stop()
		m.watchdog = nil
	}
	if m.restart != nil {
		m.restart.Stop()
		m.restart = nil
	}
}
