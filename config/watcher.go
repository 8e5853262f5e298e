// Copyright (c) 2025 the homewatt authors
// Licensed under the MIT License

package config

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/homewatt/homewatt/pkg/logger"
)

// Watcher reloads the configuration file on SIGHUP and hands validated
// configs to the application over a channel. A reload that fails schema
// or semantic validation keeps the running config untouched.
type Watcher struct {
	path       string
	configChan chan<- *Config
	sighup     chan os.Signal
	cancel     context.CancelFunc
}

// NewWatcher creates a watcher for the config file at path. Reloaded
// configs are delivered on configChan.
func NewWatcher(path string, configChan chan<- *Config) *Watcher {
	return &Watcher{
		path:       path,
		configChan: configChan,
		sighup:     make(chan os.Signal, 1),
	}
}

// Start begins listening for SIGHUP until ctx is cancelled or Stop is
// called.
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	signal.Notify(w.sighup, syscall.SIGHUP)

	go w.watch(ctx)
}

// Stop stops the watcher. Safe to call more than once.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	signal.Stop(w.sighup)
}

func (w *Watcher) watch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.sighup:
			logger.Info().Str("path", w.path).Msg("SIGHUP received, reloading configuration")
			w.reload(ctx)
		}
	}
}

// reload validates and loads the file, then delivers the new config
// unless shutdown wins the race.
func (w *Watcher) reload(ctx context.Context) {
	if err := ValidateWithSchema(w.path); err != nil {
		logger.Error().Err(err).Str("path", w.path).Msg("Reloaded configuration failed schema validation, keeping current config")
		return
	}

	cfg, err := Load(w.path)
	if err != nil {
		logger.Error().Err(err).Str("path", w.path).Msg("Failed to reload configuration, keeping current config")
		return
	}

	select {
	case w.configChan <- cfg:
		logger.Info().Msg("Configuration reloaded")
	case <-ctx.Done():
	}
}
