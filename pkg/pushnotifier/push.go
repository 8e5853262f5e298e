// Copyright (c) 2025 the homewatt authors
// Licensed under the MIT License

// Package pushnotifier delivers alerts to the account's mobile devices
// through the provider's push notification API.
//
// Alerts cover conditions that need the user's attention, such as an
// expired access token or a home that disappeared from the account.
// Notification failures are logged but never block the caller, and a
// disabled notifier skips sending silently.
package pushnotifier

import (
	"context"
	"sync"

	"github.com/homewatt/homewatt/pkg/interfaces"
	"github.com/homewatt/homewatt/pkg/logger"
	"github.com/homewatt/homewatt/pkg/metrics"
	"github.com/homewatt/homewatt/tibber"
)

// Sender dispatches one push notification. *tibber.Client implements it.
type Sender interface {
	SendPush(ctx context.Context, title, message string) (tibber.PushResult, error)
}

var _ interfaces.Notifier = (*Notifier)(nil)

// Notifier sends push notifications via the provider API.
type Notifier struct {
	sender Sender

	mu      sync.Mutex
	enabled bool
}

// New creates a push notifier. A disabled notifier accepts alerts and
// drops them.
func New(sender Sender, enabled bool) *Notifier {
	return &Notifier{sender: sender, enabled: enabled}
}

// IsEnabled reports whether alerts are actually sent.
func (n *Notifier) IsEnabled() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.enabled
}

// SetEnabled toggles sending at runtime, used on config reload.
func (n *Notifier) SetEnabled(enabled bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.enabled = enabled
}

// SendAlert pushes an alert to all of the account's devices.
func (n *Notifier) SendAlert(ctx context.Context, title, message string) error {
	if !n.IsEnabled() {
		return nil
	}

	result, err := n.sender.SendPush(ctx, title, message)
	if err != nil {
		return err
	}

	metrics.PushNotificationsTotal.Inc()
	logger.Info().
		Str("title", title).
		Bool("successful", result.Successful).
		Int("devices", result.PushedToNumberOfDevices).
		Msg("Push notification sent")
	return nil
}
