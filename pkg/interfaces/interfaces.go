// Copyright (c) 2025 the homewatt authors
// Licensed under the MIT License

// Package interfaces defines abstract interfaces for host collaborators.
// This package promotes loose coupling and testability by allowing
// dependency injection and easy mocking in tests.
package interfaces

import "context"

// SettingsStore is the host settings collaborator: an opaque key-value
// store used to persist the access token and per-home consumption
// watermarks. Values can be rotated externally, so callers must re-read
// lazily rather than cache permanently.
type SettingsStore interface {
	// Get returns the value for key and whether it was present
	Get(key string) (string, bool)

	// Set stores the value for key
	Set(key, value string) error
}

// Notifier defines the interface for sending user-facing notifications.
type Notifier interface {
	// SendAlert sends a notification with the given title and message.
	SendAlert(ctx context.Context, title, message string) error
	// IsEnabled returns true if the notifier is configured and enabled.
	IsEnabled() bool
}
