// Copyright (c) 2025 the homewatt authors
// Licensed under the MIT License

// Package errors provides structured error types for homewatt.
//
// The taxonomy mirrors how failures are handled: transport errors are
// transient and retried on the next cycle, auth and home-lookup errors are
// fatal for the owning device and must surface to the caller, and
// subscription errors are recovered locally with backoff.
//
// # Example Usage
//
//	err := errors.NewTransportError("price query", fmt.Errorf("connection refused"))
//	if errors.IsTransportError(err) {
//	    log.Printf("fetch failed: %v", err)
//	}
package errors

import (
	"errors"
	"fmt"
)

// TransportError represents a transient failure talking to the energy-data
// provider over HTTPS (price, consumption, push, home queries).
type TransportError struct {
	Op  string // Operation being performed (e.g., "price query", "send push")
	Err error  // Underlying error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transport %s failed", e.Op)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError creates a new transport error.
func NewTransportError(op string, err error) *TransportError {
	return &TransportError{Op: op, Err: err}
}

// IsTransportError checks if an error is a TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// AuthError represents an authentication failure surfaced by the provider.
// It is not recoverable by retrying; the owning device should be marked
// unavailable.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %v", e.Err)
	}
	return "authentication failed"
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// NewAuthError creates a new authentication error.
func NewAuthError(err error) *AuthError {
	return &AuthError{Err: err}
}

// IsAuthError checks if an error is an AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// HomeNotFoundError indicates the configured home id is unknown to the
// provider. Like AuthError it is fatal for the owning device.
type HomeNotFoundError struct {
	HomeID string
	Err    error
}

func (e *HomeNotFoundError) Error() string {
	if e.HomeID != "" {
		return fmt.Sprintf("home %s not found: %v", e.HomeID, e.Err)
	}
	return fmt.Sprintf("home not found: %v", e.Err)
}

func (e *HomeNotFoundError) Unwrap() error {
	return e.Err
}

// NewHomeNotFoundError creates a new home-not-found error.
func NewHomeNotFoundError(homeID string, err error) *HomeNotFoundError {
	return &HomeNotFoundError{HomeID: homeID, Err: err}
}

// IsHomeNotFoundError checks if an error is a HomeNotFoundError.
func IsHomeNotFoundError(err error) bool {
	var he *HomeNotFoundError
	return errors.As(err, &he)
}

// SubscriptionError represents a failure on the live measurement stream.
// These are recovered locally with randomized backoff and never surfaced as
// fatal unless setup itself fails synchronously.
type SubscriptionError struct {
	Op  string // Operation being performed (e.g., "dial", "handshake", "read")
	Err error
}

func (e *SubscriptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("subscription %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("subscription %s failed", e.Op)
}

func (e *SubscriptionError) Unwrap() error {
	return e.Err
}

// NewSubscriptionError creates a new subscription error.
func NewSubscriptionError(op string, err error) *SubscriptionError {
	return &SubscriptionError{Op: op, Err: err}
}

// IsSubscriptionError checks if an error is a SubscriptionError.
func IsSubscriptionError(err error) bool {
	var se *SubscriptionError
	return errors.As(err, &se)
}

// StorageError represents an error during time-series storage operations.
type StorageError struct {
	Op  string // Operation being performed (e.g., "write", "query")
	Err error
}

func (e *StorageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s failed", e.Op)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a new storage error.
func NewStorageError(op string, err error) *StorageError {
	return &StorageError{Op: op, Err: err}
}

// IsStorageError checks if an error is a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Field string // Configuration field that caused the error
	Value string // Invalid value (optional, may be redacted for sensitive fields)
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("config error in field %q (value=%q): %v", e.Field, e.Value, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("config error in field %q: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("config error in field %q", e.Field)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new configuration error.
func NewConfigError(field string, value string, err error) *ConfigError {
	return &ConfigError{Field: field, Value: value, Err: err}
}

// IsConfigError checks if an error is a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// SettingsError represents an error accessing the host settings store.
type SettingsError struct {
	Key string // Settings key involved
	Err error
}

func (e *SettingsError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("settings %q: %v", e.Key, e.Err)
	}
	return fmt.Sprintf("settings: %v", e.Err)
}

func (e *SettingsError) Unwrap() error {
	return e.Err
}

// NewSettingsError creates a new settings error.
func NewSettingsError(key string, err error) *SettingsError {
	return &SettingsError{Key: key, Err: err}
}

// IsSettingsError checks if an error is a SettingsError.
func IsSettingsError(err error) bool {
	var se *SettingsError
	return errors.As(err, &se)
}

// Sentinel errors for common conditions
var (
	// ErrTokenNotSet indicates no access token is stored
	ErrTokenNotSet = errors.New("access token not set")

	// ErrRealTimeDisabled indicates the home has no real-time consumption feed
	ErrRealTimeDisabled = errors.New("real time consumption not enabled")

	// ErrDestroyed indicates use of a subscription manager after Destroy
	ErrDestroyed = errors.New("subscription manager destroyed")

	// ErrConnectionClosed indicates a connection was closed
	ErrConnectionClosed = errors.New("connection closed")

	// ErrCircuitBreakerOpen indicates the circuit breaker is open
	ErrCircuitBreakerOpen = errors.New("circuit breaker open")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")
)
