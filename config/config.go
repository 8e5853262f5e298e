// Copyright (c) 2025 the homewatt authors
// Licensed under the MIT License

// Package config provides configuration management for homewatt.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/homewatt/homewatt/pkg/timeutil"
	"github.com/homewatt/homewatt/pkg/util"
)

// Config is the application configuration.
type Config struct {
	Provider      ProviderConfig      `yaml:"provider"`
	Live          LiveConfig          `yaml:"live"`
	Consumption   ConsumptionConfig   `yaml:"consumption"`
	InfluxDB      InfluxDBConfig      `yaml:"influxdb"`
	Settings      SettingsConfig      `yaml:"settings"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Logging       LoggingConfig       `yaml:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics"`
}

// ProviderConfig holds the energy provider API settings.
type ProviderConfig struct {
	APIURL string `yaml:"api_url" validate:"omitempty,url"`
	HomeID string `yaml:"home_id" validate:"required"`

	// Timezone is the provider's reference timezone for price calendar
	// days and the publish cutoff.
	Timezone string `yaml:"timezone" validate:"required"`

	// PublishCutoff is the local wall-clock time after which tomorrow's
	// prices are expected, as HH:MM.
	PublishCutoff string `yaml:"publish_cutoff" validate:"required"`

	// RefreshMaxDelay bounds the random delay before a scheduled price
	// refresh.
	RefreshMaxDelay time.Duration `yaml:"refresh_max_delay" validate:"min=1s,max=4h"`

	UserAgent string `yaml:"user_agent" validate:"required"`
}

// LiveConfig tunes the real-time measurement subscription.
type LiveConfig struct {
	Enabled          bool          `yaml:"enabled"`
	SilenceWindow    time.Duration `yaml:"silence_window" validate:"min=10s,max=1h"`
	SilenceJitterMax time.Duration `yaml:"silence_jitter_max" validate:"min=1s,max=10m"`
	BackoffMin       time.Duration `yaml:"backoff_min" validate:"min=1s"`
	BackoffMax       time.Duration `yaml:"backoff_max" validate:"min=1s,gtefield=BackoffMin"`
}

// ConsumptionConfig tunes the consumption report backfill.
type ConsumptionConfig struct {
	Enabled       bool          `yaml:"enabled"`
	MaxFetchDelay time.Duration `yaml:"max_fetch_delay" validate:"min=1s,max=4h"`
}

// InfluxDBConfig holds InfluxDB connection settings.
type InfluxDBConfig struct {
	URL          string `yaml:"url" validate:"required,url"`
	Token        string `yaml:"token" validate:"required,min=8"`
	Organization string `yaml:"organization" validate:"required"`
	Bucket       string `yaml:"bucket" validate:"required"`
}

// SettingsConfig locates the persistent settings store.
type SettingsConfig struct {
	Dir string `yaml:"dir" validate:"required"`
}

// NotificationsConfig controls provider push notifications.
type NotificationsConfig struct {
	PushEnabled bool `yaml:"push_enabled"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn warning error fatal panic"`
}

// MetricsConfig configures the metrics/health HTTP listener.
type MetricsConfig struct {
	ListenAddress string `yaml:"listen_address" validate:"required"`
}

// Load reads configuration from a YAML file and applies environment
// variable overrides and defaults.
func Load(path string) (*Config, error) {
	data, err := util.ReadFileSafely(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.setDefaults()

	err = cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// applyEnvironmentOverrides applies environment variable overrides to the
// configuration. Secrets in particular are expected to arrive this way.
func (c *Config) applyEnvironmentOverrides() {
	if v := os.Getenv("TIBBER_API_URL"); v != "" {
		c.Provider.APIURL = v
	}
	if v := os.Getenv("TIBBER_HOME_ID"); v != "" {
		c.Provider.HomeID = v
	}
	if v := os.Getenv("INFLUXDB_URL"); v != "" {
		c.InfluxDB.URL = v
	}
	if v := os.Getenv("INFLUXDB_TOKEN"); v != "" {
		c.InfluxDB.Token = v
	}
	if v := os.Getenv("INFLUXDB_ORG"); v != "" {
		c.InfluxDB.Organization = v
	}
	if v := os.Getenv("INFLUXDB_BUCKET"); v != "" {
		c.InfluxDB.Bucket = v
	}
	if v := os.Getenv("SETTINGS_DIR"); v != "" {
		c.Settings.Dir = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("LIVE_SILENCE_WINDOW"); v != "" {
		duration, parseErr := time.ParseDuration(v)
		if parseErr == nil {
			c.Live.SilenceWindow = duration
		} else {
			fmt.Fprintf(os.Stderr, "Warning: Failed to parse LIVE_SILENCE_WINDOW '%s': %v\n", v, parseErr)
		}
	}
}

// setDefaults sets default values for configuration fields if not provided.
func (c *Config) setDefaults() {
	if c.Provider.Timezone == "" {
		c.Provider.Timezone = "Europe/Oslo"
	}
	if c.Provider.PublishCutoff == "" {
		c.Provider.PublishCutoff = "13:00"
	}
	if c.Provider.RefreshMaxDelay == 0 {
		c.Provider.RefreshMaxDelay = 50 * time.Minute
	}
	if c.Provider.UserAgent == "" {
		c.Provider.UserAgent = "homewatt/1.0"
	}
	if c.Live.SilenceWindow == 0 {
		c.Live.SilenceWindow = 10 * time.Minute
	}
	if c.Live.SilenceJitterMax == 0 {
		c.Live.SilenceJitterMax = 10 * time.Second
	}
	if c.Live.BackoffMin == 0 {
		c.Live.BackoffMin = 5 * time.Second
	}
	if c.Live.BackoffMax == 0 {
		c.Live.BackoffMax = 120 * time.Second
	}
	if c.Consumption.MaxFetchDelay == 0 {
		c.Consumption.MaxFetchDelay = 59 * time.Minute
	}
	if c.Settings.Dir == "" {
		c.Settings.Dir = "/var/lib/homewatt"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Metrics.ListenAddress == "" {
		c.Metrics.ListenAddress = ":9090"
	}
}

var validate = validator.New()

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var invalid validator.ValidationErrors
		if errors, ok := err.(validator.ValidationErrors); ok {
			invalid = errors
		} else {
			return err
		}
		first := invalid[0]
		return fmt.Errorf("%s failed validation on '%s'", strings.ToLower(first.Namespace()), first.Tag())
	}

	if _, err := time.LoadLocation(c.Provider.Timezone); err != nil {
		return fmt.Errorf("provider.timezone is not a valid IANA timezone: %w", err)
	}
	if _, err := timeutil.ParseClock(c.Provider.PublishCutoff); err != nil {
		return fmt.Errorf("provider.publish_cutoff must be HH:MM: %w", err)
	}

	parsedURL, err := url.Parse(c.InfluxDB.URL)
	if err != nil {
		return fmt.Errorf("influxdb.url is not a valid URL: %w", err)
	}
	if err := validateURLSecurity(parsedURL); err != nil {
		return err
	}

	return nil
}

// Location returns the provider's reference timezone. Validate must have
// passed first.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Provider.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Cutoff returns the parsed publish cutoff. Validate must have passed
// first.
func (c *Config) Cutoff() timeutil.Clock {
	clock, err := timeutil.ParseClock(c.Provider.PublishCutoff)
	if err != nil {
		return timeutil.Clock{Hour: 13}
	}
	return clock
}

// validateURLSecurity checks if the URL uses HTTPS for non-local
// connections.
func validateURLSecurity(parsedURL *url.URL) error {
	if parsedURL.Scheme != "http" {
		return nil
	}

	hostname := strings.ToLower(parsedURL.Hostname())
	isLocal := hostname == "localhost" ||
		hostname == "127.0.0.1" ||
		hostname == "::1" ||
		strings.HasPrefix(hostname, "192.168.") ||
		strings.HasPrefix(hostname, "10.") ||
		strings.HasPrefix(hostname, "172.")

	if !isLocal {
		return fmt.Errorf("influxdb.url must use HTTPS for non-local connections (got %s). Using HTTP transmits credentials in plaintext and is a security risk", parsedURL.Scheme)
	}

	return nil
}
