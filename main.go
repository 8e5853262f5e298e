// Copyright (c) 2025 the homewatt authors
// Licensed under the MIT License

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/homewatt/homewatt/app"
	"github.com/homewatt/homewatt/config"
	"github.com/homewatt/homewatt/pkg/logger"
	"github.com/homewatt/homewatt/storage"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	healthCheck := flag.Bool("health-check", false, "Perform health check and exit")
	validateConfig := flag.Bool("validate-config", false, "Validate configuration file and exit")
	flag.Parse()

	if *healthCheck {
		os.Exit(performHealthCheck(*configPath))
	}

	if *validateConfig {
		os.Exit(performConfigValidation(*configPath))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Initialize("error")
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(cfg.Logging.Level)

	logger.Info().Msg("Starting homewatt")
	logger.Info().Str("home_id", cfg.Provider.HomeID).
		Bool("live_enabled", cfg.Live.Enabled).
		Bool("consumption_enabled", cfg.Consumption.Enabled).
		Msg("Configuration loaded")

	configChan := make(chan *config.Config)
	configWatcher := config.NewWatcher(*configPath, configChan)

	application, err := app.New(cfg, configWatcher)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create application")
	}

	setupDebugSignalHandlers(application)

	application.Run(configChan)
}

// performHealthCheck performs a health check and returns exit code
func performHealthCheck(configPath string) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: could not load config: %v\n", err)
		return 1
	}

	influxDB, err := storage.NewInfluxDBStorage(
		cfg.InfluxDB.URL,
		cfg.InfluxDB.Token,
		cfg.InfluxDB.Organization,
		cfg.InfluxDB.Bucket,
		cfg.Provider.HomeID,
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: could not create InfluxDB client: %v\n", err)
		return 1
	}
	defer influxDB.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := influxDB.Health(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: InfluxDB is unhealthy: %v\n", err)
		return 1
	}

	fmt.Println("Health check passed: InfluxDB is healthy")
	return 0
}

// performConfigValidation validates the configuration file and returns exit code
func performConfigValidation(configPath string) int {
	logger.Initialize("info")
	logger.Info().Str("path", configPath).Msg("Validating configuration file")

	if err := config.ValidateWithSchema(configPath); err != nil {
		logger.Error().Err(err).Msg("Configuration schema validation failed")
		fmt.Fprintf(os.Stderr, "\nConfiguration validation FAILED\n")
		return 1
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error().Err(err).Msg("Configuration validation failed")
		fmt.Fprintf(os.Stderr, "\nConfiguration validation FAILED\n")
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		return 1
	}

	fmt.Println("\nConfiguration validation PASSED")
	fmt.Println("\nConfiguration summary:")
	fmt.Printf("  Home ID: %s\n", cfg.Provider.HomeID)
	fmt.Printf("  Provider API URL: %s\n", cfg.Provider.APIURL)
	fmt.Printf("  Timezone: %s\n", cfg.Provider.Timezone)
	fmt.Printf("  Publish Cutoff: %s\n", cfg.Provider.PublishCutoff)
	fmt.Printf("  InfluxDB URL: %s\n", cfg.InfluxDB.URL)
	fmt.Printf("  InfluxDB Organization: %s\n", cfg.InfluxDB.Organization)
	fmt.Printf("  InfluxDB Bucket: %s\n", cfg.InfluxDB.Bucket)
	fmt.Printf("  Settings Directory: %s\n", cfg.Settings.Dir)
	fmt.Printf("  Log Level: %s\n", cfg.Logging.Level)
	fmt.Printf("  Metrics Listen Address: %s\n", cfg.Metrics.ListenAddress)
	fmt.Printf("  Live Stream Enabled: %t\n", cfg.Live.Enabled)
	fmt.Printf("  Consumption Logging Enabled: %t\n", cfg.Consumption.Enabled)

	if cfg.Notifications.PushEnabled {
		fmt.Println("  Push Notifications: Enabled")
	} else {
		fmt.Println("  Push Notifications: Disabled")
	}

	fmt.Println("\nAll validation checks passed. Configuration is ready for use.")
	return 0
}
