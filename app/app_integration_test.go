// Copyright (c) 2025 the homewatt authors
// Licensed under the MIT License

//go:build integration
// +build integration

package app_test

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go/modules/influxdb"

	"github.com/homewatt/homewatt/app"
	"github.com/homewatt/homewatt/config"
)

const metricsAddr = "127.0.0.1:19095"

type AppIntegrationTestSuite struct {
	suite.Suite
	container   *influxdb.InfluxDbContainer
	influxDBURL string
}

func TestAppIntegrationTestSuite(t *testing.T) {
	suite.Run(t, new(AppIntegrationTestSuite))
}

func (s *AppIntegrationTestSuite) SetupSuite() {
	ctx := context.Background()

	container, err := influxdb.Run(ctx,
		"influxdb:2.7-alpine",
		influxdb.WithV2Auth("test-org", "test-bucket", "test-user", "test-password"),
		influxdb.WithV2AdminToken("test-token"),
	)
	s.Require().NoError(err, "start InfluxDB container")
	s.container = container

	url, err := container.ConnectionUrl(ctx)
	s.Require().NoError(err, "get InfluxDB URL")
	s.influxDBURL = url
}

func (s *AppIntegrationTestSuite) TearDownSuite() {
	if s.container != nil {
		s.Require().NoError(s.container.Terminate(context.Background()))
	}
}

func (s *AppIntegrationTestSuite) writeConfig() string {
	dir := s.T().TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf(`
provider:
  home_id: home-integration
influxdb:
  url: %s
  token: test-token
  organization: test-org
  bucket: test-bucket
settings:
  dir: %s
live:
  enabled: false
consumption:
  enabled: false
metrics:
  listen_address: %s
logging:
  level: debug
`, s.influxDBURL, filepath.Join(dir, "settings"), metricsAddr)
	s.Require().NoError(os.WriteFile(path, []byte(content), 0o600))
	return path
}

// TestStartupAndShutdown boots the full application against a real
// InfluxDB, waits for it to report ready, and shuts it down cleanly.
func (s *AppIntegrationTestSuite) TestStartupAndShutdown() {
	configPath := s.writeConfig()

	cfg, err := config.Load(configPath)
	s.Require().NoError(err)

	configChan := make(chan *config.Config)
	watcher := config.NewWatcher(configPath, configChan)

	application, err := app.New(cfg, watcher)
	s.Require().NoError(err)

	done := make(chan struct{})
	go func() {
		application.Run(configChan)
		close(done)
	}()

	s.Require().Eventually(func() bool {
		resp, err := http.Get("http://" + metricsAddr + "/ready")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 15*time.Second, 200*time.Millisecond, "application never became ready")

	resp, err := http.Get("http://" + metricsAddr + "/metrics")
	s.Require().NoError(err)
	resp.Body.Close()
	s.Equal(http.StatusOK, resp.StatusCode)

	application.Stop()

	select {
	case <-done:
	case <-time.After(15 * time.Second):
		s.Fail("application did not shut down in time")
	}
}
