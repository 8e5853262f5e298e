// Copyright (c) 2025 the homewatt authors
// Licensed under the MIT License

// Package storage persists live measurements, consumption intervals and
// price points to InfluxDB.
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/homewatt/homewatt/live"
	hwerrors "github.com/homewatt/homewatt/pkg/errors"
	"github.com/homewatt/homewatt/pkg/logger"
	"github.com/homewatt/homewatt/pkg/metrics"
	"github.com/homewatt/homewatt/prices"
	"github.com/homewatt/homewatt/tibber"
)

// InfluxDBStorage writes time series through the client's async write
// API. Writes are fire-and-forget; failures surface on the error channel
// and in the write error counter.
type InfluxDBStorage struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	bucket   string
	org      string
	homeID   string
}

// NewInfluxDBStorage connects to InfluxDB and verifies it is healthy.
func NewInfluxDBStorage(url, token, org, bucket, homeID string) (*InfluxDBStorage, error) {
	client := influxdb2.NewClient(url, token)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, hwerrors.NewStorageError("connect", err)
	}
	if health.Status != "pass" {
		client.Close()
		message := "unknown error"
		if health.Message != nil {
			message = *health.Message
		}
		return nil, hwerrors.NewStorageError("connect", fmt.Errorf("health check failed: %s", message))
	}

	logger.Info().Str("url", url).Str("status", string(health.Status)).Msg("Connected to InfluxDB")

	writeAPI := client.WriteAPI(org, bucket)

	// Drain async write errors.
	go func() {
		for err := range writeAPI.Errors() {
			metrics.InfluxDBWriteErrors.Inc()
			logger.Error().Err(err).Msg("InfluxDB write error")
		}
	}()

	return &InfluxDBStorage{
		client:   client,
		writeAPI: writeAPI,
		bucket:   bucket,
		org:      org,
		homeID:   homeID,
	}, nil
}

// measurementFields builds the point fields for a live reading. Values
// the meter did not report are omitted.
func measurementFields(m live.Measurement) map[string]interface{} {
	fields := map[string]interface{}{}
	add := func(name string, v *float64) {
		if v != nil {
			fields[name] = *v
		}
	}
	add("power", m.Power)
	add("power_production", m.PowerProduction)
	add("min_power", m.MinPower)
	add("average_power", m.AveragePower)
	add("max_power", m.MaxPower)
	add("current_l1", m.CurrentL1)
	add("current_l2", m.CurrentL2)
	add("current_l3", m.CurrentL3)
	add("last_meter_consumption", m.LastMeterConsumption)
	add("last_meter_production", m.LastMeterProduction)
	add("accumulated_consumption", m.AccumulatedConsumption)
	add("accumulated_production", m.AccumulatedProduction)
	add("accumulated_cost", m.AccumulatedCost)
	add("accumulated_reward", m.AccumulatedReward)
	return fields
}

// WriteMeasurement writes one live meter reading.
func (s *InfluxDBStorage) WriteMeasurement(m live.Measurement) error {
	if m.Timestamp.IsZero() {
		return hwerrors.NewStorageError("write measurement", fmt.Errorf("timestamp cannot be zero"))
	}

	fields := measurementFields(m)
	if len(fields) == 0 {
		// Nothing to store; not an error.
		return nil
	}

	p := influxdb2.NewPoint(
		"live_measurement",
		map[string]string{"home_id": s.homeID},
		fields,
		m.Timestamp,
	)

	s.writeAPI.WritePoint(p)
	metrics.InfluxDBWritesTotal.Inc()
	return nil
}

// WriteConsumption writes settled consumption intervals at the given
// resolution ("daily" or "hourly"). Unsettled intervals with null values
// are skipped.
func (s *InfluxDBStorage) WriteConsumption(resolution string, nodes []tibber.ConsumptionNode) error {
	if resolution == "" {
		return hwerrors.NewStorageError("write consumption", fmt.Errorf("resolution cannot be empty"))
	}

	for _, node := range nodes {
		if node.Consumption == nil {
			continue
		}

		fields := map[string]interface{}{
			"consumption": *node.Consumption,
		}
		if node.TotalCost != nil {
			fields["total_cost"] = *node.TotalCost
		}
		if node.UnitCost != nil {
			fields["unit_cost"] = *node.UnitCost
		}
		if node.UnitPrice != nil {
			fields["unit_price"] = *node.UnitPrice
		}
		if node.UnitPriceVAT != nil {
			fields["unit_price_vat"] = *node.UnitPriceVAT
		}

		p := influxdb2.NewPoint(
			"consumption",
			map[string]string{
				"home_id":    s.homeID,
				"resolution": resolution,
			},
			fields,
			node.From,
		)
		s.writeAPI.WritePoint(p)
		metrics.InfluxDBWritesTotal.Inc()
	}
	return nil
}

// WritePrice writes one hourly price entry.
func (s *InfluxDBStorage) WritePrice(e prices.Entry) error {
	if e.StartsAt.IsZero() {
		return hwerrors.NewStorageError("write price", fmt.Errorf("startsAt cannot be zero"))
	}

	p := influxdb2.NewPoint(
		"price",
		map[string]string{
			"home_id": s.homeID,
			"level":   e.Level.String(),
		},
		map[string]interface{}{
			"total":  e.Total,
			"energy": e.Energy,
			"tax":    e.Tax,
		},
		e.StartsAt,
	)

	s.writeAPI.WritePoint(p)
	metrics.InfluxDBWritesTotal.Inc()
	return nil
}

// Health verifies the server is reachable and healthy.
func (s *InfluxDBStorage) Health(ctx context.Context) error {
	health, err := s.client.Health(ctx)
	if err != nil {
		return hwerrors.NewStorageError("health", err)
	}
	if health.Status != "pass" {
		message := "unknown error"
		if health.Message != nil {
			message = *health.Message
		}
		return hwerrors.NewStorageError("health", fmt.Errorf("status %s: %s", health.Status, message))
	}
	return nil
}

// Flush forces all pending writes to complete.
func (s *InfluxDBStorage) Flush() {
	s.writeAPI.Flush()
}

// Close flushes pending writes and closes the client.
func (s *InfluxDBStorage) Close() {
	logger.Info().Msg("Closing InfluxDB connection")
	s.writeAPI.Flush()
	s.client.Close()
}

// sanitizeFluxString escapes a value for embedding in a Flux string
// literal. Backslashes and quotes are escaped, control characters that
// could break out of the literal are neutralized.
func sanitizeFluxString(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case 0:
			// drop null bytes
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// QueryLatestPower returns the most recent stored power reading for the
// home, or nil when nothing was written in the last hour.
func (s *InfluxDBStorage) QueryLatestPower(ctx context.Context) (*float64, time.Time, error) {
	queryAPI := s.client.QueryAPI(s.org)

	query := fmt.Sprintf(`
		from(bucket: "%s")
			|> range(start: -1h)
			|> filter(fn: (r) => r._measurement == "live_measurement")
			|> filter(fn: (r) => r.home_id == "%s")
			|> filter(fn: (r) => r._field == "power")
			|> last()
	`, sanitizeFluxString(s.bucket), sanitizeFluxString(s.homeID))

	result, err := queryAPI.Query(ctx, query)
	if err != nil {
		return nil, time.Time{}, hwerrors.NewStorageError("query latest power", err)
	}
	defer func() {
		_ = result.Close()
	}()

	var power *float64
	var at time.Time
	for result.Next() {
		record := result.Record()
		if val, ok := record.Value().(float64); ok {
			v := val
			power = &v
			at = record.Time()
		}
	}
	if result.Err() != nil {
		return nil, time.Time{}, hwerrors.NewStorageError("query latest power", result.Err())
	}

	return power, at, nil
}
