// Copyright (c) 2025 the homewatt authors
// Licensed under the MIT License

// Package metrics provides Prometheus metrics for homewatt.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PriceFetchesTotal tracks the total number of price queries sent to the provider
	PriceFetchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "homewatt_price_fetches_total",
		Help: "Total number of hourly price queries sent to the provider",
	})

	// PriceFetchErrors tracks the number of failed price queries
	PriceFetchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "homewatt_price_fetch_errors_total",
		Help: "Total number of failed hourly price queries",
	})

	// PriceRefreshesScheduled tracks refreshes scheduled after the publish cutoff
	PriceRefreshesScheduled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "homewatt_price_refreshes_scheduled_total",
		Help: "Total number of delayed price refreshes scheduled after the publish cutoff",
	})

	// PriceFetchDuration tracks how long a price query takes
	PriceFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "homewatt_price_fetch_duration_seconds",
		Help:    "Duration of price queries in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// CachedPriceEntries tracks the current size of the hourly price cache
	CachedPriceEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "homewatt_cached_price_entries",
		Help: "Number of hourly price entries currently cached",
	})

	// CurrentPriceTotal tracks the current hour's total price
	CurrentPriceTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "homewatt_current_price_total",
		Help: "Total price of the current hour in the home currency",
	})

	// CurrentPriceLevel tracks the current hour's price level (0=very cheap .. 4=very expensive)
	CurrentPriceLevel = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "homewatt_current_price_level",
		Help: "Qualitative price level of the current hour (0=very cheap .. 4=very expensive)",
	})

	// ComparatorIndeterminate tracks comparator evaluations that failed closed
	ComparatorIndeterminate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "homewatt_comparator_indeterminate_total",
		Help: "Total number of comparator evaluations that could not be determined and failed closed",
	})

	// LiveMessagesTotal tracks the total number of live measurements received
	LiveMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "homewatt_live_messages_total",
		Help: "Total number of live measurement messages received",
	})

	// LiveResubscribesTotal tracks watchdog-triggered resubscriptions
	LiveResubscribesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "homewatt_live_resubscribes_total",
		Help: "Total number of resubscriptions triggered by the silence watchdog",
	})

	// LiveStreamErrors tracks transport errors on the live stream
	LiveStreamErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "homewatt_live_stream_errors_total",
		Help: "Total number of transport errors on the live measurement stream",
	})

	// CurrentPower tracks the most recent live power reading
	CurrentPower = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "homewatt_current_power_watts",
		Help: "Most recent live power reading in watts",
	})

	// InfluxDBWritesTotal tracks the total number of writes to InfluxDB
	InfluxDBWritesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "homewatt_influxdb_writes_total",
		Help: "Total number of writes to InfluxDB",
	})

	// InfluxDBWriteErrors tracks the number of failed writes to InfluxDB
	InfluxDBWriteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "homewatt_influxdb_write_errors_total",
		Help: "Total number of failed writes to InfluxDB",
	})

	// ConsumptionNodesLogged tracks consumption history entries written to storage
	ConsumptionNodesLogged = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "homewatt_consumption_nodes_logged_total",
		Help: "Total number of consumption history nodes written to storage",
	}, []string{"resolution"})

	// PushNotificationsTotal tracks push notifications sent through the provider
	PushNotificationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "homewatt_push_notifications_total",
		Help: "Total number of push notifications sent through the provider",
	})
)
