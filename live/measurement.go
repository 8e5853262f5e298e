// Copyright (c) 2025 the homewatt authors
// Licensed under the MIT License

// Package live maintains the real-time measurement subscription: a
// graphql-transport-ws stream with a silence watchdog and randomized
// reconnect backoff.
package live

import "time"

// Measurement is one live meter reading. All numeric fields are pointers:
// the meter omits values it cannot produce (production readings on
// consumption-only meters, phase currents on single-phase installations).
type Measurement struct {
	Timestamp              time.Time `json:"timestamp"`
	Power                  *float64  `json:"power"`
	PowerProduction        *float64  `json:"powerProduction"`
	MinPower               *float64  `json:"minPower"`
	AveragePower           *float64  `json:"averagePower"`
	MaxPower               *float64  `json:"maxPower"`
	CurrentL1              *float64  `json:"currentL1"`
	CurrentL2              *float64  `json:"currentL2"`
	CurrentL3              *float64  `json:"currentL3"`
	LastMeterConsumption   *float64  `json:"lastMeterConsumption"`
	LastMeterProduction    *float64  `json:"lastMeterProduction"`
	AccumulatedConsumption *float64  `json:"accumulatedConsumption"`
	AccumulatedProduction  *float64  `json:"accumulatedProduction"`
	AccumulatedCost        *float64  `json:"accumulatedCost"`
	AccumulatedReward      *float64  `json:"accumulatedReward"`
	Currency               *string   `json:"currency"`
}
