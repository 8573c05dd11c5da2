// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"log/slog"
	"time"

	"k8s.io/utils/clock"
)

type Opts struct {
	logger   *slog.Logger
	interval time.Duration
	unit     string
	clock    clock.WithTicker
	sinks    []Sink
}

// DefaultOpts returns the options used when none are given
func DefaultOpts() Opts {
	return Opts{
		logger:   slog.Default(),
		interval: 1 * time.Second,
		unit:     "WH",
		clock:    clock.RealClock{},
	}
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

// WithInterval sets the sampling interval; non-positive values keep the default
func WithInterval(d time.Duration) OptionFn {
	return func(o *Opts) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WithLogger sets the logger for the EnergyMonitor
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

// WithClock sets the clock driving the sampling loop
func WithClock(c clock.WithTicker) OptionFn {
	return func(o *Opts) {
		o.clock = c
	}
}

// WithEnergyUnit sets the unit records are reported in (J, WH or KWH)
func WithEnergyUnit(unit string) OptionFn {
	return func(o *Opts) {
		o.unit = unit
	}
}

// WithSinks adds sinks that receive every finalised record
func WithSinks(sinks ...Sink) OptionFn {
	return func(o *Opts) {
		o.sinks = append(o.sinks, sinks...)
	}
}
