// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ea2p/powermeter/internal/device"
	"github.com/ea2p/powermeter/internal/service"
	"k8s.io/utils/clock"
)

var (
	// ErrNoSession is returned by Stop when no session was ever started
	ErrNoSession = errors.New("no measurement session was started")

	// ErrClosed is returned by Start after Shutdown
	ErrClosed = errors.New("energy monitor is shut down")
)

// SessionProvider is the read-only view of the monitor used by exporters
type SessionProvider interface {
	// Active reports whether a session is running
	Active() bool
	// LastRecord returns the record of the last finished session, or nil
	LastRecord() *Record
	// Ticks returns the number of samples taken in the current or last session
	Ticks() int64
	// SampleErrors returns the failed reads per sampler since construction
	SampleErrors() map[string]uint64
}

// EnergyMonitor measures the energy of its samplers over start..stop sessions.
// At most one session is active at a time.
type EnergyMonitor struct {
	logger   *slog.Logger
	clock    clock.WithTicker
	interval time.Duration

	power    []device.PowerSampler
	counters []device.CounterSampler

	aggregator *aggregator
	sinks      []Sink

	// serializes Start, Stop and Shutdown
	mu      sync.Mutex
	current *session
	closed  bool

	active atomic.Bool
	last   atomic.Pointer[Record]
	stats  *stats
}

var (
	_ service.Service    = (*EnergyMonitor)(nil)
	_ service.Shutdowner = (*EnergyMonitor)(nil)
	_ SessionProvider    = (*EnergyMonitor)(nil)
)

// NewEnergyMonitor creates a monitor over a fixed set of samplers
func NewEnergyMonitor(samplers []device.Sampler, applyOpts ...OptionFn) *EnergyMonitor {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	logger := opts.logger.With("service", "monitor")
	m := &EnergyMonitor{
		logger:   logger,
		clock:    opts.clock,
		interval: opts.interval,
		aggregator: &aggregator{
			logger:    logger,
			converter: device.NewConverter(logger),
			unit:      opts.unit,
		},
		sinks: opts.sinks,
	}

	names := make([]string, 0, len(samplers))
	for _, s := range samplers {
		switch v := s.(type) {
		case device.CounterSampler:
			m.counters = append(m.counters, v)
		case device.PowerSampler:
			m.power = append(m.power, v)
		default:
			logger.Warn("Ignoring sampler without a known capability", "sampler", s.Name())
			continue
		}
		names = append(names, s.Name())
		logger.Info("Sampler active", "sampler", s.Name(), "kind", device.KindOf(s), "rails", s.Rails())
	}
	m.stats = newStats(names)

	if len(names) == 0 {
		logger.Warn("No sampler is active; records will only carry the elapsed time")
	}
	return m
}

func (m *EnergyMonitor) Name() string {
	return "monitor"
}

// Start begins a session. A session that is still running is stopped and
// finalised first.
func (m *EnergyMonitor) Start(labels Labels) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	if m.current != nil {
		m.logger.Warn("Session already active; stopping it before starting a new one",
			"algorithm", m.current.labels.Algorithm)
		m.finish()
	}

	s := &session{
		logger:   m.logger,
		clock:    m.clock,
		interval: m.interval,
		power:    m.power,
		counters: m.counters,
		stats:    m.stats,
		labels:   labels,
	}
	s.begin()
	m.current = s
	m.active.Store(true)

	m.logger.Info("Session started", "package", labels.Package, "algorithm", labels.Algorithm,
		"interval", m.interval)
	return nil
}

// Stop ends the running session and returns its record. Without an
// intervening Start, it returns the record of the last session again.
func (m *EnergyMonitor) Stop() (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		if last := m.last.Load(); last != nil {
			return last.Clone(), nil
		}
		return nil, ErrNoSession
	}
	return m.finish().Clone(), nil
}

// Measure runs fn inside a session. The session is stopped on every exit
// path of fn, including a panic.
func (m *EnergyMonitor) Measure(ctx context.Context, labels Labels, fn func(context.Context) error) (rec *Record, err error) {
	if err := m.Start(labels); err != nil {
		return nil, err
	}

	defer func() {
		r, stopErr := m.Stop()
		rec = r
		err = errors.Join(err, stopErr)
	}()

	return nil, fn(ctx)
}

// Shutdown stops an active session and rejects new ones
func (m *EnergyMonitor) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Info("shutting down monitor")
	m.closed = true
	if m.current != nil {
		m.finish()
	}
	return nil
}

// finish joins the running session, builds its record and hands it to the
// sinks. Callers hold m.mu.
func (m *EnergyMonitor) finish() *Record {
	s := m.current
	stop := s.end()
	rec := m.aggregator.aggregate(s, stop)

	m.current = nil
	m.active.Store(false)
	m.last.Store(rec)

	m.logger.Info("Session finished", "algorithm", rec.Labels.Algorithm,
		"elapsed", rec.ElapsedSeconds, "ticks", rec.Ticks, "unit", rec.Unit)

	for _, sink := range m.sinks {
		if err := sink.Write(rec.Clone()); err != nil {
			m.logger.Error("Failed to write record", "error", err)
		}
	}
	return rec
}

func (m *EnergyMonitor) Active() bool {
	return m.active.Load()
}

func (m *EnergyMonitor) LastRecord() *Record {
	return m.last.Load().Clone()
}

func (m *EnergyMonitor) Ticks() int64 {
	return m.stats.ticks.Load()
}

func (m *EnergyMonitor) SampleErrors() map[string]uint64 {
	ret := make(map[string]uint64, len(m.stats.errors))
	for name, n := range m.stats.errors {
		ret[name] = n.Load()
	}
	return ret
}

