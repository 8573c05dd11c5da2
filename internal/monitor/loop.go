// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ea2p/powermeter/internal/device"
	"k8s.io/utils/clock"
)

// stats are updated by the sampling goroutine and read by exporters
type stats struct {
	ticks atomic.Int64
	// keyed by sampler name; the map itself is never modified after construction
	errors map[string]*atomic.Uint64
}

func newStats(names []string) *stats {
	s := &stats{errors: make(map[string]*atomic.Uint64, len(names))}
	for _, name := range names {
		s.errors[name] = &atomic.Uint64{}
	}
	return s
}

// session is one start..stop span of the sampling loop. Between begin and
// end its accumulators are owned by the sampling goroutine; end joins the
// goroutine before touching them.
type session struct {
	logger   *slog.Logger
	clock    clock.WithTicker
	interval time.Duration
	power    []device.PowerSampler
	counters []device.CounterSampler
	stats    *stats

	labels Labels
	start  time.Time

	// Σ watts per rail, one map per power sampler
	powerSums []map[string]Power
	// one reconciler per counter sampler
	recons []*reconciler
	tick   int

	cancel context.CancelFunc
	done   chan struct{}
}

// begin resets the accumulators, starts the counters, takes tick 0 and
// spawns the sampling goroutine
func (s *session) begin() {
	s.start = s.clock.Now()
	s.tick = 0
	s.stats.ticks.Store(0)

	s.powerSums = make([]map[string]Power, len(s.power))
	for i := range s.power {
		s.powerSums[i] = map[string]Power{}
	}
	s.recons = make([]*reconciler, len(s.counters))
	for i := range s.counters {
		s.recons[i] = newReconciler()
	}

	for _, c := range s.counters {
		if err := c.Start(); err != nil {
			s.readFailed(c.Name(), err)
		}
	}

	s.sample()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	// created here so that the first period starts with the session
	ticker := s.clock.NewTicker(s.interval)
	go s.run(ctx, ticker)
}

func (s *session) run(ctx context.Context, ticker clock.Ticker) {
	defer close(s.done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
		}

		if ctx.Err() != nil {
			return
		}
		s.sample()
	}
}

// end stops the goroutine, waits for it to exit and takes the tail sample.
// It returns the stop time of the session.
func (s *session) end() time.Time {
	s.cancel()
	<-s.done

	s.samplePower()
	for _, c := range s.counters {
		if err := c.Stop(); err != nil {
			s.readFailed(c.Name(), err)
		}
	}
	s.readCounters()
	s.advance()

	return s.clock.Now()
}

func (s *session) sample() {
	s.samplePower()
	s.readCounters()
	s.advance()
}

func (s *session) advance() {
	s.tick++
	s.stats.ticks.Add(1)
}

// samplePower adds one reading of every power sampler. Rails missing from a
// failed read count as 0 for this tick.
func (s *session) samplePower() {
	for i, p := range s.power {
		readings, err := p.Sample()
		if err != nil {
			s.readFailed(p.Name(), err)
		}
		for rail, w := range readings {
			s.powerSums[i][rail] += w
		}
	}
}

// readCounters records one reading of every counter sampler. A failed read
// leaves the tick absent for the rails it did not return.
func (s *session) readCounters() {
	for i, c := range s.counters {
		readings, err := c.ReadCounters()
		if err != nil {
			s.readFailed(c.Name(), err)
		}
		s.recons[i].add(readings)
	}
}

func (s *session) readFailed(sampler string, err error) {
	if n, ok := s.stats.errors[sampler]; ok {
		n.Add(1)
	}
	s.logger.Warn("Sample read failed", "error", &SampleReadError{Sampler: sampler, Tick: s.tick, Err: err})
}
