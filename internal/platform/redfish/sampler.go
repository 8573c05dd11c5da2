// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package redfish

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"k8s.io/utils/clock"

	"github.com/ea2p/powermeter/internal/device"
	"github.com/ea2p/powermeter/internal/service"
)

// reader is the part of PowerReader the sampler depends on
type reader interface {
	Init() error
	ReadAll() ([]Chassis, error)
	Close()
}

// Sampler reports platform power as one rail per chassis. Concurrent samples
// share a single BMC round trip, and readings younger than the staleness
// window are served from cache.
type Sampler struct {
	logger    *slog.Logger
	reader    reader
	clock     clock.PassiveClock
	staleness time.Duration

	rails []string
	group singleflight.Group

	mu       sync.RWMutex
	cached   map[string]Power
	cachedAt time.Time
}

var (
	_ device.PowerSampler = (*Sampler)(nil)
	_ service.Shutdowner  = (*Sampler)(nil)
)

// OptionFn configures the Sampler
type OptionFn func(*Sampler)

// WithStaleness sets how long a reading is reused before the BMC is queried again
func WithStaleness(d time.Duration) OptionFn {
	return func(s *Sampler) {
		s.staleness = d
	}
}

// WithClock sets the clock used to age cached readings
func WithClock(c clock.PassiveClock) OptionFn {
	return func(s *Sampler) {
		s.clock = c
	}
}

func withReader(r reader) OptionFn {
	return func(s *Sampler) {
		s.reader = r
	}
}

// NewSampler connects to the BMC and discovers the chassis that report power.
// Failures are returned as a device.ProbeError.
func NewSampler(bmc BMC, logger *slog.Logger, opts ...OptionFn) (*Sampler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("service", "platform.redfish")

	s := &Sampler{
		logger:    logger,
		clock:     clock.RealClock{},
		staleness: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.reader == nil {
		s.reader = NewPowerReader(bmc, logger)
	}

	if err := s.reader.Init(); err != nil {
		return nil, &device.ProbeError{Sampler: s.Name(), Err: err}
	}

	chassis, err := s.reader.ReadAll()
	if err != nil {
		s.reader.Close()
		return nil, &device.ProbeError{Sampler: s.Name(), Err: err}
	}
	for _, c := range chassis {
		s.rails = append(s.rails, RailName(c.ID))
	}
	slices.Sort(s.rails)
	s.rails = slices.Compact(s.rails)

	s.store(chassis)
	s.logger.Info("Redfish platform sampler ready", "rails", s.rails)
	return s, nil
}

func (s *Sampler) Name() string {
	return "redfish"
}

func (s *Sampler) Rails() []string {
	return slices.Clone(s.rails)
}

// Sample returns the total power of each chassis. Chassis that stop
// reporting read zero.
func (s *Sampler) Sample() (map[string]device.Power, error) {
	if readings, ok := s.fresh(); ok {
		return readings, nil
	}

	v, err, shared := s.group.Do("read", func() (any, error) {
		chassis, err := s.reader.ReadAll()
		if err != nil {
			return nil, fmt.Errorf("failed to collect power data from BMC: %w", err)
		}
		return s.store(chassis), nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.logger.Debug("Shared BMC reading between concurrent samples")
	}
	return cloneReadings(v.(map[string]Power)), nil
}

// Shutdown logs out from the BMC
func (s *Sampler) Shutdown() error {
	s.reader.Close()
	return nil
}

func (s *Sampler) fresh() (map[string]Power, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.cached == nil || s.clock.Since(s.cachedAt) > s.staleness {
		return nil, false
	}
	return cloneReadings(s.cached), true
}

func (s *Sampler) store(chassis []Chassis) map[string]Power {
	readings := make(map[string]Power, len(s.rails))
	for _, rail := range s.rails {
		readings[rail] = 0
	}
	for _, c := range chassis {
		rail := RailName(c.ID)
		if _, ok := readings[rail]; !ok {
			s.logger.Debug("Ignoring chassis discovered after start", "chassis_id", c.ID)
			continue
		}
		readings[rail] += c.Total()
	}

	s.mu.Lock()
	s.cached = readings
	s.cachedAt = s.clock.Now()
	s.mu.Unlock()
	return readings
}

func cloneReadings(in map[string]Power) map[string]device.Power {
	out := make(map[string]device.Power, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
