// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"fmt"
	"log/slog"
	"maps"
	"math/rand"
	"slices"
	"sync"
)

// NOTE: fake samplers are for development on hosts without RAPL or GPUs and for tests

var defaultFakeZones = []Zone{ZonePackage, ZoneCore, ZoneDRAM}

const fakeRaplRoot = "/sys/class/powercap"

// fakeEnergyZone implements EnergyZone with a counter that advances on every read
type fakeEnergyZone struct {
	name      string
	index     int
	path      string
	energy    Energy
	maxEnergy Energy
	mu        sync.Mutex

	increment    Energy
	randomFactor float64
}

var _ EnergyZone = (*fakeEnergyZone)(nil)

func (z *fakeEnergyZone) Name() string {
	return z.name
}

func (z *fakeEnergyZone) Index() int {
	return z.index
}

func (z *fakeEnergyZone) Path() string {
	return z.path
}

func (z *fakeEnergyZone) Energy() (Energy, error) {
	z.mu.Lock()
	defer z.mu.Unlock()

	randomComponent := Energy(rand.Float64() * float64(z.increment) * z.randomFactor)
	z.energy = (z.energy + z.increment + randomComponent) % z.maxEnergy
	return z.energy, nil
}

func (z *fakeEnergyZone) MaxEnergy() Energy {
	return z.maxEnergy
}

type fakeZoneReader struct {
	zones []EnergyZone
}

func (r fakeZoneReader) Zones() ([]EnergyZone, error) {
	return r.zones, nil
}

// FakeOptFn configures the fake samplers
type FakeOptFn func(*fakeOpts)

type fakeOpts struct {
	logger       *slog.Logger
	maxEnergy    Energy
	randomFactor float64
}

// WithFakeMaxEnergy sets the value at which fake counters wrap
func WithFakeMaxEnergy(e Energy) FakeOptFn {
	return func(o *fakeOpts) {
		o.maxEnergy = e
	}
}

// WithFakeJitter sets the random share added to every fake reading; 0 is deterministic
func WithFakeJitter(f float64) FakeOptFn {
	return func(o *fakeOpts) {
		o.randomFactor = f
	}
}

func WithFakeLogger(l *slog.Logger) FakeOptFn {
	return func(o *fakeOpts) {
		o.logger = l
	}
}

func defaultFakeOpts() fakeOpts {
	return fakeOpts{
		logger:       slog.Default(),
		maxEnergy:    262143328850,
		randomFactor: 0.5,
	}
}

// NewFakeCPUSampler returns an Intel client style counter sampler backed by
// fake powercap zones on a single socket
func NewFakeCPUSampler(zones []string, opts ...FakeOptFn) (CounterSampler, error) {
	o := defaultFakeOpts()
	for _, apply := range opts {
		apply(&o)
	}

	// nil and empty slices are equivalent
	if len(zones) == 0 {
		zones = defaultFakeZones
	}

	// µJ per read
	increment := map[Zone]Energy{
		ZonePackage: 12 * Joule,
		ZoneCore:    8 * Joule,
		ZoneDRAM:    5 * Joule,
		ZoneUncore:  2 * Joule,
	}

	fakeZones := make([]EnergyZone, 0, len(zones))
	for i, name := range zones {
		path := fmt.Sprintf("%s/intel-rapl:0:%d", fakeRaplRoot, i-1)
		if i == 0 {
			path = fakeRaplRoot + "/intel-rapl:0"
		}
		inc, ok := increment[name]
		if !ok {
			inc = Joule
		}
		fakeZones = append(fakeZones, &fakeEnergyZone{
			name:         name,
			path:         path,
			maxEnergy:    o.maxEnergy,
			increment:    inc,
			randomFactor: o.randomFactor,
		})
	}

	return NewRaplSampler("", RaplClient,
		WithSysFSReader(fakeZoneReader{zones: fakeZones}),
		WithRaplLogger(o.logger.With("fake", true)))
}

// fakePowerSampler reports a constant power draw per rail plus optional jitter
type fakePowerSampler struct {
	name         string
	watts        map[string]Power
	randomFactor float64
}

var _ PowerSampler = (*fakePowerSampler)(nil)

// NewFakePowerSampler returns a power sampler named name that reports watts
func NewFakePowerSampler(name string, watts map[string]Power, opts ...FakeOptFn) PowerSampler {
	o := defaultFakeOpts()
	for _, apply := range opts {
		apply(&o)
	}
	return &fakePowerSampler{
		name:         name,
		watts:        maps.Clone(watts),
		randomFactor: o.randomFactor,
	}
}

func (f *fakePowerSampler) Name() string {
	return f.name
}

func (f *fakePowerSampler) Rails() []string {
	return slices.Sorted(maps.Keys(f.watts))
}

func (f *fakePowerSampler) Sample() (map[string]Power, error) {
	ret := make(map[string]Power, len(f.watts))
	for rail, p := range f.watts {
		ret[rail] = p + Power(rand.Float64()*float64(p)*f.randomFactor)
	}
	return ret, nil
}
