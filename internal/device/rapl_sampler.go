// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/prometheus/procfs/sysfs"
)

// RaplVariant selects which RAPL domains a sampler reports
type RaplVariant string

const (
	// RaplClient reports every powercap domain (package, core, uncore, dram, psys)
	RaplClient RaplVariant = "intel-client"
	// RaplServer reports package and dram domains only
	RaplServer RaplVariant = "intel-server"
)

var serverZones = []Zone{ZonePackage, ZoneDRAM}

// raplSampler implements CounterSampler over the Linux powercap sysfs interface
type raplSampler struct {
	variant    RaplVariant
	reader     sysfsReader
	logger     *slog.Logger
	zoneFilter []string

	zones map[string]EnergyZone // rail -> zone
	rails []string
}

var _ CounterSampler = (*raplSampler)(nil)

type RaplOptionFn func(*raplSampler)

// sysfsReader is an interface for a sysfs filesystem used by raplSampler to mock for testing
type sysfsReader interface {
	Zones() ([]EnergyZone, error)
}

// WithSysFSReader sets the sysfsReader used by raplSampler
func WithSysFSReader(r sysfsReader) RaplOptionFn {
	return func(s *raplSampler) {
		s.reader = r
	}
}

// WithRaplLogger sets the logger for raplSampler
func WithRaplLogger(logger *slog.Logger) RaplOptionFn {
	return func(s *raplSampler) {
		s.logger = logger.With("service", "rapl")
	}
}

// WithZoneFilter sets zone names to include; empty includes all zones
func WithZoneFilter(zones []string) RaplOptionFn {
	return func(s *raplSampler) {
		s.zoneFilter = zones
	}
}

// NewRaplSampler discovers the RAPL zones under sysfsPath and returns a
// counter sampler reporting one rail per zone and socket. A host without
// readable zones yields a ProbeError.
func NewRaplSampler(sysfsPath string, variant RaplVariant, opts ...RaplOptionFn) (CounterSampler, error) {
	s := &raplSampler{
		variant: variant,
		logger:  slog.Default().With("service", "rapl"),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.reader == nil {
		fs, err := sysfs.NewFS(sysfsPath)
		if err != nil {
			return nil, probeErr(s.Name(), "sysfs %s: %w", sysfsPath, err)
		}
		s.reader = sysfsRaplReader{fs: fs}
	}

	if err := s.init(); err != nil {
		return nil, &ProbeError{Sampler: s.Name(), Err: err}
	}
	return s, nil
}

func (s *raplSampler) Name() string {
	return string(s.variant)
}

func (s *raplSampler) Rails() []string {
	return slices.Clone(s.rails)
}

func (s *raplSampler) init() error {
	zones, err := s.reader.Zones()
	if err != nil {
		return err
	} else if len(zones) == 0 {
		return fmt.Errorf("no RAPL zones found")
	}

	zones = s.filterZones(zones)
	if len(zones) == 0 {
		return fmt.Errorf("no RAPL zones found after filtering")
	}

	s.zones = map[string]EnergyZone{}
	for _, zone := range zones {
		rail := RailName(zone)

		// ignore non-standard zones if a standard zone already exists
		if existing, exists := s.zones[rail]; exists && isStandardRaplPath(existing.Path()) {
			continue
		}
		s.zones[rail] = zone
	}

	// try reading one zone so that a permission problem surfaces as a probe failure
	for _, zone := range s.zones {
		if _, err := zone.Energy(); err != nil {
			return fmt.Errorf("reading zone %s: %w", zone.Path(), err)
		}
		break
	}

	s.rails = make([]string, 0, len(s.zones))
	for rail := range s.zones {
		s.rails = append(s.rails, rail)
	}
	slices.Sort(s.rails)

	// counters wrap at MaxEnergy; a wrap shows up as a reading below its
	// predecessor and is bridged by the reconciler
	for _, rail := range s.rails {
		zone := s.zones[rail]
		s.logger.Debug("RAPL zone", "rail", rail, "path", zone.Path(), "max-energy", zone.MaxEnergy())
	}

	s.logger.Info("RAPL zones discovered", "variant", s.variant, "rails", s.rails)
	return nil
}

// filterZones keeps the zones permitted by the variant and the configured filter
func (s *raplSampler) filterZones(zones []EnergyZone) []EnergyZone {
	wanted := map[string]bool{}
	for _, name := range s.zoneFilter {
		wanted[strings.ToLower(strings.TrimSpace(name))] = true
	}

	var included, excluded []string
	filtered := make([]EnergyZone, 0, len(zones))
	for _, zone := range zones {
		name := zoneBaseName(zone)
		keep := len(wanted) == 0 || wanted[name]
		if s.variant == RaplServer && !slices.Contains(serverZones, name) {
			keep = false
		}

		if keep {
			filtered = append(filtered, zone)
			included = append(included, zone.Name())
		} else {
			excluded = append(excluded, zone.Name())
		}
	}
	s.logger.Debug("Filtered RAPL zones", "included", included, "excluded", excluded)
	return filtered
}

// Start is a no-op; RAPL counters run continuously
func (s *raplSampler) Start() error {
	return nil
}

// ReadCounters reads every zone. A single failing zone fails the whole read
// so that a tick never carries a partial set of counters.
func (s *raplSampler) ReadCounters() (map[string]Energy, error) {
	readings := make(map[string]Energy, len(s.zones))
	for rail, zone := range s.zones {
		e, err := zone.Energy()
		if err != nil {
			return nil, fmt.Errorf("reading %s (%s): %w", rail, zone.Path(), err)
		}
		readings[rail] = e
	}
	return readings, nil
}

func (s *raplSampler) Stop() error {
	return nil
}

type sysfsRaplReader struct {
	fs sysfs.FS
}

func (r sysfsRaplReader) Zones() ([]EnergyZone, error) {
	raplZones, err := sysfs.GetRaplZones(r.fs)
	if err != nil {
		return nil, fmt.Errorf("failed to read rapl zones: %w", err)
	}

	energyZones := make([]EnergyZone, 0, len(raplZones))
	for _, zone := range raplZones {
		energyZones = append(energyZones, sysfsRaplZone{zone})
	}
	return energyZones, nil
}

// sysfsRaplZone adapts sysfs.RaplZone to EnergyZone
type sysfsRaplZone struct {
	zone sysfs.RaplZone
}

func (s sysfsRaplZone) Name() string {
	return s.zone.Name
}

func (s sysfsRaplZone) Index() int {
	return s.zone.Index
}

func (s sysfsRaplZone) Path() string {
	return s.zone.Path
}

func (s sysfsRaplZone) Energy() (Energy, error) {
	mj, err := s.zone.GetEnergyMicrojoules()
	return Energy(mj), err
}

func (s sysfsRaplZone) MaxEnergy() Energy {
	return Energy(s.zone.MaxMicrojoules)
}
