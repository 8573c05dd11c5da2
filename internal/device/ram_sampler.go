// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"bufio"
	"bytes"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v4/mem"
)

const RailDRAM = "dram"

// DIMMInfo describes the populated memory modules of the host
type DIMMInfo struct {
	Type   string // DDR3, DDR4, DDR5 ...
	SizeGB int    // size of a single module
	Count  int    // populated slots
}

// NominalPower returns the nominal power of one module for its type and size
func (d DIMMInfo) NominalPower() Power {
	switch t := strings.ToUpper(d.Type); {
	case strings.Contains(t, "DDR4"), strings.Contains(t, "DDR5"):
		switch d.SizeGB {
		case 16:
			return 4 * Watt
		case 32:
			return 5 * Watt
		case 64:
			return 6 * Watt
		case 128:
			return 8 * Watt
		default:
			return 10 * Watt
		}
	case strings.Contains(t, "DDR3"):
		return 4.5 * Watt
	default:
		return 0
	}
}

// loadFactor maps the used memory percentage to the share of nominal DIMM
// power drawn, in percent
func loadFactor(usedPercent float64) float64 {
	switch {
	case usedPercent <= 5:
		return 35
	case usedPercent <= 10:
		return 65
	case usedPercent <= 25:
		return 70
	case usedPercent <= 50:
		return 75
	case usedPercent <= 70:
		return 80
	default:
		return 85
	}
}

// ramSampler estimates DRAM power from the memory footprint and the DIMM layout
type ramSampler struct {
	logger     *slog.Logger
	cmd        Commander
	usedPct    func() (float64, error)
	dimm       DIMMInfo
	dimmPower  Power
	dimmCount  int
	skipProbes bool
}

var _ PowerSampler = (*ramSampler)(nil)

type RAMOptionFn func(*ramSampler)

func WithRAMLogger(logger *slog.Logger) RAMOptionFn {
	return func(s *ramSampler) {
		s.logger = logger.With("service", "ram")
	}
}

func WithRAMCommander(c Commander) RAMOptionFn {
	return func(s *ramSampler) {
		s.cmd = c
	}
}

// WithMemoryUsage overrides how the used memory percentage is read
func WithMemoryUsage(fn func() (float64, error)) RAMOptionFn {
	return func(s *ramSampler) {
		s.usedPct = fn
	}
}

// WithDIMMs skips dmidecode and uses count modules of power p each
func WithDIMMs(count int, p Power) RAMOptionFn {
	return func(s *ramSampler) {
		if count > 0 && p > 0 {
			s.dimmCount = count
			s.dimmPower = p
			s.skipProbes = true
		}
	}
}

func virtualMemoryUsedPercent() (float64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

// NewRAMSampler returns the DRAM estimator. The DIMM layout is read once with
// dmidecode unless given with WithDIMMs; failing that is a ProbeError.
func NewRAMSampler(opts ...RAMOptionFn) (PowerSampler, error) {
	s := &ramSampler{
		logger:  slog.Default().With("service", "ram"),
		cmd:     DefaultCommander,
		usedPct: virtualMemoryUsedPercent,
	}
	for _, opt := range opts {
		opt(s)
	}

	if !s.skipProbes {
		out, err := s.cmd.Output("dmidecode", "-t", "17")
		if err != nil {
			return nil, probeErr(s.Name(), "dmidecode: %w", err)
		}
		s.dimm = parseDMIDecode(out)
		s.dimmCount = s.dimm.Count
		s.dimmPower = s.dimm.NominalPower()
	}

	if s.dimmCount == 0 || s.dimmPower == 0 {
		return nil, probeErr(s.Name(), "no usable DIMM information (type=%q count=%d)", s.dimm.Type, s.dimmCount)
	}

	if _, err := s.usedPct(); err != nil {
		return nil, probeErr(s.Name(), "memory usage: %w", err)
	}

	s.logger.Info("RAM estimator configured",
		"dimms", s.dimmCount, "dimm_power", s.dimmPower, "type", s.dimm.Type, "size_gb", s.dimm.SizeGB)
	return s, nil
}

func (s *ramSampler) Name() string {
	return "ram"
}

func (s *ramSampler) Rails() []string {
	return []string{RailDRAM}
}

// Sample returns nominal DIMM power scaled by the current load factor
func (s *ramSampler) Sample() (map[string]Power, error) {
	used, err := s.usedPct()
	if err != nil {
		return nil, fmt.Errorf("reading memory usage: %w", err)
	}
	p := s.dimmPower * Power(s.dimmCount) * Power(loadFactor(used)) / 100
	return map[string]Power{RailDRAM: p}, nil
}

// parseDMIDecode extracts the type and size of the first populated module
// and counts the populated "Memory Device" entries of `dmidecode -t 17`.
func parseDMIDecode(out []byte) DIMMInfo {
	var info DIMMInfo
	var inDevice bool

	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "Memory Device" {
			inDevice = true
			continue
		}
		if !inDevice {
			continue
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)

		switch strings.TrimSpace(key) {
		case "Size":
			gb, ok := parseModuleSize(value)
			if !ok {
				// "No Module Installed"
				inDevice = false
				continue
			}
			info.Count++
			if info.SizeGB == 0 {
				info.SizeGB = gb
			}
		case "Type":
			if info.Type == "" && value != "Unknown" && value != "Other" {
				info.Type = value
			}
		}
	}
	return info
}

func parseModuleSize(v string) (int, bool) {
	fields := strings.Fields(v)
	if len(fields) != 2 {
		return 0, false
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil || n <= 0 {
		return 0, false
	}
	switch strings.ToUpper(fields[1]) {
	case "GB":
		return n, true
	case "MB":
		return n / 1024, true
	case "TB":
		return n * 1024, true
	default:
		return 0, false
	}
}
