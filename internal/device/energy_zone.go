// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// EnergyZone is a single RAPL power domain exposing a monotonic energy counter
type EnergyZone interface {
	// Name of the zone, e.g. package, core, dram
	Name() string

	// Index of the zone as reported by the reader
	Index() int

	// Path of the zone in sysfs
	Path() string

	// Energy returns the current counter value
	Energy() (Energy, error)

	// MaxEnergy returns the value at which the counter wraps
	MaxEnergy() Energy
}

type Zone = string

const (
	ZonePackage Zone = "package"
	ZoneCore    Zone = "core"
	ZoneDRAM    Zone = "dram"
	ZoneUncore  Zone = "uncore"
	ZonePSys    Zone = "psys"
)

var (
	// intel-rapl:<socket> or intel-rapl:<socket>:<subdomain>
	raplDirRe = regexp.MustCompile(`^intel-rapl(?:-mmio)?:(\d+)(?::(\d+))?$`)
	// package-0, dram-1 ...
	indexedNameRe = regexp.MustCompile(`^(.*)-(\d+)$`)
)

// zoneSocket returns the socket (top level RAPL domain) a zone belongs to.
// The socket is taken from the zone's directory name so that sub-domains
// are attributed to their parent explicitly, not by enumeration order.
func zoneSocket(z EnergyZone) int {
	if m := raplDirRe.FindStringSubmatch(filepath.Base(z.Path())); m != nil {
		if socket, err := strconv.Atoi(m[1]); err == nil {
			return socket
		}
	}
	if m := indexedNameRe.FindStringSubmatch(z.Name()); m != nil {
		if socket, err := strconv.Atoi(m[2]); err == nil {
			return socket
		}
	}
	return z.Index()
}

// zoneBaseName strips the socket suffix from names like "package-0"
func zoneBaseName(z EnergyZone) string {
	name := strings.ToLower(strings.TrimSpace(z.Name()))
	if m := indexedNameRe.FindStringSubmatch(name); m != nil {
		return m[1]
	}
	return name
}

// RailName returns the rail a zone reports as, e.g. "package-0" or "dram-1"
func RailName(z EnergyZone) string {
	return fmt.Sprintf("%s-%d", zoneBaseName(z), zoneSocket(z))
}

// isStandardRaplPath checks if a RAPL zone path is in the standard format
func isStandardRaplPath(path string) bool {
	return strings.Contains(path, "/intel-rapl:")
}
