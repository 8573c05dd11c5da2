// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package gpu

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// Factory creates a GPUPowerMeter for a specific vendor.
type Factory func(logger *slog.Logger) (GPUPowerMeter, error)

var (
	registry   = make(map[Vendor]Factory)
	registryMu sync.RWMutex
)

// ErrNoDevices is returned by Discover when a backend works but finds no GPU
var ErrNoDevices = errors.New("no GPU devices found")

// Register adds a GPU backend factory for the given vendor.
func Register(vendor Vendor, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[vendor] = factory
}

// Discover probes the backend of a vendor and returns an initialized meter.
// The error explains why the vendor is unavailable on this host.
func Discover(vendor Vendor, logger *slog.Logger) (GPUPowerMeter, error) {
	registryMu.RLock()
	factory, ok := registry[vendor]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("GPU vendor %q not registered", vendor)
	}

	meter, err := factory(logger)
	if err != nil {
		return nil, fmt.Errorf("creating %s backend: %w", vendor, err)
	}

	if err := meter.Init(); err != nil {
		return nil, fmt.Errorf("initializing %s backend: %w", vendor, err)
	}

	if len(meter.Devices()) == 0 {
		_ = meter.Shutdown()
		return nil, ErrNoDevices
	}
	return meter, nil
}

// DiscoverAll probes every registered backend. Vendors whose probe fails are
// skipped and their errors returned keyed by vendor.
func DiscoverAll(logger *slog.Logger) ([]GPUPowerMeter, map[Vendor]error) {
	var meters []GPUPowerMeter
	failures := map[Vendor]error{}
	for _, vendor := range RegisteredVendors() {
		meter, err := Discover(vendor, logger)
		if err != nil {
			failures[vendor] = err
			continue
		}
		meters = append(meters, meter)
	}
	return meters, failures
}

// RegisteredVendors returns all registered GPU vendors in a stable order.
func RegisteredVendors() []Vendor {
	registryMu.RLock()
	defer registryMu.RUnlock()

	vendors := make([]Vendor, 0, len(registry))
	for vendor := range registry {
		vendors = append(vendors, vendor)
	}
	slices.Sort(vendors)
	return vendors
}

// ClearRegistry removes all registered vendors.
// This is primarily useful for testing.
func ClearRegistry() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[Vendor]Factory)
}
