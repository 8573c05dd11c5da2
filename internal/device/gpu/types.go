// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package gpu

import "fmt"

// Vendor names a GPU backend. It prefixes the rails of that backend's devices.
type Vendor string

const (
	VendorNVIDIA Vendor = "nvidia"
	VendorAMD    Vendor = "amd"
	// VendorUnknown has no backend; Discover reports it as a probe failure
	VendorUnknown Vendor = "unknown"
)

// RailName returns the rail a GPU device reports as, e.g. "nvidia-gpu-0"
func RailName(v Vendor, index int) string {
	return fmt.Sprintf("%s-gpu-%d", v, index)
}

// ErrGPUNotFound is returned when a power reading names a device index the
// meter did not enumerate
type ErrGPUNotFound struct {
	DeviceIndex int
}

func (e ErrGPUNotFound) Error() string {
	return fmt.Sprintf("no GPU with index %d", e.DeviceIndex)
}

// ErrGPUNotInitialized is returned when a meter is read before Init
// enumerated its devices
type ErrGPUNotInitialized struct{}

func (e ErrGPUNotInitialized) Error() string {
	return "GPU power meter read before Init"
}
