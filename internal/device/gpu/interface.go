// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package gpu

import (
	"github.com/ea2p/powermeter/internal/device"
	"github.com/ea2p/powermeter/internal/service"
)

// GPUDevice represents a single GPU device with its properties.
// This struct is vendor-agnostic.
type GPUDevice struct {
	// Index is the device index as reported by the GPU driver or tool (0-based)
	Index int

	// UUID is the globally unique identifier for this GPU, if known
	UUID string

	// Name is the product name (e.g., "NVIDIA A100-SXM4-40GB", "AMD MI250X")
	Name string

	// Vendor identifies the GPU manufacturer
	Vendor Vendor
}

// GPUPowerMeter reads the instantaneous power draw of one vendor's GPUs.
// Implementations must be safe for concurrent use.
type GPUPowerMeter interface {
	service.Service     // Name()
	service.Initializer // Init()
	service.Shutdowner  // Shutdown()

	// Vendor returns the GPU vendor
	Vendor() Vendor

	// Devices returns all discovered GPU devices
	Devices() []GPUDevice

	// GetPowerUsage returns the current power draw of a device
	GetPowerUsage(deviceIndex int) (device.Power, error)
}
