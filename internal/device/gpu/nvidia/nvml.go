// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package nvidia

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/NVIDIA/go-nvml/pkg/nvml"

	"github.com/ea2p/powermeter/internal/device"
	"github.com/ea2p/powermeter/internal/device/gpu"
)

// nvmlBackend owns the NVML library handle and the devices found at Init.
// All methods are safe for concurrent use.
type nvmlBackend struct {
	logger      *slog.Logger
	lib         nvmlLib
	devices     []nvmlDevice
	initialized bool
	mu          sync.RWMutex
}

type nvmlDevice struct {
	index  int
	handle nvmlDeviceHandle
	lib    nvmlLib
	uuid   string
	name   string
}

func newNVMLBackend(logger *slog.Logger, lib nvmlLib) *nvmlBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &nvmlBackend{
		logger: logger.With("component", "nvml"),
		lib:    lib,
	}
}

// Init initializes the NVML library and discovers all GPU devices
func (n *nvmlBackend) Init() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.initialized {
		return nil
	}

	ret := n.lib.Init()
	if ret != nvml.SUCCESS {
		return fmt.Errorf("NVML init failed: %s", n.lib.ErrorString(ret))
	}

	count, ret := n.lib.DeviceGetCount()
	if ret != nvml.SUCCESS {
		_ = n.lib.Shutdown()
		return fmt.Errorf("failed to get device count: %s", n.lib.ErrorString(ret))
	}

	n.devices = make([]nvmlDevice, 0, count)
	for i := 0; i < count; i++ {
		handle, ret := n.lib.DeviceGetHandleByIndex(i)
		if ret != nvml.SUCCESS {
			n.logger.Warn("failed to get device handle", "index", i, "error", n.lib.ErrorString(ret))
			continue
		}

		uuid, ret := handle.GetUUID()
		if ret != nvml.SUCCESS {
			uuid = fmt.Sprintf("gpu-%d", i)
		}

		name, ret := handle.GetName()
		if ret != nvml.SUCCESS {
			name = "Unknown NVIDIA GPU"
		}

		n.devices = append(n.devices, nvmlDevice{
			index:  i,
			handle: handle,
			lib:    n.lib,
			uuid:   uuid,
			name:   name,
		})

		n.logger.Info("discovered GPU", "index", i, "uuid", uuid, "name", name)
	}

	n.initialized = true
	n.logger.Info("NVML initialized", "device_count", len(n.devices))
	return nil
}

// Shutdown cleans up NVML resources
func (n *nvmlBackend) Shutdown() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.initialized {
		return nil
	}

	ret := n.lib.Shutdown()
	if ret != nvml.SUCCESS {
		return fmt.Errorf("NVML shutdown failed: %s", n.lib.ErrorString(ret))
	}

	n.devices = nil
	n.initialized = false
	n.logger.Info("NVML shutdown complete")
	return nil
}

func (n *nvmlBackend) device(index int) (*nvmlDevice, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if !n.initialized {
		return nil, gpu.ErrGPUNotInitialized{}
	}
	for i := range n.devices {
		if n.devices[i].index == index {
			return &n.devices[i], nil
		}
	}
	return nil, gpu.ErrGPUNotFound{DeviceIndex: index}
}

// discoverDevices returns vendor-agnostic information for all discovered devices
func (n *nvmlBackend) discoverDevices() ([]gpu.GPUDevice, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if !n.initialized {
		return nil, gpu.ErrGPUNotInitialized{}
	}

	devices := make([]gpu.GPUDevice, len(n.devices))
	for i, dev := range n.devices {
		devices[i] = gpu.GPUDevice{
			Index:  dev.index,
			UUID:   dev.uuid,
			Name:   dev.name,
			Vendor: gpu.VendorNVIDIA,
		}
	}
	return devices, nil
}

// powerUsage returns the current power draw of the device
func (d *nvmlDevice) powerUsage() (device.Power, error) {
	// NVML reports milliwatts
	powerMW, ret := d.handle.GetPowerUsage()
	if ret != nvml.SUCCESS {
		return 0, fmt.Errorf("failed to get power usage: %s", d.lib.ErrorString(ret))
	}
	return device.Power(powerMW) * device.MilliWatt, nil
}
