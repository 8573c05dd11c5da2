// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package nvidia

import (
	"log/slog"
	"sync"

	"github.com/ea2p/powermeter/internal/device"
	"github.com/ea2p/powermeter/internal/device/gpu"
)

func init() {
	gpu.Register(gpu.VendorNVIDIA, func(logger *slog.Logger) (gpu.GPUPowerMeter, error) {
		return NewGPUPowerCollector(logger), nil
	})
}

// GPUPowerCollector implements gpu.GPUPowerMeter for NVIDIA GPUs using NVML.
type GPUPowerCollector struct {
	logger  *slog.Logger
	nvml    *nvmlBackend
	devices []gpu.GPUDevice
	mu      sync.RWMutex
}

var _ gpu.GPUPowerMeter = (*GPUPowerCollector)(nil)

// NewGPUPowerCollector creates a new NVIDIA GPU power collector.
func NewGPUPowerCollector(logger *slog.Logger) *GPUPowerCollector {
	return newCollectorWithLib(logger, newRealNvmlLib())
}

func newCollectorWithLib(logger *slog.Logger, lib nvmlLib) *GPUPowerCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &GPUPowerCollector{
		logger: logger.With("component", "nvidia-gpu-collector"),
		nvml:   newNVMLBackend(logger, lib),
	}
}

func (c *GPUPowerCollector) Name() string {
	return "nvidia-gpu-power-collector"
}

// Init initializes NVML and discovers devices
func (c *GPUPowerCollector) Init() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.nvml.Init(); err != nil {
		return err
	}

	devices, err := c.nvml.discoverDevices()
	if err != nil {
		return err
	}
	c.devices = devices
	c.logger.Info("NVIDIA GPU collector initialized", "devices", len(devices))
	return nil
}

func (c *GPUPowerCollector) Shutdown() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.devices = nil
	return c.nvml.Shutdown()
}

func (c *GPUPowerCollector) Vendor() gpu.Vendor {
	return gpu.VendorNVIDIA
}

func (c *GPUPowerCollector) Devices() []gpu.GPUDevice {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]gpu.GPUDevice(nil), c.devices...)
}

func (c *GPUPowerCollector) GetPowerUsage(deviceIndex int) (device.Power, error) {
	dev, err := c.nvml.device(deviceIndex)
	if err != nil {
		return 0, err
	}
	return dev.powerUsage()
}
