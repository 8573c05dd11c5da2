// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package amd

import (
	"bufio"
	"bytes"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strconv"
	"sync"

	"github.com/ea2p/powermeter/internal/device"
	"github.com/ea2p/powermeter/internal/device/gpu"
)

const rocmSMI = "rocm-smi"

func init() {
	gpu.Register(gpu.VendorAMD, func(logger *slog.Logger) (gpu.GPUPowerMeter, error) {
		return NewROCmPowerMeter(logger, device.DefaultCommander), nil
	})
}

// GPU[0]		: Average Graphics Package Power (W): 35.0
// GPU[1]		: Current Socket Graphics Package Power (W): 112.0
var powerLineRe = regexp.MustCompile(`^GPU\[(\d+)\]\s*:\s*.*Power \(W\):\s*([0-9.]+)\s*$`)

// ROCmPowerMeter reads AMD GPU power by running rocm-smi --showpower.
type ROCmPowerMeter struct {
	logger *slog.Logger
	cmd    device.Commander

	mu      sync.RWMutex
	path    string
	devices []gpu.GPUDevice
}

var _ gpu.GPUPowerMeter = (*ROCmPowerMeter)(nil)

// NewROCmPowerMeter creates a meter that runs rocm-smi through cmd
func NewROCmPowerMeter(logger *slog.Logger, cmd device.Commander) *ROCmPowerMeter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ROCmPowerMeter{
		logger: logger.With("component", "amd-gpu-meter"),
		cmd:    cmd,
	}
}

func (r *ROCmPowerMeter) Name() string {
	return "amd-gpu-power-meter"
}

// Init locates rocm-smi and discovers the devices it reports power for
func (r *ROCmPowerMeter) Init() error {
	path, err := r.cmd.LookPath(rocmSMI)
	if err != nil {
		return fmt.Errorf("%s not available: %w", rocmSMI, err)
	}

	r.mu.Lock()
	r.path = path
	r.mu.Unlock()

	readings, err := r.readAll()
	if err != nil {
		return err
	}

	devices := make([]gpu.GPUDevice, 0, len(readings))
	for idx := range readings {
		devices = append(devices, gpu.GPUDevice{
			Index:  idx,
			UUID:   fmt.Sprintf("amd-gpu-%d", idx),
			Name:   "AMD GPU",
			Vendor: gpu.VendorAMD,
		})
	}
	slices.SortFunc(devices, func(a, b gpu.GPUDevice) int { return a.Index - b.Index })

	r.mu.Lock()
	r.devices = devices
	r.mu.Unlock()

	r.logger.Info("rocm-smi initialized", "devices", len(devices))
	return nil
}

func (r *ROCmPowerMeter) Shutdown() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices = nil
	r.path = ""
	return nil
}

func (r *ROCmPowerMeter) Vendor() gpu.Vendor {
	return gpu.VendorAMD
}

func (r *ROCmPowerMeter) Devices() []gpu.GPUDevice {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]gpu.GPUDevice(nil), r.devices...)
}

// GetPowerUsage runs rocm-smi and returns the reading of one device
func (r *ROCmPowerMeter) GetPowerUsage(deviceIndex int) (device.Power, error) {
	readings, err := r.readAll()
	if err != nil {
		return 0, err
	}
	p, ok := readings[deviceIndex]
	if !ok {
		return 0, gpu.ErrGPUNotFound{DeviceIndex: deviceIndex}
	}
	return p, nil
}

func (r *ROCmPowerMeter) readAll() (map[int]device.Power, error) {
	r.mu.RLock()
	path := r.path
	r.mu.RUnlock()
	if path == "" {
		return nil, gpu.ErrGPUNotInitialized{}
	}

	out, err := r.cmd.Output(path, "--showpower")
	if err != nil {
		return nil, err
	}
	return parseShowPower(out), nil
}

// parseShowPower extracts per-device power from rocm-smi --showpower output.
// The first reading of a device wins.
func parseShowPower(out []byte) map[int]device.Power {
	ret := map[int]device.Power{}
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		m := powerLineRe.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		watts, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		if _, seen := ret[idx]; !seen {
			ret[idx] = device.Power(watts) * device.Watt
		}
	}
	return ret
}
