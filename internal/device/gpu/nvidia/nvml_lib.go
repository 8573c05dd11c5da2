// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package nvidia

import (
	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// nvmlLib is the slice of NVML the power backend needs: library lifecycle
// and device enumeration. Tests replace it with a mock.
type nvmlLib interface {
	Init() nvml.Return
	Shutdown() nvml.Return
	DeviceGetCount() (int, nvml.Return)
	DeviceGetHandleByIndex(index int) (nvmlDeviceHandle, nvml.Return)
	ErrorString(ret nvml.Return) string
}

// nvmlDeviceHandle identifies one board and reads its draw. GetPowerUsage
// is in milliwatts for the whole board, memory included.
type nvmlDeviceHandle interface {
	GetUUID() (string, nvml.Return)
	GetName() (string, nvml.Return)
	GetPowerUsage() (uint32, nvml.Return)
}

var (
	_ nvmlLib          = driverLib{}
	_ nvmlDeviceHandle = driverDevice{}
)

func newRealNvmlLib() nvmlLib {
	return driverLib{}
}

// driverLib forwards to the NVML shared library loaded by go-nvml
type driverLib struct{}

func (driverLib) Init() nvml.Return                  { return nvml.Init() }
func (driverLib) Shutdown() nvml.Return              { return nvml.Shutdown() }
func (driverLib) DeviceGetCount() (int, nvml.Return) { return nvml.DeviceGetCount() }
func (driverLib) ErrorString(ret nvml.Return) string { return nvml.ErrorString(ret) }

func (driverLib) DeviceGetHandleByIndex(index int) (nvmlDeviceHandle, nvml.Return) {
	dev, ret := nvml.DeviceGetHandleByIndex(index)
	if ret != nvml.SUCCESS {
		return nil, ret
	}
	return driverDevice{dev}, ret
}

type driverDevice struct {
	nvml.Device
}
