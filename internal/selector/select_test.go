// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package selector

import (
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ea2p/powermeter/internal/device"
	"github.com/ea2p/powermeter/internal/device/gpu"
	"github.com/ea2p/powermeter/internal/platform/redfish"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type stubMeter struct {
	vendor   gpu.Vendor
	devices  []gpu.GPUDevice
	shutdown int
}

func (m *stubMeter) Name() string             { return string(m.vendor) }
func (m *stubMeter) Init() error              { return nil }
func (m *stubMeter) Shutdown() error          { m.shutdown++; return nil }
func (m *stubMeter) Vendor() gpu.Vendor       { return m.vendor }
func (m *stubMeter) Devices() []gpu.GPUDevice { return m.devices }
func (m *stubMeter) GetPowerUsage(int) (device.Power, error) {
	return 50 * device.Watt, nil
}

type stubPlatform struct {
	device.PowerSampler
	shutdown int
}

func (p *stubPlatform) Shutdown() error { p.shutdown++; return nil }

// testSelector returns a selector whose probes describe the given host
func testSelector(model string, gpus map[gpu.Vendor]bool) *Selector {
	s := New(WithLogger(testLogger()))
	s.cpuFacts = func(string) (CPUFacts, error) {
		return CPUFacts{Model: model, Packages: 1}, nil
	}
	s.gpuVendors = func() []gpu.Vendor { return []gpu.Vendor{gpu.VendorAMD, gpu.VendorNVIDIA} }
	s.discoverGPU = func(v gpu.Vendor, _ *slog.Logger) (gpu.GPUPowerMeter, error) {
		if !gpus[v] {
			return nil, errors.New("driver not loaded")
		}
		return &stubMeter{vendor: v, devices: []gpu.GPUDevice{{Index: 0}}}, nil
	}
	s.newCPU = func(_ Request, v CPUVariant, _ CPUFacts, _ *slog.Logger) (device.CounterSampler, error) {
		return device.NewFakeCPUSampler(nil)
	}
	s.newRAM = func(Request, *slog.Logger) (device.PowerSampler, error) {
		return device.NewFakePowerSampler("ram", map[string]device.Power{device.RailDRAM: 5 * device.Watt}), nil
	}
	s.newRedfish = func(redfish.BMC, *slog.Logger) (device.PowerSampler, error) {
		return &stubPlatform{PowerSampler: device.NewFakePowerSampler("redfish",
			map[string]device.Power{redfish.RailName("1"): 200 * device.Watt})}, nil
	}
	return s
}

func samplerNames(res *Result) []string {
	var names []string
	for _, s := range res.Samplers {
		names = append(names, s.Name())
	}
	return names
}

func TestSelectAllClasses(t *testing.T) {
	s := testSelector(coreModel, map[gpu.Vendor]bool{gpu.VendorNVIDIA: true, gpu.VendorAMD: true})

	res, err := s.Select(Request{
		Classes: []string{"cpu", "gpu", "ram", "platform"},
		Redfish: &redfish.BMC{Endpoint: "https://bmc.example"},
	})
	require.NoError(t, err)

	assert.Equal(t, Plan{
		CPU:        CPUIntelClient,
		GPUVendors: []gpu.Vendor{gpu.VendorAMD, gpu.VendorNVIDIA},
		RAM:        true,
		Platform:   true,
	}, res.Plan)
	assert.Equal(t, []string{"intel-client", "amd-gpu", "nvidia-gpu", "ram", "redfish"}, samplerNames(res))

	require.NoError(t, res.Shutdown())
	assert.Len(t, res.closers, 3)
}

func TestSelectOmitsFailedProbes(t *testing.T) {
	s := testSelector(xeonModel, map[gpu.Vendor]bool{gpu.VendorNVIDIA: true})
	s.newCPU = func(Request, CPUVariant, CPUFacts, *slog.Logger) (device.CounterSampler, error) {
		return nil, &device.ProbeError{Sampler: "rapl", Err: errors.New("no RAPL zones found")}
	}

	res, err := s.Select(Request{Classes: []string{"cpu", "gpu", "ram", "platform"}})
	require.NoError(t, err)

	// no DRAM counter after the RAPL probe failed, so RAM is estimated
	assert.Equal(t, Plan{GPUVendors: []gpu.Vendor{gpu.VendorNVIDIA}, RAM: true}, res.Plan)
	assert.Equal(t, []string{"nvidia-gpu", "ram"}, samplerNames(res))
}

func TestSelectServerSkipsRAMEstimator(t *testing.T) {
	s := testSelector(xeonModel, nil)

	res, err := s.Select(Request{Classes: []string{"cpu", "ram"}})
	require.NoError(t, err)
	assert.Equal(t, Plan{CPU: CPUIntelServer}, res.Plan)
	assert.Len(t, res.Samplers, 1)
}

func TestSelectConfigurationErrors(t *testing.T) {
	nvidia := &stubMeter{vendor: gpu.VendorNVIDIA, devices: []gpu.GPUDevice{{Index: 0}}}
	s := testSelector("Intel(R) Celeron(R) N4020", nil)
	s.discoverGPU = func(gpu.Vendor, *slog.Logger) (gpu.GPUPowerMeter, error) { return nvidia, nil }

	var cfgErr *ConfigurationError

	_, err := s.Select(Request{Classes: []string{"cpu", "gpu"}})
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, err.Error(), "unsupported CPU")
	assert.Equal(t, 2, nvidia.shutdown, "probed meters are released on failure")

	_, err = s.Select(Request{Classes: nil})
	assert.ErrorAs(t, err, &cfgErr)

	_, err = s.Select(Request{Classes: []string{"disk"}})
	assert.ErrorAs(t, err, &cfgErr)

	s.cpuFacts = func(string) (CPUFacts, error) { return CPUFacts{}, errors.New("no such file") }
	_, err = s.Select(Request{Classes: []string{"cpu"}})
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, err.Error(), "cannot identify CPU")
}

func TestSelectPlatformWithoutEndpoint(t *testing.T) {
	s := testSelector(coreModel, nil)
	called := false
	s.newRedfish = func(redfish.BMC, *slog.Logger) (device.PowerSampler, error) {
		called = true
		return nil, errors.New("unreachable")
	}

	res, err := s.Select(Request{Classes: []string{"platform"}})
	require.NoError(t, err)
	assert.False(t, called)
	assert.Empty(t, res.Samplers)
	assert.True(t, res.Plan.Empty())
}

func TestSelectFake(t *testing.T) {
	s := New(WithLogger(testLogger()))

	res, err := s.Select(Request{Classes: []string{"cpu", "gpu", "ram", "platform"}, FakeMeters: true})
	require.NoError(t, err)
	assert.Equal(t, CPUIntelClient, res.Plan.CPU)
	require.Len(t, res.Samplers, 4)

	var rails []string
	for _, sampler := range res.Samplers {
		rails = append(rails, sampler.Rails()...)
	}
	assert.Contains(t, rails, "nvidia-gpu-0")
	assert.Contains(t, rails, "dram")
	assert.Contains(t, rails, "platform-1")
	assert.Contains(t, rails, "package-0")
	assert.NoError(t, res.Shutdown())
}
