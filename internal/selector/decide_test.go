// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package selector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ea2p/powermeter/internal/device/gpu"
)

const (
	coreModel  = "Intel(R) Core(TM) i7-10510U CPU @ 1.80GHz"
	xeonModel  = "Intel(R) Xeon(R) Gold 6248 CPU @ 2.50GHz"
	epycModel  = "AMD EPYC 7763 64-Core Processor"
	ryzenModel = "AMD Ryzen 9 5950X 16-Core Processor"
)

func TestClassifyCPU(t *testing.T) {
	tt := []struct {
		model string
		want  CPUVariant
	}{
		{coreModel, CPUIntelClient},
		{xeonModel, CPUIntelServer},
		{epycModel, CPUAMD},
		{ryzenModel, CPUAMD},
		{"Intel(R) Pentium(R) CPU G4560", CPUNone},
		{"Intel(R) Celeron(R) N4020", CPUNone},
		{"", CPUNone},
	}
	for _, tc := range tt {
		t.Run(tc.model, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyCPU(tc.model))
		})
	}
}

func TestParseClasses(t *testing.T) {
	classes, err := ParseClasses([]string{"CPU", " gpu ", "ram", "cpu", ""})
	require.NoError(t, err)
	assert.Equal(t, []Class{ClassCPU, ClassGPU, ClassRAM}, classes)

	_, err = ParseClasses(nil)
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Reason, "no device class requested")

	_, err = ParseClasses([]string{"", "  "})
	assert.ErrorAs(t, err, &cfgErr)

	_, err = ParseClasses([]string{"cpu", "tpu"})
	require.ErrorAs(t, err, &cfgErr)
	assert.EqualError(t, err, `invalid device selection: unknown device class "tpu"; supported: cpu, gpu, ram, platform`)
}

func TestDecide(t *testing.T) {
	bothGPUs := []gpu.Vendor{gpu.VendorAMD, gpu.VendorNVIDIA}

	tt := []struct {
		name    string
		classes []Class
		facts   Facts
		want    Plan
		wantErr string
	}{{
		name:    "intel client with ram",
		classes: []Class{ClassCPU, ClassRAM},
		facts:   Facts{CPUModel: coreModel},
		want:    Plan{CPU: CPUIntelClient, RAM: true},
	}, {
		name:    "intel server disables ram estimator",
		classes: []Class{ClassCPU, ClassRAM},
		facts:   Facts{CPUModel: xeonModel},
		want:    Plan{CPU: CPUIntelServer},
	}, {
		name:    "ram alone on a server host",
		classes: []Class{ClassRAM},
		facts:   Facts{CPUModel: xeonModel},
		want:    Plan{RAM: true},
	}, {
		name:    "amd cpu",
		classes: []Class{ClassCPU},
		facts:   Facts{CPUModel: epycModel},
		want:    Plan{CPU: CPUAMD},
	}, {
		name:    "both gpu vendors",
		classes: []Class{ClassGPU},
		facts:   Facts{GPUVendors: bothGPUs},
		want:    Plan{GPUVendors: bothGPUs},
	}, {
		name:    "gpu probe failed for every vendor",
		classes: []Class{ClassGPU, ClassRAM},
		facts:   Facts{},
		want:    Plan{RAM: true},
	}, {
		name:    "gpu facts ignored when gpu not requested",
		classes: []Class{ClassCPU},
		facts:   Facts{CPUModel: coreModel, GPUVendors: bothGPUs, Platform: true},
		want:    Plan{CPU: CPUIntelClient},
	}, {
		name:    "platform",
		classes: []Class{ClassPlatform},
		facts:   Facts{Platform: true},
		want:    Plan{Platform: true},
	}, {
		name:    "platform probe failed",
		classes: []Class{ClassPlatform},
		facts:   Facts{},
		want:    Plan{},
	}, {
		name:    "unclassifiable intel cpu",
		classes: []Class{ClassCPU, ClassGPU},
		facts:   Facts{CPUModel: "Intel(R) Pentium(R) CPU G4560", GPUVendors: bothGPUs},
		wantErr: `invalid device selection: unsupported CPU "Intel(R) Pentium(R) CPU G4560"`,
	}, {
		name:    "unclassifiable cpu is fine when cpu not requested",
		classes: []Class{ClassGPU},
		facts:   Facts{CPUModel: "Intel(R) Pentium(R) CPU G4560", GPUVendors: bothGPUs[:1]},
		want:    Plan{GPUVendors: []gpu.Vendor{gpu.VendorAMD}},
	}, {
		name:    "no classes",
		classes: nil,
		wantErr: "invalid device selection: no device class requested",
	}}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			plan, err := Decide(tc.classes, tc.facts)
			if tc.wantErr != "" {
				var cfgErr *ConfigurationError
				assert.ErrorAs(t, err, &cfgErr)
				assert.EqualError(t, err, tc.wantErr)
				assert.True(t, plan.Empty())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, plan)
		})
	}
}
