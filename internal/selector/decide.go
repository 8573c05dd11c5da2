// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package selector

import (
	"fmt"
	"slices"
	"strings"

	"github.com/ea2p/powermeter/internal/device/gpu"
)

// Class is a requested device class
type Class string

const (
	ClassCPU      Class = "cpu"
	ClassGPU      Class = "gpu"
	ClassRAM      Class = "ram"
	ClassPlatform Class = "platform"
)

// Classes lists every supported device class
func Classes() []Class {
	return []Class{ClassCPU, ClassGPU, ClassRAM, ClassPlatform}
}

// CPUVariant is the CPU sampler chosen for the host
type CPUVariant string

const (
	CPUNone        CPUVariant = ""
	CPUIntelClient CPUVariant = "intel-client"
	CPUIntelServer CPUVariant = "intel-server"
	CPUAMD         CPUVariant = "amd"
)

// brand string markers
const (
	intelClientMarker = "Core(TM)"
	intelServerMarker = "Xeon"
	amdMarker         = "AMD"
)

// ConfigurationError is returned when the requested device classes cannot be
// served on this host. It is fatal and no session can start.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "invalid device selection: " + e.Reason
}

// Facts is what the selector knows about the host
type Facts struct {
	// CPUModel is the CPU brand string
	CPUModel string
	// GPUVendors lists the GPU vendors whose probe succeeded
	GPUVendors []gpu.Vendor
	// Platform is true when the BMC probe succeeded
	Platform bool
}

// Plan is the set of samplers to build
type Plan struct {
	CPU        CPUVariant
	GPUVendors []gpu.Vendor
	RAM        bool
	Platform   bool
}

// Empty reports whether the plan selects no sampler at all
func (p Plan) Empty() bool {
	return p.CPU == CPUNone && len(p.GPUVendors) == 0 && !p.RAM && !p.Platform
}

// ClassifyCPU maps a brand string to a CPU variant
func ClassifyCPU(model string) CPUVariant {
	switch {
	case strings.Contains(model, intelServerMarker):
		return CPUIntelServer
	case strings.Contains(model, intelClientMarker):
		return CPUIntelClient
	case strings.Contains(model, amdMarker):
		return CPUAMD
	default:
		return CPUNone
	}
}

// ParseClasses normalizes requested class names. Unknown names are rejected.
func ParseClasses(names []string) ([]Class, error) {
	var classes []Class
	for _, n := range names {
		c := Class(strings.ToLower(strings.TrimSpace(n)))
		if c == "" {
			continue
		}
		if !slices.Contains(Classes(), c) {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("unknown device class %q; supported: cpu, gpu, ram, platform", n)}
		}
		if !slices.Contains(classes, c) {
			classes = append(classes, c)
		}
	}
	if len(classes) == 0 {
		return nil, &ConfigurationError{Reason: "no device class requested; specify at least one of cpu, gpu, ram, platform"}
	}
	return classes, nil
}

// Decide maps requested classes and host facts to a Plan. It performs no I/O.
func Decide(classes []Class, facts Facts) (Plan, error) {
	if len(classes) == 0 {
		return Plan{}, &ConfigurationError{Reason: "no device class requested"}
	}

	var plan Plan
	if slices.Contains(classes, ClassCPU) {
		plan.CPU = ClassifyCPU(facts.CPUModel)
		if plan.CPU == CPUNone {
			return Plan{}, &ConfigurationError{Reason: fmt.Sprintf("unsupported CPU %q", facts.CPUModel)}
		}
	}

	if slices.Contains(classes, ClassGPU) {
		plan.GPUVendors = slices.Clone(facts.GPUVendors)
	}

	// server RAPL covers DRAM with a counter
	if slices.Contains(classes, ClassRAM) && plan.CPU != CPUIntelServer {
		plan.RAM = true
	}

	if slices.Contains(classes, ClassPlatform) {
		plan.Platform = facts.Platform
	}
	return plan, nil
}
