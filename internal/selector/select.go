// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package selector

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/ea2p/powermeter/internal/device"
	"github.com/ea2p/powermeter/internal/device/gpu"
	_ "github.com/ea2p/powermeter/internal/device/gpu/amd"    // registers rocm-smi backend
	_ "github.com/ea2p/powermeter/internal/device/gpu/nvidia" // registers NVML backend
	"github.com/ea2p/powermeter/internal/platform/redfish"
	"github.com/ea2p/powermeter/internal/service"
)

// Request describes which device classes to measure and how to reach them
type Request struct {
	Classes    []string
	ProcFSPath string
	SysFSPath  string

	RaplZones  []string
	AMDTool    device.AMDTool
	AMDLogFile string
	Interval   time.Duration

	DIMMCount int
	DIMMPower device.Power

	// Redfish is nil when no BMC is configured
	Redfish *redfish.BMC

	FakeMeters bool
}

// Result is the sampler set built for the process lifetime
type Result struct {
	Plan     Plan
	Samplers []device.Sampler

	closers []service.Shutdowner
}

var _ service.Shutdowner = (*Result)(nil)

func (r *Result) Name() string {
	return "samplers"
}

// Shutdown releases GPU libraries and BMC sessions held by the samplers
func (r *Result) Shutdown() error {
	var errs []error
	for _, c := range r.closers {
		if err := c.Shutdown(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Selector builds the sampler set. Its probes are replaceable for tests.
type Selector struct {
	logger     *slog.Logger
	baseLogger *slog.Logger

	cpuFacts    func(procPath string) (CPUFacts, error)
	gpuVendors  func() []gpu.Vendor
	discoverGPU func(gpu.Vendor, *slog.Logger) (gpu.GPUPowerMeter, error)
	newRedfish  func(redfish.BMC, *slog.Logger) (device.PowerSampler, error)
	newCPU      func(Request, CPUVariant, CPUFacts, *slog.Logger) (device.CounterSampler, error)
	newRAM      func(Request, *slog.Logger) (device.PowerSampler, error)
}

// OptionFn configures the Selector
type OptionFn func(*Selector)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) OptionFn {
	return func(s *Selector) {
		s.logger = logger
	}
}

// New returns a Selector that probes the real host
func New(opts ...OptionFn) *Selector {
	s := &Selector{
		logger:      slog.Default(),
		cpuFacts:    ReadCPUFacts,
		gpuVendors:  gpu.RegisteredVendors,
		discoverGPU: gpu.Discover,
		newRedfish: func(bmc redfish.BMC, logger *slog.Logger) (device.PowerSampler, error) {
			return redfish.NewSampler(bmc, logger)
		},
		newCPU: newCPUSampler,
		newRAM: newRAMSampler,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.baseLogger = s.logger
	s.logger = s.logger.With("service", "selector")
	return s
}

// Select gathers host facts, decides the plan and builds its samplers.
// Probe failures are logged and the sampler is omitted; only a
// ConfigurationError is returned.
func (s *Selector) Select(req Request) (*Result, error) {
	classes, err := ParseClasses(req.Classes)
	if err != nil {
		return nil, err
	}

	if req.FakeMeters {
		return s.selectFake(classes)
	}

	var (
		facts    Facts
		cpuFacts CPUFacts
		meters   = map[gpu.Vendor]gpu.GPUPowerMeter{}
		platform device.PowerSampler
	)

	if slices.Contains(classes, ClassCPU) {
		cpuFacts, err = s.cpuFacts(req.ProcFSPath)
		if err != nil {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("cannot identify CPU: %v", err)}
		}
		facts.CPUModel = cpuFacts.Model
		s.logger.Info("CPU identified", "model", cpuFacts.Model, "packages", cpuFacts.Packages)
	}

	if slices.Contains(classes, ClassGPU) {
		for _, vendor := range s.gpuVendors() {
			meter, err := s.discoverGPU(vendor, s.baseLogger)
			if err != nil {
				s.probeFailed(&device.ProbeError{Sampler: string(vendor) + "-gpu", Err: err})
				continue
			}
			meters[vendor] = meter
			facts.GPUVendors = append(facts.GPUVendors, vendor)
		}
	}

	if slices.Contains(classes, ClassPlatform) {
		switch {
		case req.Redfish == nil || req.Redfish.Endpoint == "":
			s.probeFailed(&device.ProbeError{Sampler: "redfish", Err: errors.New("no BMC endpoint configured")})
		default:
			platform, err = s.newRedfish(*req.Redfish, s.baseLogger)
			if err != nil {
				s.probeFailed(err)
			} else {
				facts.Platform = true
			}
		}
	}

	plan, err := Decide(classes, facts)
	if err != nil {
		s.shutdownMeters(meters, platform)
		return nil, err
	}

	res := &Result{}
	if plan.CPU != CPUNone {
		cpu, err := s.newCPU(req, plan.CPU, cpuFacts, s.baseLogger)
		switch {
		case err != nil:
			s.probeFailed(err)
			if plan.CPU == CPUIntelServer && slices.Contains(classes, ClassRAM) {
				s.logger.Info("DRAM counters unavailable; estimating RAM power instead")
				plan.RAM = true
			}
			plan.CPU = CPUNone
		default:
			res.Samplers = append(res.Samplers, cpu)
		}
	}

	for _, vendor := range plan.GPUVendors {
		meter := meters[vendor]
		res.Samplers = append(res.Samplers, gpu.NewSampler(meter))
		res.closers = append(res.closers, meter)
	}

	if plan.RAM {
		ram, err := s.newRAM(req, s.baseLogger)
		if err != nil {
			s.probeFailed(err)
			plan.RAM = false
		} else {
			res.Samplers = append(res.Samplers, ram)
		}
	}

	if plan.Platform {
		res.Samplers = append(res.Samplers, platform)
		if c, ok := platform.(service.Shutdowner); ok {
			res.closers = append(res.closers, c)
		}
	}

	res.Plan = plan
	s.logSelection(res)
	return res, nil
}

func (s *Selector) selectFake(classes []Class) (*Result, error) {
	s.logger.Warn("Using fake samplers; readings are synthetic")

	facts := Facts{
		CPUModel:   "Intel(R) Core(TM) fake CPU",
		GPUVendors: []gpu.Vendor{gpu.VendorNVIDIA},
		Platform:   true,
	}
	plan, err := Decide(classes, facts)
	if err != nil {
		return nil, err
	}

	res := &Result{Plan: plan}
	logger := device.WithFakeLogger(s.baseLogger)
	if plan.CPU != CPUNone {
		cpu, err := device.NewFakeCPUSampler(nil, logger)
		if err != nil {
			return nil, err
		}
		res.Samplers = append(res.Samplers, cpu)
	}
	for _, vendor := range plan.GPUVendors {
		rail := gpu.RailName(vendor, 0)
		res.Samplers = append(res.Samplers,
			device.NewFakePowerSampler("fake-"+string(vendor)+"-gpu", map[string]device.Power{rail: 75 * device.Watt}, logger))
	}
	if plan.RAM {
		res.Samplers = append(res.Samplers,
			device.NewFakePowerSampler("fake-ram", map[string]device.Power{device.RailDRAM: 6 * device.Watt}, logger))
	}
	if plan.Platform {
		res.Samplers = append(res.Samplers,
			device.NewFakePowerSampler("fake-platform", map[string]device.Power{redfish.RailName("1"): 250 * device.Watt}, logger))
	}
	s.logSelection(res)
	return res, nil
}

func (s *Selector) probeFailed(err error) {
	s.logger.Info("Sampler unavailable; omitting it", "error", err)
}

func (s *Selector) shutdownMeters(meters map[gpu.Vendor]gpu.GPUPowerMeter, platform device.PowerSampler) {
	for _, m := range meters {
		_ = m.Shutdown()
	}
	if c, ok := platform.(service.Shutdowner); ok {
		_ = c.Shutdown()
	}
}

func (s *Selector) logSelection(res *Result) {
	if len(res.Samplers) == 0 {
		s.logger.Warn("No sampler available; sessions will only report elapsed time")
		return
	}
	for _, sampler := range res.Samplers {
		s.logger.Info("Sampler selected",
			"sampler", sampler.Name(),
			"kind", device.KindOf(sampler).String(),
			"rails", sampler.Rails())
	}
}

func newCPUSampler(req Request, variant CPUVariant, facts CPUFacts, logger *slog.Logger) (device.CounterSampler, error) {
	switch variant {
	case CPUIntelClient:
		return device.NewRaplSampler(req.SysFSPath, device.RaplClient,
			device.WithRaplLogger(logger), device.WithZoneFilter(req.RaplZones))
	case CPUIntelServer:
		return device.NewRaplSampler(req.SysFSPath, device.RaplServer,
			device.WithRaplLogger(logger), device.WithZoneFilter(req.RaplZones))
	case CPUAMD:
		count := facts.Packages
		if req.AMDTool == device.AMDToolPerf {
			count = device.NUMANodes(req.SysFSPath)
		}
		opts := []device.AMDOptionFn{device.WithAMDLogger(logger)}
		if req.AMDLogFile != "" {
			opts = append(opts, device.WithAMDLogFile(req.AMDLogFile))
		}
		if req.Interval > 0 {
			opts = append(opts, device.WithAMDInterval(req.Interval))
		}
		return device.NewAMDSampler(req.AMDTool, count, opts...)
	default:
		return nil, fmt.Errorf("no CPU sampler for %q", variant)
	}
}

func newRAMSampler(req Request, logger *slog.Logger) (device.PowerSampler, error) {
	opts := []device.RAMOptionFn{device.WithRAMLogger(logger)}
	if req.DIMMCount > 0 && req.DIMMPower > 0 {
		opts = append(opts, device.WithDIMMs(req.DIMMCount, req.DIMMPower))
	}
	return device.NewRAMSampler(opts...)
}
