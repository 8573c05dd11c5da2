// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package prometheus

import (
	"fmt"
	"log/slog"
	"net/http"

	collector "github.com/ea2p/powermeter/internal/exporter/prometheus/collector"
	"github.com/ea2p/powermeter/internal/monitor"
	"github.com/ea2p/powermeter/internal/service"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type APIRegistry interface {
	Register(endpoint, summary, description string, handler http.Handler) error
}

type Opts struct {
	logger          *slog.Logger
	debugCollectors map[string]bool
	procfs          string
}

// DefaultOpts() returns a new Opts with defaults set
func DefaultOpts() Opts {
	return Opts{
		logger: slog.Default(),
		debugCollectors: map[string]bool{
			"go": true,
		},
		procfs: "/proc",
	}
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

// WithLogger sets the logger for the Exporter
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

// WithDebugCollectors replaces the runtime collectors; known names are "go"
// and "process"
func WithDebugCollectors(c []string) OptionFn {
	return func(o *Opts) {
		o.debugCollectors = make(map[string]bool)
		for _, name := range c {
			o.debugCollectors[name] = true
		}
	}
}

func WithProcFSPath(procfs string) OptionFn {
	return func(o *Opts) {
		o.procfs = procfs
	}
}

// Exporter serves the session collectors on /metrics
type Exporter struct {
	logger          *slog.Logger
	sessions        monitor.SessionProvider
	registry        *prom.Registry
	server          APIRegistry
	debugCollectors map[string]bool
	procfs          string
}

var _ service.Initializer = (*Exporter)(nil)

// NewExporter creates a new Exporter instance
func NewExporter(sessions monitor.SessionProvider, s APIRegistry, applyOpts ...OptionFn) *Exporter {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	return &Exporter{
		sessions:        sessions,
		server:          s,
		logger:          opts.logger.With("service", "prometheus"),
		debugCollectors: opts.debugCollectors,
		procfs:          opts.procfs,
		registry:        prom.NewRegistry(),
	}
}

func collectorForName(name string) (prom.Collector, error) {
	switch name {
	case "go":
		return collectors.NewGoCollector(), nil
	case "process":
		return collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}), nil
	default:
		return nil, fmt.Errorf("unknown collector: %s", name)
	}
}

// createCollectors returns the domain collectors keyed by name. A missing
// procfs only drops cpu_info.
func (e *Exporter) createCollectors() map[string]prom.Collector {
	cs := map[string]prom.Collector{
		"build_info": collector.NewBuildInfoCollector(),
		"session":    collector.NewSessionCollector(e.sessions, e.logger),
	}

	cpuInfo, err := collector.NewCPUInfoCollector(e.procfs, e.logger)
	if err != nil {
		e.logger.Warn("CPU info collector disabled", "procfs", e.procfs, "error", err)
		return cs
	}
	cs["cpu_info"] = cpuInfo
	return cs
}

func (e *Exporter) Init() error {
	e.logger.Info("Initializing Prometheus exporter")
	for c := range e.debugCollectors {
		collector, err := collectorForName(c)
		if err != nil {
			e.logger.Error("Error creating collector", "collector", c, "error", err)
			return err
		}
		e.logger.Info("Enabling debug collector", "collector", c)
		if err := e.registry.Register(collector); err != nil {
			return fmt.Errorf("registering collector %s: %w", c, err)
		}
	}

	for name, collector := range e.createCollectors() {
		e.logger.Info("Enabling collector", "collector", name)
		if err := e.registry.Register(collector); err != nil {
			return fmt.Errorf("registering collector %s: %w", name, err)
		}
	}

	return e.server.Register("/metrics", "Metrics", "Prometheus metrics",
		promhttp.HandlerFor(
			e.registry,
			promhttp.HandlerOpts{
				EnableOpenMetrics: true,
				Registry:          e.registry,
			},
		))
}

// Name implements service.Name
func (e *Exporter) Name() string {
	return "prometheus"
}
