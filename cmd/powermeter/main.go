// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/ea2p/powermeter/config"
	"github.com/ea2p/powermeter/internal/device"
	"github.com/ea2p/powermeter/internal/exporter/prometheus"
	"github.com/ea2p/powermeter/internal/logger"
	"github.com/ea2p/powermeter/internal/monitor"
	"github.com/ea2p/powermeter/internal/platform/redfish"
	"github.com/ea2p/powermeter/internal/report"
	"github.com/ea2p/powermeter/internal/selector"
	"github.com/ea2p/powermeter/internal/server"
	"github.com/ea2p/powermeter/internal/service"
	"github.com/ea2p/powermeter/internal/version"
	"github.com/ea2p/powermeter/internal/workload"
	"k8s.io/utils/ptr"
)

const appName = "powermeter"

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// cli holds the parsed command line
type cli struct {
	app          *kingpin.Application
	configFiles  *[]string
	updateConfig config.ConfigUpdaterFn

	runCmd    *kingpin.CmdClause
	labels    labelFlags
	argv      *[]string
	reduceCmd *kingpin.CmdClause
	reduceOut *string
	files     *[]string
}

type labelFlags struct {
	pkg, algorithm, description, rank *string
}

func newCLI(stdout, stderr io.Writer) *cli {
	app := kingpin.New(appName, "Measure the energy a command consumes on CPU, GPU, RAM and platform meters.")
	app.Version(version.Info().String())
	app.UsageWriter(stdout)
	app.ErrorWriter(stderr)

	c := &cli{
		app:          app,
		configFiles:  app.Flag("config.file", "Path to YAML configuration file; repeat to layer files, later ones winning").Strings(),
		updateConfig: config.RegisterFlags(app),
	}

	c.runCmd = app.Command("run", "Run a command inside one measurement session")
	c.labels = labelFlags{
		pkg:         c.runCmd.Flag("label.package", "Package the measured code belongs to").String(),
		algorithm:   c.runCmd.Flag("label.algorithm", "Name of the measured algorithm").String(),
		description: c.runCmd.Flag("label.description", "Parameters of the measured algorithm").String(),
		rank:        c.runCmd.Flag("label.rank", "Rank of this process in a multi-process run").String(),
	}
	c.argv = c.runCmd.Arg("command", "Command and arguments to measure; separate with --").Required().Strings()

	c.reduceCmd = app.Command("reduce", "Sum the reports of several ranks into one table with a Total row")
	c.reduceOut = c.reduceCmd.Flag("output", "CSV file the reduced table is written to; empty to only print").Short('o').String()
	c.files = c.reduceCmd.Arg("files", "Per-rank CSV reports").Required().ExistingFiles()
	return c
}

func execute(args []string, stdout, stderr io.Writer) int {
	c := newCLI(stdout, stderr)
	command, err := c.app.Parse(args)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%s: %v\n", appName, err)
		return 2
	}

	cfg, err := c.loadConfig()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%s: %v\n", appName, err)
		return 1
	}

	logger := logger.New(cfg.Log.Level, cfg.Log.Format, stderr)
	logVersionInfo(logger)
	logger.Debug("Configuration loaded", "config", cfg.String())

	switch command {
	case c.reduceCmd.FullCommand():
		return reduce(logger, *c.files, *c.reduceOut, ptr.Deref(cfg.Output.Print, true), stdout)
	default:
		labels := monitor.Labels{
			Project:    cfg.Output.Project,
			Package:    *c.labels.pkg,
			Algorithm:  *c.labels.algorithm,
			Parameters: *c.labels.description,
			Rank:       *c.labels.rank,
		}
		return measure(context.Background(), logger, cfg, labels, *c.argv, stdout)
	}
}

// loadConfig applies the command line over the config files over defaults
func (c *cli) loadConfig() (*config.Config, error) {
	cfg, err := config.FromFiles(*c.configFiles...)
	if err != nil {
		return nil, err
	}

	if err := c.updateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func logVersionInfo(logger *slog.Logger) {
	v := version.Info()
	logger.Info("powermeter version information",
		"version", v.Version,
		"buildTime", v.BuildTime,
		"gitBranch", v.GitBranch,
		"gitCommit", v.GitCommit,
		"goVersion", v.GoVersion,
		"goOS", v.GoOS,
		"goArch", v.GoArch,
	)
}

// measure runs argv inside one session and returns the child's exit code
func measure(ctx context.Context, logger *slog.Logger, cfg *config.Config, labels monitor.Labels, argv []string, stdout io.Writer) int {
	samplers, err := selector.New(selector.WithLogger(logger)).Select(selectorRequest(cfg))
	if err != nil {
		logger.Error("Cannot build the sampler set", "error", err)
		return 1
	}

	pm := monitor.NewEnergyMonitor(samplers.Samplers,
		monitor.WithLogger(logger),
		monitor.WithInterval(cfg.Monitor.Interval),
		monitor.WithEnergyUnit(cfg.Monitor.EnergyUnit),
		monitor.WithSinks(sinks(cfg, logger, stdout)...),
	)
	defer func() {
		_ = service.Shutdown(logger, []service.Service{samplers, pm})
	}()

	runner := workload.NewRunner(pm, labels, argv, workload.WithLogger(logger))
	services := []service.Service{
		service.NewSignalHandler(logger, os.Interrupt, syscall.SIGTERM),
		runner,
	}
	services = append(services, webServices(cfg, logger, pm)...)

	if err := service.Init(logger, services); err != nil {
		logger.Error("Failed to initialize services", "error", err)
		return 1
	}

	err = service.Run(ctx, logger, services)
	code := runner.ExitCode()
	if err != nil && code == 0 {
		logger.Error("powermeter terminated with an error", "error", err)
		code = 1
	}
	return code
}

func sinks(cfg *config.Config, logger *slog.Logger, stdout io.Writer) []monitor.Sink {
	var ret []monitor.Sink
	if cfg.Output.File != "" {
		ret = append(ret, report.NewCSVSink(cfg.Output.File, logger))
	}
	if ptr.Deref(cfg.Output.Print, true) {
		ret = append(ret, report.NewTablePrinter(stdout))
	}
	return ret
}

// webServices returns the metrics server and its endpoints when enabled
func webServices(cfg *config.Config, logger *slog.Logger, pm *monitor.EnergyMonitor) []service.Service {
	if !ptr.Deref(cfg.Web.Enabled, false) {
		return nil
	}

	api := server.NewAPIServer(
		server.WithLogger(logger),
		server.WithListen(cfg.Web.ListenAddresses, cfg.Web.Config),
	)
	services := []service.Service{
		api,
		prometheus.NewExporter(pm, api,
			prometheus.WithLogger(logger),
			prometheus.WithProcFSPath(cfg.Host.ProcFS),
		),
		server.NewProbe(api, pm),
	}
	if ptr.Deref(cfg.Dev.Pprof.Enabled, false) {
		services = append(services, server.NewPprof(api))
	}
	return services
}

func selectorRequest(cfg *config.Config) selector.Request {
	req := selector.Request{
		Classes:    cfg.Devices,
		ProcFSPath: cfg.Host.ProcFS,
		SysFSPath:  cfg.Host.SysFS,
		RaplZones:  cfg.Rapl.Zones,
		AMDTool:    device.AMDTool(cfg.AMD.Tool),
		AMDLogFile: cfg.AMD.LogFile,
		Interval:   cfg.Monitor.Interval,
		DIMMCount:  cfg.RAM.DIMMCount,
		DIMMPower:  device.Power(cfg.RAM.DIMMPower) * device.Watt,
		FakeMeters: ptr.Deref(cfg.Dev.FakeMeters.Enabled, false),
	}

	if rf := cfg.Platform.Redfish; rf.Endpoint != "" {
		req.Redfish = &redfish.BMC{
			Endpoint: rf.Endpoint,
			Username: rf.Username,
			Password: rf.Password,
			Insecure: ptr.Deref(rf.Insecure, false),
			Timeout:  rf.Timeout,
		}
	}
	return req
}

func reduce(logger *slog.Logger, files []string, output string, printTable bool, stdout io.Writer) int {
	table, err := report.ReduceFiles(files)
	if err != nil {
		logger.Error("Cannot reduce reports", "error", err)
		return 1
	}

	if output != "" {
		if err := report.WriteTable(output, table); err != nil {
			logger.Error("Cannot write reduced report", "path", output, "error", err)
			return 1
		}
		logger.Info("Reduced report written", "path", output, "ranks", len(files))
	}
	if printTable {
		if err := report.PrintTable(stdout, table); err != nil {
			logger.Error("Cannot print reduced report", "error", err)
			return 1
		}
	}
	return 0
}
