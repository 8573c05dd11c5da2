// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"gopkg.in/yaml.v3"
	"k8s.io/utils/ptr"
)

// Config represents the complete application configuration
type (
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	}
	Host struct {
		SysFS  string `yaml:"sysfs"`
		ProcFS string `yaml:"procfs"`
	}

	Monitor struct {
		Interval   time.Duration `yaml:"interval"`   // sampling interval of a session
		EnergyUnit string        `yaml:"energyUnit"` // J, WH or KWH; anything else reports WH
	}

	// Rapl configuration
	Rapl struct {
		Zones []string `yaml:"zones"`
	}

	// AMD CPU energy logging
	AMD struct {
		Tool    string `yaml:"tool"`
		LogFile string `yaml:"logFile"`
	}

	// RAM estimator overrides; zero values are probed with dmidecode
	RAM struct {
		DIMMCount int     `yaml:"dimmCount"`
		DIMMPower float64 `yaml:"dimmPower"` // watts per DIMM
	}

	Redfish struct {
		Endpoint string        `yaml:"endpoint"`
		Username string        `yaml:"username"`
		Password string        `yaml:"password"`
		Insecure *bool         `yaml:"insecure"`
		Timeout  time.Duration `yaml:"timeout"`
	}

	Platform struct {
		Redfish Redfish `yaml:"redfish"`
	}

	Output struct {
		File    string `yaml:"file"`
		Project string `yaml:"project"`
		Print   *bool  `yaml:"print"`
	}

	Web struct {
		Enabled         *bool    `yaml:"enabled"`
		Config          string   `yaml:"configFile"`
		ListenAddresses []string `yaml:"listenAddresses"`
	}

	// Development mode settings; disabled by default
	Dev struct {
		FakeMeters struct {
			Enabled *bool `yaml:"enabled"`
		} `yaml:"fake-meters"`
		Pprof struct {
			Enabled *bool `yaml:"enabled"`
		} `yaml:"pprof"`
	}

	Config struct {
		Log      Log      `yaml:"log"`
		Host     Host     `yaml:"host"`
		Devices  []string `yaml:"devices"`
		Monitor  Monitor  `yaml:"monitor"`
		Rapl     Rapl     `yaml:"rapl"`
		AMD      AMD      `yaml:"amd"`
		RAM      RAM      `yaml:"ram"`
		Platform Platform `yaml:"platform"`
		Output   Output   `yaml:"output"`
		Web      Web      `yaml:"web"`
		Dev      Dev      `yaml:"dev"` // WARN: do not expose dev settings as flags
	}
)

type SkipValidation int

const (
	SkipHostValidation SkipValidation = 1
)

const (
	// Flags
	LogLevelFlag  = "log.level"
	LogFormatFlag = "log.format"

	HostSysFSFlag  = "host.sysfs"
	HostProcFSFlag = "host.procfs"

	DeviceFlag = "device"

	MonitorIntervalFlag   = "monitor.interval"
	MonitorEnergyUnitFlag = "monitor.energy-unit"

	// RAPL
	RaplZones = "rapl.zones" // not a flag

	AMDToolFlag    = "amd.tool"
	AMDLogFileFlag = "amd.log-file"

	RAMDIMMCountFlag = "ram.dimm-count"
	RAMDIMMPowerFlag = "ram.dimm-power"

	RedfishEndpointFlag = "platform.redfish.endpoint"
	RedfishUsernameFlag = "platform.redfish.username"
	RedfishPassword     = "platform.redfish.password" // not a flag
	RedfishInsecureFlag = "platform.redfish.insecure"
	RedfishTimeoutFlag  = "platform.redfish.timeout"

	OutputFileFlag    = "output.file"
	OutputProjectFlag = "output.project"
	OutputPrintFlag   = "output.print"

	WebEnabledFlag       = "web.enabled"
	WebConfigFlag        = "web.config-file"
	WebListenAddressFlag = "web.listen-address"

	FakeMetersEnabled = "dev.fake-meters.enabled" // not a flag
	PprofEnabled      = "dev.pprof.enabled"       // not a flag

// WARN:  dev settings shouldn't be exposed as flags as flags are intended for end users
)

// DefaultPort is the listen address of the metrics server
const DefaultPort = ":28283"

var validAMDTools = []string{"perf", "turbostat"}

// DefaultConfig returns a Config with default values
func DefaultConfig() *Config {
	cfg := &Config{
		Log: Log{
			Level:  "info",
			Format: "text",
		},
		Host: Host{
			SysFS:  "/sys",
			ProcFS: "/proc",
		},
		Devices: []string{"cpu", "gpu", "ram"},
		Monitor: Monitor{
			Interval:   1 * time.Second,
			EnergyUnit: "WH",
		},
		Rapl: Rapl{
			Zones: []string{},
		},
		AMD: AMD{
			Tool:    "perf",
			LogFile: "amd_energy.log",
		},
		Platform: Platform{
			Redfish: Redfish{
				Insecure: ptr.To(false),
				Timeout:  5 * time.Second,
			},
		},
		Output: Output{
			File:    "energy_report.csv",
			Project: "test_project",
			Print:   ptr.To(true),
		},
		Web: Web{
			Enabled:         ptr.To(false),
			ListenAddresses: []string{DefaultPort},
		},
	}

	cfg.Dev.FakeMeters.Enabled = ptr.To(false)
	cfg.Dev.Pprof.Enabled = ptr.To(false)
	return cfg
}

// Load loads configuration from an io.Reader
func Load(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.sanitize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// FromFile loads configuration from a file
func FromFile(filePath string) (*Config, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer func() {
		// ignored on purpose; the file is only read
		_ = file.Close()
	}()

	return Load(file)
}

type ConfigUpdaterFn func(*Config) error

// RegisterFlags registers command-line flags with kingpin app
// and returns ConfigUpdaterFn that updates the config from parsed flags
// as command line arguments override config file settings
func RegisterFlags(app *kingpin.Application) ConfigUpdaterFn {
	// track flags that were explicitly set
	flagsSet := map[string]bool{}

	app.PreAction(func(ctx *kingpin.ParseContext) error {
		// Clear the map in case this function is called multiple times
		flagsSet = map[string]bool{}

		for _, element := range ctx.Elements {
			if flag, ok := element.Clause.(*kingpin.FlagClause); ok && element.Value != nil {
				flagsSet[flag.Model().Name] = true
			}
		}
		return nil
	})

	// Logging
	logLevel := app.Flag(LogLevelFlag, "Logging level: debug, info, warn, error").Default("info").Enum("debug", "info", "warn", "error")
	logFormat := app.Flag(LogFormatFlag, "Logging format: text or json").Default("text").Enum("text", "json")
	// host
	hostSysFS := app.Flag(HostSysFSFlag, "Host sysfs path").Default("/sys").ExistingDir()
	hostProcFS := app.Flag(HostProcFSFlag, "Host procfs path").Default("/proc").ExistingDir()

	devices := app.Flag(DeviceFlag, "Device class to measure: cpu, gpu, ram or platform; repeatable").Strings()

	// monitor
	monitorInterval := app.Flag(MonitorIntervalFlag, "Sampling interval of a measurement session").Default("1s").Duration()
	energyUnit := app.Flag(MonitorEnergyUnitFlag, "Energy unit of the report: J, WH or KWH").Default("WH").String()

	amdTool := app.Flag(AMDToolFlag, "Tool logging AMD package energy: perf or turbostat").Default("perf").Enum(validAMDTools...)
	amdLogFile := app.Flag(AMDLogFileFlag, "File the AMD energy tool logs to").Default("amd_energy.log").String()

	dimmCount := app.Flag(RAMDIMMCountFlag, "Number of populated DIMMs; 0 to probe with dmidecode").Default("0").Int()
	dimmPower := app.Flag(RAMDIMMPowerFlag, "Nominal power of one DIMM in watts; 0 to probe with dmidecode").Default("0").Float64()

	redfishEndpoint := app.Flag(RedfishEndpointFlag, "Redfish BMC endpoint, e.g. https://bmc.example.com").String()
	redfishUsername := app.Flag(RedfishUsernameFlag, "Redfish BMC username").String()
	redfishInsecure := app.Flag(RedfishInsecureFlag, "Skip TLS verification of the BMC").Default("false").Bool()
	redfishTimeout := app.Flag(RedfishTimeoutFlag, "Timeout of a BMC request").Default("5s").Duration()

	outputFile := app.Flag(OutputFileFlag, "CSV file each session is appended to; empty to disable").Default("energy_report.csv").String()
	outputProject := app.Flag(OutputProjectFlag, "Project name recorded with each session").Default("test_project").String()
	outputPrint := app.Flag(OutputPrintFlag, "Print the energy report of each session").Default("true").Bool()

	webEnabled := app.Flag(WebEnabledFlag, "Serve metrics over HTTP while measuring").Default("false").Bool()
	webConfig := app.Flag(WebConfigFlag, "Web config file path").Default("").String()
	webListenAddresses := app.Flag(WebListenAddressFlag, "Web server listen addresses").Default(DefaultPort).Strings()

	return func(cfg *Config) error {
		// Logging settings
		if flagsSet[LogLevelFlag] {
			cfg.Log.Level = *logLevel
		}

		if flagsSet[LogFormatFlag] {
			cfg.Log.Format = *logFormat
		}

		if flagsSet[HostSysFSFlag] {
			cfg.Host.SysFS = *hostSysFS
		}

		if flagsSet[HostProcFSFlag] {
			cfg.Host.ProcFS = *hostProcFS
		}

		if flagsSet[DeviceFlag] {
			cfg.Devices = *devices
		}

		// monitor settings
		if flagsSet[MonitorIntervalFlag] {
			cfg.Monitor.Interval = *monitorInterval
		}
		if flagsSet[MonitorEnergyUnitFlag] {
			cfg.Monitor.EnergyUnit = *energyUnit
		}

		if flagsSet[AMDToolFlag] {
			cfg.AMD.Tool = *amdTool
		}
		if flagsSet[AMDLogFileFlag] {
			cfg.AMD.LogFile = *amdLogFile
		}

		if flagsSet[RAMDIMMCountFlag] {
			cfg.RAM.DIMMCount = *dimmCount
		}
		if flagsSet[RAMDIMMPowerFlag] {
			cfg.RAM.DIMMPower = *dimmPower
		}

		if flagsSet[RedfishEndpointFlag] {
			cfg.Platform.Redfish.Endpoint = *redfishEndpoint
		}
		if flagsSet[RedfishUsernameFlag] {
			cfg.Platform.Redfish.Username = *redfishUsername
		}
		if flagsSet[RedfishInsecureFlag] {
			cfg.Platform.Redfish.Insecure = redfishInsecure
		}
		if flagsSet[RedfishTimeoutFlag] {
			cfg.Platform.Redfish.Timeout = *redfishTimeout
		}

		if flagsSet[OutputFileFlag] {
			cfg.Output.File = *outputFile
		}
		if flagsSet[OutputProjectFlag] {
			cfg.Output.Project = *outputProject
		}
		if flagsSet[OutputPrintFlag] {
			cfg.Output.Print = outputPrint
		}

		if flagsSet[WebEnabledFlag] {
			cfg.Web.Enabled = webEnabled
		}

		if flagsSet[WebConfigFlag] {
			cfg.Web.Config = *webConfig
		}

		if flagsSet[WebListenAddressFlag] {
			cfg.Web.ListenAddresses = *webListenAddresses
		}

		cfg.sanitize()
		return cfg.Validate()
	}
}

func (c *Config) sanitize() {
	c.Log.Level = strings.TrimSpace(c.Log.Level)
	c.Log.Format = strings.TrimSpace(c.Log.Format)
	c.Host.SysFS = strings.TrimSpace(c.Host.SysFS)
	c.Host.ProcFS = strings.TrimSpace(c.Host.ProcFS)

	for i := range c.Devices {
		c.Devices[i] = strings.ToLower(strings.TrimSpace(c.Devices[i]))
	}

	c.Monitor.EnergyUnit = strings.ToUpper(strings.TrimSpace(c.Monitor.EnergyUnit))

	for i := range c.Rapl.Zones {
		c.Rapl.Zones[i] = strings.TrimSpace(c.Rapl.Zones[i])
	}

	c.AMD.Tool = strings.ToLower(strings.TrimSpace(c.AMD.Tool))
	c.AMD.LogFile = strings.TrimSpace(c.AMD.LogFile)

	c.Platform.Redfish.Endpoint = strings.TrimSpace(c.Platform.Redfish.Endpoint)
	c.Platform.Redfish.Username = strings.TrimSpace(c.Platform.Redfish.Username)

	c.Output.File = strings.TrimSpace(c.Output.File)
	c.Output.Project = strings.TrimSpace(c.Output.Project)

	c.Web.Config = strings.TrimSpace(c.Web.Config)
	for i := range c.Web.ListenAddresses {
		c.Web.ListenAddresses[i] = strings.TrimSpace(c.Web.ListenAddresses[i])
	}
}

// Validate checks for configuration errors. Device classes are checked
// when the samplers are selected.
func (c *Config) Validate(skips ...SkipValidation) error {
	validationSkipped := make(map[SkipValidation]bool, len(skips))
	for _, v := range skips {
		validationSkipped[v] = true
	}
	var errs []string
	{ // log level

		validLogLevels := map[string]bool{
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}

		// Validate logging settings
		if _, valid := validLogLevels[c.Log.Level]; !valid {
			errs = append(errs, fmt.Sprintf("invalid log level: %s", c.Log.Level))
		}
	}
	{ // log format
		validFormats := map[string]bool{
			"text": true,
			"json": true,
		}
		if _, valid := validFormats[c.Log.Format]; !valid {
			errs = append(errs, fmt.Sprintf("invalid log format: %s", c.Log.Format))
		}
	}

	{ // Validate host settings
		if _, skip := validationSkipped[SkipHostValidation]; !skip {
			if err := canReadDir(c.Host.SysFS); err != nil {
				errs = append(errs, fmt.Sprintf("invalid sysfs path: %s: %s ", c.Host.SysFS, err.Error()))
			}
			if err := canReadDir(c.Host.ProcFS); err != nil {
				errs = append(errs, fmt.Sprintf("invalid procfs path: %s: %s ", c.Host.ProcFS, err.Error()))
			}
		}
	}
	{ // Monitor
		if c.Monitor.Interval <= 0 {
			errs = append(errs, fmt.Sprintf("invalid monitor interval: %s must be positive", c.Monitor.Interval))
		}
	}
	{ // AMD
		if !slices.Contains(validAMDTools, c.AMD.Tool) {
			errs = append(errs, fmt.Sprintf("invalid amd tool: %q; supported: %s", c.AMD.Tool, strings.Join(validAMDTools, ", ")))
		}
		if c.AMD.LogFile == "" {
			errs = append(errs, "amd log file cannot be empty")
		}
	}
	{ // RAM
		if c.RAM.DIMMCount < 0 {
			errs = append(errs, fmt.Sprintf("invalid ram dimm count: %d can't be negative", c.RAM.DIMMCount))
		}
		if c.RAM.DIMMPower < 0 {
			errs = append(errs, fmt.Sprintf("invalid ram dimm power: %g can't be negative", c.RAM.DIMMPower))
		}
	}
	{ // Redfish
		rf := c.Platform.Redfish
		if rf.Endpoint != "" {
			if err := validateEndpoint(rf.Endpoint); err != nil {
				errs = append(errs, fmt.Sprintf("invalid redfish endpoint %q: %s", rf.Endpoint, err.Error()))
			}
		}
		if rf.Timeout < 0 {
			errs = append(errs, fmt.Sprintf("invalid redfish timeout: %s can't be negative", rf.Timeout))
		}
	}
	{ // Web config file
		if c.Web.Config != "" {
			if err := canReadFile(c.Web.Config); err != nil {
				errs = append(errs, fmt.Sprintf("invalid web config file. path: %q: %s", c.Web.Config, err.Error()))
			}
		}
	}
	{ // Web listen addresses
		if ptr.Deref(c.Web.Enabled, false) && len(c.Web.ListenAddresses) == 0 {
			errs = append(errs, "at least one web listen address must be specified")
		}
		for _, addr := range c.Web.ListenAddresses {
			if addr == "" {
				errs = append(errs, "web listen address cannot be empty")
				continue
			}
			if err := validateListenAddress(addr); err != nil {
				errs = append(errs, fmt.Sprintf("invalid web listen address %q: %s", addr, err.Error()))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, ", "))
	}

	return nil
}

func canReadDir(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}

	defer func() {
		// ignored on purpose
		_ = f.Close()
	}()

	_, err = f.ReadDir(1)
	if err != nil {
		return err
	}

	return nil
}

func canReadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}

	defer func() {
		// ignored on purpose
		_ = f.Close()
	}()
	buf := make([]byte, 8)
	_, err = f.Read(buf)
	if err != nil {
		return err
	}

	return nil
}

func validateEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	return nil
}

func validateListenAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("address cannot be empty")
	}

	// Use Go's standard library to parse host:port
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address format: %w", err)
	}

	// Validate port (host can be empty for listening on all interfaces)
	if err := validatePort(port); err != nil {
		return err
	}

	return nil
}

func validatePort(port string) error {
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("port must be numeric, got %s", port)
	}

	if portNum < 1 || portNum > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", portNum)
	}
	return nil
}

func (c *Config) String() string {
	redacted := *c
	if redacted.Platform.Redfish.Password != "" {
		redacted.Platform.Redfish.Password = "********"
	}

	bytes, err := yaml.Marshal(&redacted)
	if err == nil {
		return string(bytes)
	}
	// NOTE:  this code path should not happen but if it does (i.e if yaml marshal) fails
	// for some reason, manually build the string
	return redacted.manualString()
}

func (c *Config) manualString() string {
	cfgs := []struct {
		Name  string
		Value string
	}{
		{LogLevelFlag, c.Log.Level},
		{LogFormatFlag, c.Log.Format},
		{HostSysFSFlag, c.Host.SysFS},
		{HostProcFSFlag, c.Host.ProcFS},
		{DeviceFlag, strings.Join(c.Devices, ", ")},
		{MonitorIntervalFlag, c.Monitor.Interval.String()},
		{MonitorEnergyUnitFlag, c.Monitor.EnergyUnit},
		{RaplZones, strings.Join(c.Rapl.Zones, ", ")},
		{AMDToolFlag, c.AMD.Tool},
		{AMDLogFileFlag, c.AMD.LogFile},
		{RAMDIMMCountFlag, strconv.Itoa(c.RAM.DIMMCount)},
		{RAMDIMMPowerFlag, strconv.FormatFloat(c.RAM.DIMMPower, 'g', -1, 64)},
		{RedfishEndpointFlag, c.Platform.Redfish.Endpoint},
		{RedfishUsernameFlag, c.Platform.Redfish.Username},
		{RedfishInsecureFlag, fmt.Sprintf("%v", ptr.Deref(c.Platform.Redfish.Insecure, false))},
		{RedfishTimeoutFlag, c.Platform.Redfish.Timeout.String()},
		{OutputFileFlag, c.Output.File},
		{OutputProjectFlag, c.Output.Project},
		{OutputPrintFlag, fmt.Sprintf("%v", ptr.Deref(c.Output.Print, false))},
		{WebEnabledFlag, fmt.Sprintf("%v", ptr.Deref(c.Web.Enabled, false))},
		{WebConfigFlag, c.Web.Config},
		{WebListenAddressFlag, strings.Join(c.Web.ListenAddresses, ", ")},
		{FakeMetersEnabled, fmt.Sprintf("%v", ptr.Deref(c.Dev.FakeMeters.Enabled, false))},
		{PprofEnabled, fmt.Sprintf("%v", ptr.Deref(c.Dev.Pprof.Enabled, false))},
	}
	sb := strings.Builder{}

	for _, cfg := range cfgs {
		sb.WriteString(cfg.Name)
		sb.WriteString(": ")
		sb.WriteString(cfg.Value)
		sb.WriteString("\n")
	}

	return sb.String()
}
