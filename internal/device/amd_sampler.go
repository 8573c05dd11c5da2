// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// AMDTool is the external tool logging AMD package energy
type AMDTool string

const (
	AMDToolPerf      AMDTool = "perf"
	AMDToolTurbostat AMDTool = "turbostat"
)

const perfEnergyEvent = "power/energy-pkg/"

// amdSampler implements CounterSampler by running perf or turbostat in the
// background and accumulating the energy reported in its log file.
type amdSampler struct {
	logger   *slog.Logger
	cmd      Commander
	tool     AMDTool
	logFile  string
	interval time.Duration
	rails    []string

	mu   sync.Mutex
	proc Process
}

var _ CounterSampler = (*amdSampler)(nil)

type AMDOptionFn func(*amdSampler)

func WithAMDLogger(logger *slog.Logger) AMDOptionFn {
	return func(s *amdSampler) {
		s.logger = logger.With("service", "amd-cpu")
	}
}

func WithAMDCommander(c Commander) AMDOptionFn {
	return func(s *amdSampler) {
		s.cmd = c
	}
}

// WithAMDLogFile sets the file the tool writes to
func WithAMDLogFile(path string) AMDOptionFn {
	return func(s *amdSampler) {
		s.logFile = path
	}
}

// WithAMDInterval sets the tool's reporting interval
func WithAMDInterval(d time.Duration) AMDOptionFn {
	return func(s *amdSampler) {
		s.interval = d
	}
}

// NewAMDSampler returns a sampler for count packages (perf: NUMA nodes) using tool.
// A missing tool is reported as a ProbeError.
func NewAMDSampler(tool AMDTool, count int, opts ...AMDOptionFn) (CounterSampler, error) {
	s := &amdSampler{
		logger:   slog.Default().With("service", "amd-cpu"),
		cmd:      DefaultCommander,
		tool:     tool,
		interval: time.Second,
		logFile:  filepath.Join(os.TempDir(), fmt.Sprintf("powermeter-amd-%d.log", os.Getpid())),
	}
	for _, opt := range opts {
		opt(s)
	}

	if tool != AMDToolPerf && tool != AMDToolTurbostat {
		return nil, fmt.Errorf("unsupported AMD tool %q", tool)
	}
	if _, err := s.cmd.LookPath(string(tool)); err != nil {
		return nil, probeErr(s.Name(), "%s not found: %w", tool, err)
	}

	if count < 1 {
		count = 1
	}
	for i := range count {
		s.rails = append(s.rails, fmt.Sprintf("%s-%d", ZonePackage, i))
	}
	return s, nil
}

func (s *amdSampler) Name() string {
	return "amd-cpu-" + string(s.tool)
}

func (s *amdSampler) Rails() []string {
	return slices.Clone(s.rails)
}

func (s *amdSampler) args() []string {
	switch s.tool {
	case AMDToolTurbostat:
		secs := strconv.FormatFloat(s.interval.Seconds(), 'f', -1, 64)
		return []string{"--show", "PkgWatt", "--quiet", "--interval", secs, "-o", s.logFile}
	default:
		ms := strconv.FormatInt(max(s.interval.Milliseconds(), 10), 10)
		return []string{"stat", "-e", perfEnergyEvent, "-a", "--per-node", "-I", ms, "-x", ";", "-o", s.logFile}
	}
}

// Start truncates the log and launches the tool. A tool that is still
// running from a previous Start is stopped first.
func (s *amdSampler) Start() error {
	if err := s.Stop(); err != nil {
		s.logger.Warn("Failed to stop previous logging process", "error", err)
	}

	if err := os.WriteFile(s.logFile, nil, 0o644); err != nil {
		return fmt.Errorf("truncating %s: %w", s.logFile, err)
	}

	proc, err := s.cmd.Start(string(s.tool), s.args()...)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.proc = proc
	s.mu.Unlock()
	s.logger.Debug("Logging process started", "tool", s.tool, "log", s.logFile)
	return nil
}

// Stop interrupts the tool and waits for it to flush the log
func (s *amdSampler) Stop() error {
	s.mu.Lock()
	proc := s.proc
	s.proc = nil
	s.mu.Unlock()

	if proc == nil {
		return nil
	}
	if err := proc.Interrupt(); err != nil {
		return fmt.Errorf("interrupting %s: %w", s.tool, err)
	}
	return proc.Wait()
}

// ReadCounters parses the whole log and returns the energy accumulated per package
func (s *amdSampler) ReadCounters() (map[string]Energy, error) {
	data, err := os.ReadFile(s.logFile)
	if errors.Is(err, fs.ErrNotExist) {
		data = nil
	} else if err != nil {
		return nil, fmt.Errorf("reading %s log: %w", s.tool, err)
	}

	var parsed map[int]Energy
	switch s.tool {
	case AMDToolTurbostat:
		parsed = parseTurbostatLog(data, s.interval)
	default:
		parsed = parsePerfLog(data)
	}

	readings := make(map[string]Energy, len(s.rails))
	for _, rail := range s.rails {
		readings[rail] = 0
	}
	for pkg, e := range parsed {
		rail := fmt.Sprintf("%s-%d", ZonePackage, pkg)
		if _, ok := readings[rail]; !ok {
			s.logger.Debug("Ignoring undeclared package in log", "rail", rail)
			continue
		}
		readings[rail] = e
	}
	return readings, nil
}

var (
	// N0;16;12.34;Joules;power/energy-pkg/  (interval mode, ";" separated)
	perfNodeRe = regexp.MustCompile(`^N(\d+)$`)
	// N0   16   1234,56 Joules power/energy-pkg/  (summary mode)
	perfSummaryRe = regexp.MustCompile(`^\s*N(\d+)\s+\d+\s+([\d.,\s]+?)\s+Joules\s+power/energy-pkg/`)
)

// parsePerfLog returns the energy per NUMA node. Interval records are summed;
// the end-of-run summary is used only when no interval records exist.
func parsePerfLog(data []byte) map[int]Energy {
	interval := map[int]float64{}
	summary := map[int]float64{}

	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "#") || !strings.Contains(line, perfEnergyEvent) {
			continue
		}

		if m := perfSummaryRe.FindStringSubmatch(line); m != nil {
			node, _ := strconv.Atoi(m[1])
			if j, ok := parseLocaleFloat(m[2]); ok {
				summary[node] += j
			}
			continue
		}

		fields := strings.Split(line, ";")
		for i := 0; i+2 < len(fields); i++ {
			m := perfNodeRe.FindStringSubmatch(strings.TrimSpace(fields[i]))
			if m == nil {
				continue
			}
			node, _ := strconv.Atoi(m[1])
			// node;cpus;value;unit
			if j, ok := parseLocaleFloat(fields[i+2]); ok {
				interval[node] += j
			}
			break
		}
	}

	joules := interval
	if len(joules) == 0 {
		joules = summary
	}
	ret := make(map[int]Energy, len(joules))
	for node, j := range joules {
		ret[node] = Energy(j * float64(Joule))
	}
	return ret
}

// parseLocaleFloat parses perf numbers printed with thousands separators or a
// decimal comma ("1.234,56", "1,234.56", "12,5"). The last separator is the decimal point.
func parseLocaleFloat(s string) (float64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	if s == "" || strings.HasPrefix(s, "<") {
		return 0, false
	}
	s = strings.ReplaceAll(s, ",", ".")
	if n := strings.Count(s, "."); n > 1 {
		s = strings.Replace(s, ".", "", n-1)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

// parseTurbostatLog integrates PkgWatt blocks over the reporting interval.
// A block holds the total followed by one value per package; single package
// hosts only report the total.
func parseTurbostatLog(data []byte, interval time.Duration) map[int]Energy {
	var blocks [][]float64
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "PkgWatt"):
			blocks = append(blocks, nil)
		case len(blocks) > 0:
			if v, err := strconv.ParseFloat(line, 64); err == nil {
				last := len(blocks) - 1
				blocks[last] = append(blocks[last], v)
			}
		}
	}

	ret := map[int]Energy{}
	for _, b := range blocks {
		perPkg := b
		if len(b) > 1 {
			perPkg = b[1:]
		}
		for pkg, w := range perPkg {
			ret[pkg] += (Power(w) * Watt).EnergyOver(interval)
		}
	}
	return ret
}

// NUMANodes counts the NUMA nodes exposed under sysfsPath, at least 1
func NUMANodes(sysfsPath string) int {
	matches, err := filepath.Glob(filepath.Join(sysfsPath, "devices", "system", "node", "node[0-9]*"))
	if err != nil || len(matches) == 0 {
		return 1
	}
	return len(matches)
}
