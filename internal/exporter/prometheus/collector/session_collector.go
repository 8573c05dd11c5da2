// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"log/slog"
	"maps"
	"slices"

	"github.com/ea2p/powermeter/internal/monitor"
	prom "github.com/prometheus/client_golang/prometheus"
)

const sessionSubsystem = "session"

// SessionCollector exports the state of the measurement session and the
// energy of the last finished one. It only reads the monitor's atomics, so a
// scrape never waits on a running session.
type SessionCollector struct {
	sessions monitor.SessionProvider
	logger   *slog.Logger

	activeDesc  *prom.Desc
	ticksDesc   *prom.Desc
	errorsDesc  *prom.Desc
	energyDesc  *prom.Desc
	elapsedDesc *prom.Desc
}

var _ prom.Collector = (*SessionCollector)(nil)

func NewSessionCollector(sessions monitor.SessionProvider, logger *slog.Logger) *SessionCollector {
	if logger == nil {
		logger = slog.Default()
	}

	return &SessionCollector{
		sessions: sessions,
		logger:   logger.With("collector", "session"),

		activeDesc: prom.NewDesc(
			prom.BuildFQName(namespace, sessionSubsystem, "active"),
			"1 while a measurement session is running",
			nil, nil),
		ticksDesc: prom.NewDesc(
			prom.BuildFQName(namespace, sessionSubsystem, "ticks"),
			"Samples taken in the current or last session",
			nil, nil),
		errorsDesc: prom.NewDesc(
			prom.BuildFQName(namespace, "", "sample_errors_total"),
			"Failed sampler reads since start",
			[]string{"sampler"}, nil),
		energyDesc: prom.NewDesc(
			prom.BuildFQName(namespace, "last_session", "energy"),
			"Energy of each rail over the last finished session",
			[]string{"rail", "unit", "algorithm"}, nil),
		elapsedDesc: prom.NewDesc(
			prom.BuildFQName(namespace, "last_session", "elapsed_seconds"),
			"Duration of the last finished session",
			[]string{"algorithm"}, nil),
	}
}

func (c *SessionCollector) Describe(ch chan<- *prom.Desc) {
	ch <- c.activeDesc
	ch <- c.ticksDesc
	ch <- c.errorsDesc
	ch <- c.energyDesc
	ch <- c.elapsedDesc
}

func (c *SessionCollector) Collect(ch chan<- prom.Metric) {
	active := 0.0
	if c.sessions.Active() {
		active = 1
	}
	ch <- prom.MustNewConstMetric(c.activeDesc, prom.GaugeValue, active)
	ch <- prom.MustNewConstMetric(c.ticksDesc, prom.GaugeValue, float64(c.sessions.Ticks()))

	errs := c.sessions.SampleErrors()
	for _, name := range slices.Sorted(maps.Keys(errs)) {
		ch <- prom.MustNewConstMetric(c.errorsDesc, prom.CounterValue, float64(errs[name]), name)
	}

	rec := c.sessions.LastRecord()
	if rec == nil {
		c.logger.Debug("No finished session yet")
		return
	}

	algorithm := rec.Labels.Algorithm
	unit := string(rec.Unit)
	for _, rail := range rec.Rails() {
		ch <- prom.MustNewConstMetric(c.energyDesc, prom.GaugeValue, rec.Energy[rail], rail, unit, algorithm)
	}
	ch <- prom.MustNewConstMetric(c.elapsedDesc, prom.GaugeValue, rec.ElapsedSeconds, algorithm)
}
