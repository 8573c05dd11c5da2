// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"log/slog"
	"slices"
	"time"

	"github.com/ea2p/powermeter/internal/device"
)

// aggregator merges the accumulators of a finished session into a Record
type aggregator struct {
	logger    *slog.Logger
	converter *device.Converter
	unit      string
}

// aggregate builds the record of s. Power rails are integrated as a Riemann
// sum of the per-tick watts; counter rails use their reconciled energy.
// Every rail of the sampler set gets an entry.
func (a *aggregator) aggregate(s *session, stop time.Time) *Record {
	// resolved once per record so an unknown unit warns once
	_, unit := a.converter.Convert(0, a.unit)

	wattHours := map[string]float64{}
	owner := map[string]string{}
	set := func(sampler, rail string, wh float64) {
		if prev, ok := owner[rail]; ok {
			a.logger.Error("Rail reported by more than one sampler; keeping the latest",
				"rail", rail, "previous", prev, "sampler", sampler)
		}
		owner[rail] = sampler
		wattHours[rail] = wh
	}

	for i, p := range s.power {
		for _, rail := range p.Rails() {
			set(p.Name(), rail, s.powerSums[i][rail].WattHoursOver(s.interval))
		}
	}

	var unobserved []string
	for i, c := range s.counters {
		totals := s.recons[i].totals()
		intervals := s.recons[i].intervals()
		for _, rail := range c.Rails() {
			set(c.Name(), rail, totals[rail].WattHours())
			if intervals[rail] == 0 {
				unobserved = append(unobserved, rail)
			}
		}
	}
	if len(unobserved) > 0 {
		slices.Sort(unobserved)
		a.logger.Warn("Counter rails read fewer than twice; their energy is unknown and reported as 0",
			"rails", unobserved, "algorithm", s.labels.Algorithm)
	}

	energy := make(map[string]float64, len(wattHours))
	for rail, wh := range wattHours {
		energy[rail] = device.ConvertWattHours(wh, unit)
	}

	return &Record{
		Labels:         s.labels,
		Start:          s.start,
		Stop:           stop,
		Unit:           unit,
		Energy:         energy,
		ElapsedSeconds: stop.Sub(s.start).Seconds(),
		Ticks:          s.tick,
		Unobserved:     unobserved,
	}
}
