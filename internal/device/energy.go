// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"fmt"
	"time"
)

// Energy is a monotonic energy counter value in MicroJoules, as exposed by
// RAPL powercap zones and accumulated by the log based CPU samplers.
type Energy uint64

const (
	MicroJoule Energy = 1
	MilliJoule        = 1000 * MicroJoule
	Joule             = 1000 * MilliJoule

	// WattHour is the number of MicroJoules in one Watt-hour
	WattHour = 3600 * Joule
)

func (e Energy) MicroJoules() uint64 {
	return uint64(e)
}

func (e Energy) MilliJoules() float64 {
	return float64(e) / float64(MilliJoule)
}

func (e Energy) Joules() float64 {
	return float64(e) / float64(Joule)
}

// WattHours returns the energy as (fractional) Watt-hours
func (e Energy) WattHours() float64 {
	return float64(e) / float64(WattHour)
}

func (e Energy) String() string {
	return fmt.Sprintf("%.2fJ", e.Joules())
}

// Power is an instantaneous power draw in MicroWatts.
type Power float64

const (
	MicroWatt Power = 1.0
	MilliWatt       = 1000 * MicroWatt
	Watt            = 1000 * MilliWatt
)

func (p Power) MicroWatts() float64 {
	return float64(p)
}

func (p Power) MilliWatts() float64 {
	return float64(p / MilliWatt)
}

func (p Power) Watts() float64 {
	return float64(p / Watt)
}

// WattHoursOver returns the energy drawn at p for the duration d in Watt-hours
func (p Power) WattHoursOver(d time.Duration) float64 {
	return p.Watts() * d.Seconds() / 3600
}

// EnergyOver returns the energy drawn at p for the duration d
func (p Power) EnergyOver(d time.Duration) Energy {
	if p <= 0 || d <= 0 {
		return 0
	}
	return Energy(p.Watts() * d.Seconds() * float64(Joule))
}

func (p Power) String() string {
	return fmt.Sprintf("%.2fW", p.Watts())
}
