// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"log/slog"
	"strings"
)

// Unit is the energy unit a session record is reported in
type Unit string

const (
	UnitJoule        Unit = "J"
	UnitWattHour     Unit = "WH"
	UnitKiloWattHour Unit = "KWH"
)

const (
	joulesPerWattHour     = 3600.0
	kiloWattHoursPerWattH = 0.001
)

// ParseUnit parses s case-insensitively into a known Unit
func ParseUnit(s string) (Unit, bool) {
	switch u := Unit(strings.ToUpper(strings.TrimSpace(s))); u {
	case UnitJoule, UnitWattHour, UnitKiloWattHour:
		return u, true
	default:
		return "", false
	}
}

// ConvertWattHours rescales a Watt-hour value to unit. Units other than
// J, WH and KWH are treated as WH.
func ConvertWattHours(wh float64, unit Unit) float64 {
	switch unit {
	case UnitJoule:
		return wh * joulesPerWattHour
	case UnitKiloWattHour:
		return wh * kiloWattHoursPerWattH
	default:
		return wh
	}
}

// Converter converts Watt-hour values to a unit given by name. An unknown
// unit never fails a conversion: it falls back to Watt-hours and logs a warning.
type Converter struct {
	logger *slog.Logger
}

func NewConverter(logger *slog.Logger) *Converter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Converter{logger: logger}
}

// Convert returns the converted value and the unit it is expressed in
func (c *Converter) Convert(wh float64, unit string) (float64, Unit) {
	u, ok := ParseUnit(unit)
	if !ok {
		c.logger.Warn("Unknown energy unit; reporting Watt-hours", "unit", unit)
		return wh, UnitWattHour
	}
	return ConvertWattHours(wh, u), u
}
