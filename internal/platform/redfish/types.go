// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package redfish

import (
	"time"

	"github.com/ea2p/powermeter/internal/device"
)

type Power = device.Power

// BMC holds the connection details of a baseboard management controller
type BMC struct {
	Endpoint string
	Username string
	Password string
	Insecure bool // skip TLS verification
	Timeout  time.Duration
}

// SourceType indicates the API source of the power reading
type SourceType string

const (
	// PowerSupplySource indicates data from PowerSubsystem → PowerSupplies (modern API)
	PowerSupplySource SourceType = "PowerSupply"
	// PowerControlSource indicates data from Power → PowerControl (deprecated API)
	PowerControlSource SourceType = "PowerControl"
)

// PowerAPIStrategy defines the power reading strategy
type PowerAPIStrategy string

const (
	UnknownStrategy        PowerAPIStrategy = ""
	PowerSubsystemStrategy PowerAPIStrategy = "PowerSubsystem"
	PowerStrategy          PowerAPIStrategy = "Power"
)

// Reading is a power measurement from a PowerSupply or a PowerControl entry
type Reading struct {
	SourceID   string
	SourceName string
	SourceType SourceType
	Power      Power
}

// Chassis is a single chassis with its power readings
type Chassis struct {
	ID       string
	Readings []Reading
}

// Total returns the summed power of all readings of the chassis
func (c Chassis) Total() Power {
	var total Power
	for _, r := range c.Readings {
		total += r.Power
	}
	return total
}

// RailName returns the rail a chassis reports as
func RailName(chassisID string) string {
	return "platform-" + chassisID
}
