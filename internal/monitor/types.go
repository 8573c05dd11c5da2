// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"fmt"

	"github.com/ea2p/powermeter/internal/device"
)

type (
	Energy = device.Energy
	Power  = device.Power
)

const (
	Joule = device.Joule
	Watt  = device.Watt
)

// Labels describe what a session measured. They are carried unchanged into
// the record and the output file.
type Labels struct {
	Project    string
	Package    string
	Algorithm  string
	Parameters string
	// Rank identifies the process in a multi-process run
	Rank string
}

// SampleReadError reports that one sampler failed on one tick. It is counted
// and logged but never aborts a session.
type SampleReadError struct {
	Sampler string
	Tick    int
	Err     error
}

func (e *SampleReadError) Error() string {
	return fmt.Sprintf("sampler %s failed on tick %d: %v", e.Sampler, e.Tick, e.Err)
}

func (e *SampleReadError) Unwrap() error {
	return e.Err
}
