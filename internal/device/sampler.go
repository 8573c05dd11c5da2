// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"errors"
	"fmt"
)

// Sampler is a source of energy readings for one or more rails. Rails are
// known once the sampler has been constructed and never change afterwards.
type Sampler interface {
	// Name identifies the sampler in logs and metrics
	Name() string
	// Rails returns the rail names this sampler reports
	Rails() []string
}

// PowerSampler reports the instantaneous power draw of its rails.
// Implementations are polled from a single goroutine.
type PowerSampler interface {
	Sampler
	// Sample returns the current power draw per rail
	Sample() (map[string]Power, error)
}

// CounterSampler reports monotonic energy counters of its rails.
type CounterSampler interface {
	Sampler
	// Start prepares the counters for reading, e.g. spawns a logging tool
	Start() error
	// ReadCounters returns the raw counter value per rail
	ReadCounters() (map[string]Energy, error)
	// Stop releases any resources acquired by Start
	Stop() error
}

// Kind is the capability of a sampler
type Kind int

const (
	KindUnknown Kind = iota
	KindPower
	KindCounter
)

func (k Kind) String() string {
	switch k {
	case KindPower:
		return "power"
	case KindCounter:
		return "counter"
	default:
		return "unknown"
	}
}

// KindOf returns the capability of s. Counters take precedence when a
// sampler implements both interfaces.
func KindOf(s Sampler) Kind {
	switch s.(type) {
	case CounterSampler:
		return KindCounter
	case PowerSampler:
		return KindPower
	default:
		return KindUnknown
	}
}

// ErrProbe is matched by every ProbeError
var ErrProbe = errors.New("probe failed")

// ProbeError reports that a sampler's tool or driver is unavailable on this host.
// It is never fatal: the sampler is left out of the active set.
type ProbeError struct {
	Sampler string
	Err     error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe %s: %v", e.Sampler, e.Err)
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}

func (e *ProbeError) Is(target error) bool {
	return target == ErrProbe
}

func probeErr(sampler string, format string, args ...any) error {
	return &ProbeError{Sampler: sampler, Err: fmt.Errorf(format, args...)}
}
