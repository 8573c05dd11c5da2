// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"maps"
	"slices"
	"time"

	"github.com/ea2p/powermeter/internal/device"
)

// ElapsedColumn is the column holding the session duration in seconds
const ElapsedColumn = "elapsed_seconds"

// Record is the energy consumed per rail over one session
type Record struct {
	Labels Labels
	Start  time.Time
	Stop   time.Time
	Unit   device.Unit

	// Energy holds one entry per rail of the active sampler set, in Unit
	Energy map[string]float64

	ElapsedSeconds float64

	// Ticks is the number of power samples taken, tick 0 and the tail
	// included: floor(D/I)+2 for a session of length D and interval I. That is
	// ceil(D/I)+1 unless D is an exact multiple of I, where the last ticker
	// fire and the tail both sample.
	Ticks int

	// Unobserved lists, sorted, the counter rails with fewer than two
	// readings. Their Energy entry is 0 because no interval was measured,
	// not because nothing was drawn.
	Unobserved []string
}

// Rails returns the rail names in sorted order
func (r *Record) Rails() []string {
	return slices.Sorted(maps.Keys(r.Energy))
}

// Columns returns the rails followed by the elapsed time column
func (r *Record) Columns() []string {
	return append(r.Rails(), ElapsedColumn)
}

// Value returns the value of a column
func (r *Record) Value(column string) (float64, bool) {
	if column == ElapsedColumn {
		return r.ElapsedSeconds, true
	}
	v, ok := r.Energy[column]
	return v, ok
}

// Observed reports whether the energy of rail was measured over at least one
// interval
func (r *Record) Observed(rail string) bool {
	_, ok := r.Energy[rail]
	return ok && !slices.Contains(r.Unobserved, rail)
}

// Clone returns a deep copy of the record
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	ret := *r
	ret.Energy = maps.Clone(r.Energy)
	ret.Unobserved = slices.Clone(r.Unobserved)
	return &ret
}
