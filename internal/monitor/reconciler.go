// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

// Deltas turns a sequence of monotonic counter readings into per-tick deltas.
//
// The first delta is the first reading itself. A reading below its
// predecessor (counter reset, wrap or a racy read) repeats the last valid
// delta instead, or 0 when none has been seen yet. The cold-start delta is
// never repeated.
func Deltas(readings []Energy) []Energy {
	if len(readings) == 0 {
		return nil
	}

	deltas := make([]Energy, len(readings))
	deltas[0] = readings[0]

	var last Energy
	for i := 1; i < len(readings); i++ {
		if readings[i] >= readings[i-1] {
			last = readings[i] - readings[i-1]
		}
		deltas[i] = last
	}
	return deltas
}

// TotalEnergy is the energy observed across the intervals of readings.
// The cold-start delta marks the first reading and is excluded, so a single
// reading yields 0.
func TotalEnergy(readings []Energy) Energy {
	var total Energy
	for i, d := range Deltas(readings) {
		if i == 0 {
			continue
		}
		total += d
	}
	return total
}

// reconciler collects counter readings per rail over one session
type reconciler struct {
	readings map[string][]Energy
}

func newReconciler() *reconciler {
	return &reconciler{readings: map[string][]Energy{}}
}

// add appends one tick of readings. Rails missing from a tick are skipped
// for that tick.
func (r *reconciler) add(readings map[string]Energy) {
	for rail, e := range readings {
		r.readings[rail] = append(r.readings[rail], e)
	}
}

// intervals returns the number of reading intervals observed per rail. A
// rail with a single reading has none and its total carries no information.
func (r *reconciler) intervals() map[string]int {
	ret := make(map[string]int, len(r.readings))
	for rail, readings := range r.readings {
		ret[rail] = max(len(readings)-1, 0)
	}
	return ret
}

// totals returns the reconciled energy of every rail seen
func (r *reconciler) totals() map[string]Energy {
	ret := make(map[string]Energy, len(r.readings))
	for rail, readings := range r.readings {
		ret[rail] = TotalEnergy(readings)
	}
	return ret
}
