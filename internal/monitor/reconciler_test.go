// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeltas(t *testing.T) {
	tt := []struct {
		name     string
		readings []Energy
		deltas   []Energy
		total    Energy
	}{
		{"empty", nil, nil, 0},
		{"single reading", []Energy{500}, []Energy{500}, 0},
		{"monotonic", []Energy{100, 150, 210, 210}, []Energy{100, 50, 60, 0}, 110},
		{"reset holds last delta", []Energy{100, 150, 20, 80}, []Energy{100, 50, 50, 60}, 160},
		{"reset before any valid delta", []Energy{100, 40, 70}, []Energy{100, 0, 30}, 30},
		{"consecutive resets", []Energy{10, 30, 5, 1, 11}, []Energy{10, 20, 20, 20, 10}, 70},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.deltas, Deltas(tc.readings))
			assert.Equal(t, tc.total, TotalEnergy(tc.readings))
		})
	}
}

// skipDeltas is the alternative that drops invalid ticks entirely
func skipDeltas(readings []Energy) []Energy {
	ret := make([]Energy, len(readings))
	for i := range readings {
		switch {
		case i == 0:
			ret[i] = readings[0]
		case readings[i] >= readings[i-1]:
			ret[i] = readings[i] - readings[i-1]
		}
	}
	return ret
}

func TestDeltasHoldLastValue(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))

	for range 200 {
		n := 2 + rnd.Intn(30)
		readings := make([]Energy, n)
		for i := range readings {
			readings[i] = Energy(rnd.Intn(1000))
		}

		deltas := Deltas(readings)
		skipped := skipDeltas(readings)
		assert.Len(t, deltas, n)

		var last Energy
		for i := 1; i < n; i++ {
			if readings[i] >= readings[i-1] {
				assert.Equal(t, skipped[i], deltas[i], "valid tick %d of %v", i, readings)
				last = deltas[i]
				continue
			}
			assert.Equal(t, last, deltas[i], "invalid tick %d of %v", i, readings)
		}
	}
}

func TestReconciler(t *testing.T) {
	r := newReconciler()
	r.add(map[string]Energy{"package-0": 10 * Joule, "dram-0": 1 * Joule})
	// dram-0 absent on this tick
	r.add(map[string]Energy{"package-0": 15 * Joule})
	r.add(map[string]Energy{"package-0": 22 * Joule, "dram-0": 4 * Joule})
	r.add(nil)

	assert.Equal(t, map[string]Energy{
		"package-0": 12 * Joule,
		"dram-0":    3 * Joule,
	}, r.totals())
	assert.Equal(t, map[string]int{"package-0": 2, "dram-0": 1}, r.intervals())

	single := newReconciler()
	single.add(map[string]Energy{"package-0": 10 * Joule})
	assert.Equal(t, map[string]int{"package-0": 0}, single.intervals())
	assert.Equal(t, map[string]Energy{"package-0": 0}, single.totals())
}
