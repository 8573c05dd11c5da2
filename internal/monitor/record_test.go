// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordColumns(t *testing.T) {
	rec := &Record{
		Energy: map[string]float64{
			"package-0":    1.5,
			"dram":         0,
			"nvidia-gpu-0": 3,
		},
		ElapsedSeconds: 12.5,
	}

	assert.Equal(t, []string{"dram", "nvidia-gpu-0", "package-0"}, rec.Rails())
	assert.Equal(t, []string{"dram", "nvidia-gpu-0", "package-0", ElapsedColumn}, rec.Columns())

	v, ok := rec.Value(ElapsedColumn)
	assert.True(t, ok)
	assert.Equal(t, 12.5, v)

	v, ok = rec.Value("dram")
	assert.True(t, ok)
	assert.Zero(t, v)

	_, ok = rec.Value("amd-gpu-0")
	assert.False(t, ok)

	clone := rec.Clone()
	clone.Energy["dram"] = 7
	assert.Zero(t, rec.Energy["dram"])

	var nilRec *Record
	assert.Nil(t, nilRec.Clone())
}
