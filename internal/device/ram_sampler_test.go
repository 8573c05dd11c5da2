// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dmidecodeOutput = `# dmidecode 3.3
Getting SMBIOS data from sysfs.
SMBIOS 3.2.0 present.

Handle 0x0040, DMI type 17, 84 bytes
Memory Device
	Array Handle: 0x003F
	Total Width: 72 bits
	Size: 32 GB
	Form Factor: DIMM
	Locator: CPU1_DIMM_A1
	Type: DDR4
	Type Detail: Synchronous Registered (Buffered)
	Speed: 2933 MT/s

Handle 0x0041, DMI type 17, 84 bytes
Memory Device
	Size: No Module Installed
	Form Factor: DIMM
	Locator: CPU1_DIMM_A2
	Type: Unknown

Handle 0x0042, DMI type 17, 84 bytes
Memory Device
	Size: 32768 MB
	Form Factor: DIMM
	Locator: CPU1_DIMM_B1
	Type: DDR4
	Volatile Size: 32 GB
`

func TestParseDMIDecode(t *testing.T) {
	info := parseDMIDecode([]byte(dmidecodeOutput))
	assert.Equal(t, DIMMInfo{Type: "DDR4", SizeGB: 32, Count: 2}, info)
	assert.Equal(t, 5*Watt, info.NominalPower())

	assert.Equal(t, DIMMInfo{}, parseDMIDecode(nil))
}

func TestDIMMNominalPower(t *testing.T) {
	tt := []struct {
		info DIMMInfo
		want Power
	}{
		{DIMMInfo{Type: "DDR4", SizeGB: 16}, 4 * Watt},
		{DIMMInfo{Type: "DDR5", SizeGB: 32}, 5 * Watt},
		{DIMMInfo{Type: "DDR4", SizeGB: 64}, 6 * Watt},
		{DIMMInfo{Type: "DDR5", SizeGB: 128}, 8 * Watt},
		{DIMMInfo{Type: "DDR4", SizeGB: 8}, 10 * Watt},
		{DIMMInfo{Type: "DDR3", SizeGB: 8}, 4.5 * Watt},
		{DIMMInfo{Type: "LPDDR4", SizeGB: 16}, 4 * Watt},
		{DIMMInfo{Type: "SDRAM", SizeGB: 1}, 0},
	}
	for _, test := range tt {
		assert.Equal(t, test.want, test.info.NominalPower(), "%+v", test.info)
	}
}

func TestLoadFactor(t *testing.T) {
	tt := map[float64]float64{
		0: 35, 5: 35, 5.1: 65, 10: 65, 25: 70, 50: 75, 70: 80, 70.1: 85, 100: 85,
	}
	for used, want := range tt {
		assert.Equal(t, want, loadFactor(used), "used=%v", used)
	}
}

func TestRAMSamplerFromDMIDecode(t *testing.T) {
	cmd := &mockCommander{}
	cmd.On("Output", "dmidecode", []string{"-t", "17"}).Return([]byte(dmidecodeOutput), nil)

	used := 40.0
	s, err := NewRAMSampler(
		WithRAMCommander(cmd),
		WithMemoryUsage(func() (float64, error) { return used, nil }),
	)
	require.NoError(t, err)
	assert.Equal(t, "ram", s.Name())
	assert.Equal(t, []string{"dram"}, s.Rails())
	assert.Equal(t, KindPower, KindOf(s))

	// 2 DIMMs * 5W * 75%
	got, err := s.Sample()
	require.NoError(t, err)
	assert.InDelta(t, 7.5, got[RailDRAM].Watts(), 1e-9)

	used = 90
	got, err = s.Sample()
	require.NoError(t, err)
	assert.InDelta(t, 8.5, got[RailDRAM].Watts(), 1e-9)
	cmd.AssertExpectations(t)
}

func TestRAMSamplerWithDIMMOverride(t *testing.T) {
	cmd := &mockCommander{}
	s, err := NewRAMSampler(
		WithRAMCommander(cmd),
		WithDIMMs(4, 6*Watt),
		WithMemoryUsage(func() (float64, error) { return 3, nil }),
	)
	require.NoError(t, err)

	got, err := s.Sample()
	require.NoError(t, err)
	assert.InDelta(t, 4*6*0.35, got[RailDRAM].Watts(), 1e-9)
	cmd.AssertNotCalled(t, "Output")
}

func TestRAMSamplerProbeFailures(t *testing.T) {
	t.Run("dmidecode fails", func(t *testing.T) {
		cmd := &mockCommander{}
		cmd.On("Output", "dmidecode", []string{"-t", "17"}).Return(nil, errors.New("permission denied"))
		_, err := NewRAMSampler(WithRAMCommander(cmd))
		assert.ErrorIs(t, err, ErrProbe)
	})

	t.Run("no populated modules", func(t *testing.T) {
		cmd := &mockCommander{}
		cmd.On("Output", "dmidecode", []string{"-t", "17"}).Return([]byte("Memory Device\n\tSize: No Module Installed\n"), nil)
		_, err := NewRAMSampler(WithRAMCommander(cmd))
		assert.ErrorIs(t, err, ErrProbe)
	})

	t.Run("memory usage unavailable", func(t *testing.T) {
		_, err := NewRAMSampler(
			WithDIMMs(2, 4*Watt),
			WithMemoryUsage(func() (float64, error) { return 0, errors.New("no /proc/meminfo") }))
		assert.ErrorIs(t, err, ErrProbe)
	})
}

func TestRAMSamplerSampleError(t *testing.T) {
	fail := false
	s, err := NewRAMSampler(
		WithDIMMs(2, 4*Watt),
		WithMemoryUsage(func() (float64, error) {
			if fail {
				return 0, errors.New("boom")
			}
			return 50, nil
		}))
	require.NoError(t, err)

	fail = true
	got, err := s.Sample()
	assert.Error(t, err)
	assert.Nil(t, got)
}
