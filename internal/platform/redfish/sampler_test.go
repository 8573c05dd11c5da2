// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package redfish

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/ea2p/powermeter/internal/device"
)

type mockReader struct {
	mock.Mock
}

func (m *mockReader) Init() error {
	return m.Called().Error(0)
}

func (m *mockReader) ReadAll() ([]Chassis, error) {
	args := m.Called()
	chassis, _ := args.Get(0).([]Chassis)
	return chassis, args.Error(1)
}

func (m *mockReader) Close() {
	m.Called()
}

func chassisAt(id string, watts ...float64) Chassis {
	c := Chassis{ID: id}
	for _, w := range watts {
		c.Readings = append(c.Readings, Reading{Power: Power(w) * device.Watt})
	}
	return c
}

func TestSamplerRailsAndCache(t *testing.T) {
	fakeClock := testingclock.NewFakeClock(time.Now())

	r := &mockReader{}
	r.On("Init").Return(nil)
	r.On("ReadAll").Return([]Chassis{chassisAt("2", 50), chassisAt("1", 100, 20)}, nil).Once()

	s, err := NewSampler(BMC{}, testLogger(), withReader(r), WithClock(fakeClock), WithStaleness(time.Second))
	require.NoError(t, err)

	assert.Equal(t, "redfish", s.Name())
	assert.Equal(t, []string{"platform-1", "platform-2"}, s.Rails())
	assert.Equal(t, device.KindPower, device.KindOf(s))

	// served from the reading taken at discovery
	readings, err := s.Sample()
	require.NoError(t, err)
	assert.Equal(t, map[string]device.Power{
		"platform-1": 120 * device.Watt,
		"platform-2": 50 * device.Watt,
	}, readings)
	r.AssertNumberOfCalls(t, "ReadAll", 1)

	fakeClock.Step(2 * time.Second)
	r.On("ReadAll").Return([]Chassis{chassisAt("1", 90), chassisAt("9", 10)}, nil)
	readings, err = s.Sample()
	require.NoError(t, err)
	assert.Equal(t, map[string]device.Power{
		"platform-1": 90 * device.Watt,
		"platform-2": 0,
	}, readings, "chassis that stop reporting read zero and new ones are ignored")
	r.AssertNumberOfCalls(t, "ReadAll", 2)

	// callers own the returned map
	readings["platform-1"] = 0
	again, err := s.Sample()
	require.NoError(t, err)
	assert.Equal(t, 90*device.Watt, again["platform-1"])
}

func TestSamplerReadError(t *testing.T) {
	fakeClock := testingclock.NewFakeClock(time.Now())

	r := &mockReader{}
	r.On("Init").Return(nil)
	r.On("ReadAll").Return([]Chassis{chassisAt("1", 100)}, nil).Once()
	r.On("ReadAll").Return(nil, errors.New("connection reset"))

	s, err := NewSampler(BMC{}, testLogger(), withReader(r), WithClock(fakeClock))
	require.NoError(t, err)

	fakeClock.Step(time.Second)
	_, err = s.Sample()
	assert.ErrorContains(t, err, "connection reset")
}

func TestSamplerConcurrentSamples(t *testing.T) {
	fakeClock := testingclock.NewFakeClock(time.Now())

	r := &mockReader{}
	r.On("Init").Return(nil)
	r.On("ReadAll").Return([]Chassis{chassisAt("1", 100)}, nil).Once()
	r.On("ReadAll").Return([]Chassis{chassisAt("1", 100)}, nil).After(50 * time.Millisecond)

	s, err := NewSampler(BMC{}, testLogger(), withReader(r), WithClock(fakeClock), WithStaleness(0))
	require.NoError(t, err)
	fakeClock.Step(time.Second)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			readings, err := s.Sample()
			assert.NoError(t, err)
			assert.Equal(t, 100*device.Watt, readings["platform-1"])
		}()
	}
	wg.Wait()

	calls := 0
	for _, c := range r.Calls {
		if c.Method == "ReadAll" {
			calls++
		}
	}
	assert.Less(t, calls, 9, "concurrent samples share BMC reads")
}

func TestSamplerProbeFailure(t *testing.T) {
	r := &mockReader{}
	r.On("Init").Return(errors.New("failed to connect to BMC"))

	_, err := NewSampler(BMC{}, testLogger(), withReader(r))
	assert.ErrorIs(t, err, device.ErrProbe)
	assert.ErrorContains(t, err, "probe redfish")

	r = &mockReader{}
	r.On("Init").Return(nil)
	r.On("ReadAll").Return(nil, errors.New("no chassis with valid power readings found"))
	r.On("Close").Return()

	_, err = NewSampler(BMC{}, testLogger(), withReader(r))
	assert.ErrorIs(t, err, device.ErrProbe)
	r.AssertCalled(t, "Close")
}

func TestSamplerAgainstBMC(t *testing.T) {
	bmc := newFakeBMC(240)
	defer bmc.Close()

	s, err := NewSampler(BMC{Endpoint: bmc.URL(), Username: "admin", Password: "secret"}, testLogger(), WithStaleness(0))
	require.NoError(t, err)
	assert.Equal(t, []string{"platform-1"}, s.Rails())

	bmc.setWatts(260)
	time.Sleep(time.Millisecond)
	readings, err := s.Sample()
	require.NoError(t, err)
	assert.InDelta(t, 260, readings["platform-1"].Watts(), 1e-9)
	assert.Positive(t, bmc.calls("PowerSubsystem"))

	require.NoError(t, s.Shutdown())
	assert.Equal(t, 0, bmc.activeSessions())
}
