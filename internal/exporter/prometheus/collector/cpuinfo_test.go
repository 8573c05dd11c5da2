// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/prometheus/procfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockProcFS struct {
	cpuInfoFunc func() ([]procfs.CPUInfo, error)
}

func (m *mockProcFS) CPUInfo() ([]procfs.CPUInfo, error) {
	return m.cpuInfoFunc()
}

func sampleCPUInfo() []procfs.CPUInfo {
	return []procfs.CPUInfo{
		{
			Processor:  0,
			VendorID:   "GenuineIntel",
			ModelName:  "Intel(R) Core(TM) i7-9750H CPU @ 2.60GHz",
			PhysicalID: "0",
			CoreID:     "0",
		},
		{
			Processor:  1,
			VendorID:   "GenuineIntel",
			ModelName:  "Intel(R) Core(TM) i7-9750H CPU @ 2.60GHz",
			PhysicalID: "0",
			CoreID:     "1",
		},
	}
}

func sampleFS() *mockProcFS {
	return &mockProcFS{cpuInfoFunc: func() ([]procfs.CPUInfo, error) {
		return sampleCPUInfo(), nil
	}}
}

func TestNewCPUInfoCollectorWithFS(t *testing.T) {
	fs := sampleFS()
	collector := newCPUInfoCollectorWithFS(fs, nil)
	assert.Equal(t, fs, collector.fs)
	assert.Contains(t, collector.desc.String(), "powermeter_node_cpu_info")
	assert.Contains(t, collector.desc.String(), "variableLabels: {processor,vendor_id,model_name,physical_id,core_id}")
}

func TestNewCPUInfoCollector(t *testing.T) {
	collector, err := NewCPUInfoCollector("/proc", nil)
	require.NoError(t, err)
	assert.NotNil(t, collector.fs)
}

func TestCPUInfoCollector_Describe(t *testing.T) {
	collector := newCPUInfoCollectorWithFS(sampleFS(), nil)

	ch := make(chan *prometheus.Desc, 1)
	collector.Describe(ch)
	close(ch)

	assert.Equal(t, collector.desc, <-ch)
}

func TestCPUInfoCollector_Collect(t *testing.T) {
	collector := newCPUInfoCollectorWithFS(sampleFS(), nil)

	expected := `
# HELP powermeter_node_cpu_info CPU information from procfs
# TYPE powermeter_node_cpu_info gauge
powermeter_node_cpu_info{core_id="0",model_name="Intel(R) Core(TM) i7-9750H CPU @ 2.60GHz",physical_id="0",processor="0",vendor_id="GenuineIntel"} 1
powermeter_node_cpu_info{core_id="1",model_name="Intel(R) Core(TM) i7-9750H CPU @ 2.60GHz",physical_id="0",processor="1",vendor_id="GenuineIntel"} 1
`
	assert.NoError(t, testutil.CollectAndCompare(collector, strings.NewReader(expected)))
}

func TestCPUInfoCollector_CollectError(t *testing.T) {
	collector := newCPUInfoCollectorWithFS(&mockProcFS{
		cpuInfoFunc: func() ([]procfs.CPUInfo, error) {
			return nil, errors.New("failed to read CPU info")
		},
	}, nil)

	assert.Equal(t, 0, testutil.CollectAndCount(collector))
}

func TestCPUInfoCollector_CollectConcurrency(t *testing.T) {
	collector := newCPUInfoCollectorWithFS(sampleFS(), nil)

	const numGoroutines = 10
	var wg sync.WaitGroup
	ch := make(chan prometheus.Metric, numGoroutines*len(sampleCPUInfo()))

	for range numGoroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			collector.Collect(ch)
		}()
	}

	wg.Wait()
	close(ch)

	count := 0
	for range ch {
		count++
	}
	assert.Equal(t, numGoroutines*len(sampleCPUInfo()), count)
}
