// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package selector

import (
	"fmt"

	"github.com/prometheus/procfs"
)

// procFS is the part of procfs the selector reads
type procFS interface {
	CPUInfo() ([]procfs.CPUInfo, error)
}

type realProcFS struct {
	fs procfs.FS
}

func (r *realProcFS) CPUInfo() ([]procfs.CPUInfo, error) {
	return r.fs.CPUInfo()
}

func newProcFS(mountPoint string) (procFS, error) {
	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, err
	}
	return &realProcFS{fs: fs}, nil
}

// CPUFacts is what the host reports about its processors
type CPUFacts struct {
	// Model is the brand string of the first processor
	Model string
	// Packages is the number of distinct physical packages
	Packages int
}

// ReadCPUFacts reads the CPU brand string and package count from /proc/cpuinfo
func ReadCPUFacts(procPath string) (CPUFacts, error) {
	fs, err := newProcFS(procPath)
	if err != nil {
		return CPUFacts{}, fmt.Errorf("creating procfs failed: %w", err)
	}
	return readCPUFacts(fs)
}

func readCPUFacts(fs procFS) (CPUFacts, error) {
	infos, err := fs.CPUInfo()
	if err != nil {
		return CPUFacts{}, fmt.Errorf("reading cpuinfo: %w", err)
	}
	if len(infos) == 0 {
		return CPUFacts{}, fmt.Errorf("cpuinfo lists no processors")
	}

	packages := map[string]struct{}{}
	for _, ci := range infos {
		packages[ci.PhysicalID] = struct{}{}
	}
	return CPUFacts{Model: infos[0].ModelName, Packages: len(packages)}, nil
}
