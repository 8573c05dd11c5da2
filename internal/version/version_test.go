// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfo(t *testing.T) {
	info := Info()
	assert.NotEmpty(t, info.Version)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, runtime.GOOS, info.GoOS)
	assert.Equal(t, runtime.GOARCH, info.GoArch)
}

func TestString(t *testing.T) {
	info := VersionInfo{
		Version:   "v0.3.0",
		GitCommit: "abc123",
		GitBranch: "main",
		BuildTime: "2025-06-01",
		GoVersion: "go1.24",
		GoOS:      "linux",
		GoArch:    "amd64",
	}
	assert.Equal(t, "powermeter v0.3.0 (commit abc123, branch main, built 2025-06-01) go1.24 linux/amd64", info.String())

	info.GitCommit = ""
	assert.Contains(t, info.String(), "commit unknown")
}
