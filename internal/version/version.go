// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"runtime"
)

// Name is the program name reported in the version banner and build info
const Name = "powermeter"

// set via -ldflags at build time
var (
	version   string
	buildTime string
	gitBranch string
	gitCommit string
)

type VersionInfo struct {
	Version   string
	BuildTime string
	GitBranch string
	GitCommit string

	GoVersion string
	GoOS      string
	GoArch    string
}

// Info returns the version information
func Info() VersionInfo {
	v := version
	if v == "" {
		v = "dev"
	}
	return VersionInfo{
		Version:   v,
		BuildTime: buildTime,
		GitBranch: gitBranch,
		GitCommit: gitCommit,

		GoVersion: runtime.Version(),
		GoOS:      runtime.GOOS,
		GoArch:    runtime.GOARCH,
	}
}

// String renders the one-line banner printed by --version
func (v VersionInfo) String() string {
	commit := v.GitCommit
	if commit == "" {
		commit = "unknown"
	}
	return fmt.Sprintf("%s %s (commit %s, branch %s, built %s) %s %s/%s",
		Name, v.Version, commit, v.GitBranch, v.BuildTime, v.GoVersion, v.GoOS, v.GoArch)
}
