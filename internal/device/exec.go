// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// Process is a running vendor tool
type Process interface {
	// Interrupt asks the tool to flush its log and exit
	Interrupt() error
	// Wait blocks until the tool has exited
	Wait() error
}

// Commander runs vendor command line tools. It is replaced in tests.
type Commander interface {
	LookPath(name string) (string, error)
	Output(name string, args ...string) ([]byte, error)
	Start(name string, args ...string) (Process, error)
}

type execCommander struct{}

// DefaultCommander runs tools with os/exec
var DefaultCommander Commander = execCommander{}

func (execCommander) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

func (execCommander) Output(name string, args ...string) ([]byte, error) {
	out, err := exec.Command(name, args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return out, fmt.Errorf("%s: %w: %s", name, err, exitErr.Stderr)
		}
		return out, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

func (execCommander) Start(name string, args ...string) (Process, error) {
	cmd := exec.Command(name, args...)
	cmd.Stdout = nil
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", name, err)
	}
	return &execProcess{cmd: cmd}, nil
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) Interrupt() error {
	return p.cmd.Process.Signal(os.Interrupt)
}

func (p *execProcess) Wait() error {
	err := p.cmd.Wait()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// tools exit non-zero (or by signal) when interrupted
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return nil
		}
		if exitErr.ExitCode() == 130 || exitErr.ExitCode() == -1 {
			return nil
		}
	}
	return err
}
