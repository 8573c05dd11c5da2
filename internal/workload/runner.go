// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package workload measures the energy of a child command. The command runs
// inside exactly one monitor session; its output is passed through.
package workload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/ea2p/powermeter/internal/monitor"
	"github.com/ea2p/powermeter/internal/service"
)

// Measurer runs a function inside a measurement session
type Measurer interface {
	Measure(ctx context.Context, labels monitor.Labels, fn func(context.Context) error) (*monitor.Record, error)
}

var ErrNoCommand = errors.New("no command to run")

type Opts struct {
	logger    *slog.Logger
	stdin     io.Reader
	stdout    io.Writer
	stderr    io.Writer
	waitDelay time.Duration
}

// DefaultOpts returns the default options
func DefaultOpts() Opts {
	return Opts{
		logger:    slog.Default(),
		stdin:     os.Stdin,
		stdout:    os.Stdout,
		stderr:    os.Stderr,
		waitDelay: 5 * time.Second,
	}
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

// WithIO sets the streams handed to the child
func WithIO(stdin io.Reader, stdout, stderr io.Writer) OptionFn {
	return func(o *Opts) {
		o.stdin = stdin
		o.stdout = stdout
		o.stderr = stderr
	}
}

// WithWaitDelay bounds how long an interrupted child may take to exit
// before it is killed
func WithWaitDelay(d time.Duration) OptionFn {
	return func(o *Opts) {
		o.waitDelay = d
	}
}

// Runner is a service that runs one command and returns when it exits
type Runner struct {
	logger   *slog.Logger
	measurer Measurer
	labels   monitor.Labels
	argv     []string
	opts     Opts

	mu       sync.Mutex
	record   *monitor.Record
	exitCode int
}

var _ service.Runner = (*Runner)(nil)

func NewRunner(m Measurer, labels monitor.Labels, argv []string, applyOpts ...OptionFn) *Runner {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}
	return &Runner{
		logger:   opts.logger.With("service", "workload"),
		measurer: m,
		labels:   labels,
		argv:     argv,
		opts:     opts,
	}
}

func (r *Runner) Name() string {
	return "workload"
}

// Run starts the command in a session. Cancelling ctx interrupts the child;
// the session is still finalised and its record kept.
func (r *Runner) Run(ctx context.Context) error {
	if len(r.argv) == 0 {
		return ErrNoCommand
	}

	r.logger.Info("Running workload", "command", r.argv, "algorithm", r.labels.Algorithm)
	rec, err := r.measurer.Measure(ctx, r.labels, r.runCommand)

	r.mu.Lock()
	r.record = rec
	r.exitCode = exitCode(err)
	r.mu.Unlock()

	if err != nil {
		r.logger.Warn("Workload failed", "error", err, "exit-code", r.exitCode)
		return fmt.Errorf("workload %s: %w", r.argv[0], err)
	}
	r.logger.Info("Workload finished", "elapsed", rec.ElapsedSeconds)
	return nil
}

func (r *Runner) runCommand(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, r.argv[0], r.argv[1:]...)
	cmd.Stdin = r.opts.stdin
	cmd.Stdout = r.opts.stdout
	cmd.Stderr = r.opts.stderr
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = r.opts.waitDelay
	return cmd.Run()
}

// Record returns the record of the session the command ran in, or nil when
// the session could not be started
func (r *Runner) Record() *monitor.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.record.Clone()
}

// ExitCode is the child's exit status: 0 on success, 1 when it could not be
// run or was killed
func (r *Runner) ExitCode() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exitCode
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() > 0 {
		return exitErr.ExitCode()
	}
	return 1
}
