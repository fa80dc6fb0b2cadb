// Package lxc starts the managed container with lxc-start.
package lxc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/fgeck/lxc-wold/internal/models"
	"github.com/rs/zerolog"
)

// DefaultCommand is the lxc-start binary used when none is configured.
const DefaultCommand = "lxc-start"

// stderrTail bounds how much lxc-start stderr is kept for error messages.
const stderrTail = 4096

// Service defines the interface for running the container.
type Service interface {
	Start(ctx context.Context, req models.LaunchRequest) (*models.LaunchResult, error)
}

// CommandExecutor allows mocking exec.Command in tests.
type CommandExecutor interface {
	// Run blocks until the command exits. It returns the exit code (-1 if
	// the command could not be started) and the tail of its stderr.
	Run(ctx context.Context, name string, args ...string) (int, []byte, error)
}

// DefaultExecutor is the default command executor using os/exec.
type DefaultExecutor struct{}

// Run runs a command to completion.
func (e *DefaultExecutor) Run(ctx context.Context, name string, args ...string) (int, []byte, error) {
	stderr := &tailBuffer{max: stderrTail}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = io.Discard
	cmd.Stderr = stderr

	err := cmd.Run()
	if err == nil {
		return 0, stderr.Bytes(), nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return -1, stderr.Bytes(), err
	}

	code := exitErr.ExitCode()
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		code = 128 + int(ws.Signal())
	}
	return code, stderr.Bytes(), err
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	buf []byte
	max int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) Bytes() []byte {
	return b.buf
}

// Impl implements the Service interface.
type Impl struct {
	executor CommandExecutor
	cfg      models.RuntimeConfig
	logger   zerolog.Logger
}

// New creates a new container runtime.
func New(logger zerolog.Logger, cfg models.RuntimeConfig) *Impl {
	return NewWithExecutor(logger, &DefaultExecutor{}, cfg)
}

// NewWithExecutor creates a new container runtime with a custom executor (for testing).
func NewWithExecutor(logger zerolog.Logger, executor CommandExecutor, cfg models.RuntimeConfig) *Impl {
	if cfg.Command == "" {
		cfg.Command = DefaultCommand
	}
	return &Impl{
		executor: executor,
		cfg:      cfg,
		logger:   logger,
	}
}

// BuildArgs returns the lxc-start arguments for req. The container always
// runs in the foreground so Start blocks until it stops.
func BuildArgs(req models.LaunchRequest) []string {
	args := []string{"-n", req.Name, "-F"}

	if req.LXCPath != "" {
		args = append(args, "-P", req.LXCPath)
	}
	if req.RCFile != "" {
		args = append(args, "-f", req.RCFile)
	}
	for _, def := range req.Defines {
		args = append(args, "-s", def)
	}
	if req.Console != "" {
		args = append(args, "-L", req.Console)
	}
	if len(req.Command) > 0 {
		args = append(args, "--")
		args = append(args, req.Command...)
	}

	return args
}

// Start runs the container and returns once it has stopped.
func (s *Impl) Start(ctx context.Context, req models.LaunchRequest) (*models.LaunchResult, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("container name is required")
	}

	args := BuildArgs(req)

	s.logger.Info().
		Str("container", req.Name).
		Strs("command", req.Command).
		Msg("starting container")
	s.logger.Debug().
		Str("bin", s.cfg.Command).
		Strs("args", args).
		Msg("running lxc-start")

	start := time.Now()
	code, stderr, err := s.executor.Run(ctx, s.cfg.Command, args...)
	result := &models.LaunchResult{
		ExitCode: code,
		Duration: time.Since(start),
	}

	switch {
	case code < 0:
		result.ExitCode = models.ExitLaunchFailed
		result.Error = fmt.Errorf("failed to run %s: %w", s.cfg.Command, err)
	case s.cfg.RebootExitCode != 0 && code == s.cfg.RebootExitCode:
		result.Reboot = true
	case code != 0:
		result.Error = fmt.Errorf("container exited with status %d: %s", code, strings.TrimSpace(string(stderr)))
	}

	event := s.logger.Info()
	if result.Error != nil {
		event = s.logger.Error().Err(result.Error)
	}
	event.
		Str("container", req.Name).
		Int("exit_code", result.ExitCode).
		Bool("reboot", result.Reboot).
		Dur("duration", result.Duration).
		Msg("container stopped")

	return result, nil
}
