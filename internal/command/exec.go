package command

import (
	"bytes"
	"condoragent/internal/apperrors"
	"condoragent/internal/observability"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// waitDelay bounds how long Run waits for output pipes after the process is killed.
const waitDelay = 5 * time.Second

// MetricsRecorder is an optional interface for recording command metrics.
type MetricsRecorder interface {
	RecordCommand(ctx context.Context, name string, exitCode int, durationSeconds float64)
}

// activeRecorder is implemented by recorders that also track in-flight commands.
type activeRecorder interface {
	CommandStarted(ctx context.Context, name string)
	CommandFinished(ctx context.Context, name string)
}

// Config holds configuration for the exec runner.
type Config struct {
	BinDir  string        // Directory holding scheduler binaries (empty = PATH lookup)
	Timeout time.Duration // Per-command bound (0 = unbounded)
	Shell   string        // Shell used to apply a per-process umask (default: /bin/sh)
}

// Exec runs commands as local OS processes.
type Exec struct {
	binDir  string
	timeout time.Duration
	shell   string
	metrics MetricsRecorder
}

// NewExec creates an exec runner. metrics may be nil.
func NewExec(cfg Config, metrics MetricsRecorder) *Exec {
	shell := cfg.Shell
	if shell == "" {
		shell = "/bin/sh"
	}
	return &Exec{
		binDir:  cfg.BinDir,
		timeout: cfg.Timeout,
		shell:   shell,
		metrics: metrics,
	}
}

// Resolve returns the absolute path of a binary, looking in the bin dir first.
func (e *Exec) Resolve(name string) (string, error) {
	if e.binDir != "" && !strings.ContainsRune(name, filepath.Separator) {
		return exec.LookPath(filepath.Join(e.binDir, name))
	}
	return exec.LookPath(name)
}

// Run executes the command and waits for it to finish.
//
// When cmd.Umask is set the binary is exec'd through a shell that sets the
// mask first, so only the child process sees it.
func (e *Exec) Run(ctx context.Context, c *Command) (*Result, error) {
	logger := slog.With("command", c.Name, "dir", c.Dir)

	path, err := e.Resolve(c.Name)
	if err != nil {
		e.record(ctx, c.Name, -1, 0)
		return nil, apperrors.Wrap(apperrors.ExternalCommandLaunchFailure, c.Name, err)
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	ctx, span := observability.StartSpan(ctx, "command.run",
		attribute.String("command.name", c.Name),
		attribute.String("command.dir", c.Dir),
	)
	defer span.End()

	name, args := path, c.Args
	if c.Umask != nil {
		script := fmt.Sprintf(`umask %04o && exec "$0" "$@"`, *c.Umask)
		name = e.shell
		args = append([]string{"-c", script, path}, c.Args...)
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = c.Dir
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debug("Running command", "cmdline", c.String())
	if ar, ok := e.metrics.(activeRecorder); ok {
		ar.CommandStarted(ctx, c.Name)
		defer ar.CommandFinished(context.WithoutCancel(ctx), c.Name)
	}
	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	result := &Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
		result.ExitCode = 0
	case ctx.Err() != nil:
		result.ExitCode = -1
		span.SetStatus(codes.Error, ctx.Err().Error())
		e.record(ctx, c.Name, result.ExitCode, duration.Seconds())
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return result, apperrors.Wrap(apperrors.CommandTimedOut, c.Name,
				fmt.Errorf("killed after %s: %w", duration.Round(time.Millisecond), ctx.Err()))
		}
		return result, apperrors.Wrap(apperrors.ExternalCommandLaunchFailure, c.Name, ctx.Err())
	case errors.As(runErr, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	default:
		result.ExitCode = -1
		span.SetStatus(codes.Error, runErr.Error())
		e.record(ctx, c.Name, result.ExitCode, duration.Seconds())
		return result, apperrors.Wrap(apperrors.ExternalCommandLaunchFailure, c.Name, runErr)
	}

	span.SetAttributes(attribute.Int("command.exit_code", result.ExitCode))
	e.record(ctx, c.Name, result.ExitCode, duration.Seconds())
	logger.Debug("Command finished",
		"exitCode", result.ExitCode,
		"duration", duration,
		"stdoutBytes", len(result.Stdout),
		"stderrBytes", len(result.Stderr),
	)
	return result, nil
}

func (e *Exec) record(ctx context.Context, name string, exitCode int, seconds float64) {
	if e.metrics != nil {
		e.metrics.RecordCommand(ctx, name, exitCode, seconds)
	}
}
