package build

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Invocation is one sandboxed compiler run.
type Invocation struct {
	Binary string
	Args   []string
	Dir    string
	// Env is the complete child environment (see SandboxEnv).
	Env []string
	// Timeout bounds the run; the process is killed when it elapses.
	// Zero uses the executor default.
	Timeout time.Duration
}

// CommandString returns the full command as a string (for display/logging).
func (inv Invocation) CommandString() string {
	if len(inv.Args) == 0 {
		return inv.Binary
	}
	return inv.Binary + " " + strings.Join(inv.Args, " ")
}

// Result is the structured outcome of an invocation. A non-zero exit code
// is a normal result, not an error.
type Result struct {
	ExitCode   int
	Stdout     string
	Stderr     string
	Duration   time.Duration
	Killed     bool
	KillReason string
	Truncated  bool
}

// OK reports a clean exit.
func (r *Result) OK() bool {
	return r != nil && r.ExitCode == 0 && !r.Killed
}

// TruncationMarker ends a diagnostic whose output hit the executor cap.
const TruncationMarker = "[diagnostic truncated: output exceeded limit]"

// Diagnostic returns the diagnostic text of a run: stderr, then stdout,
// then the kill reason. The grammar compiler reports some errors on stdout,
// so both streams are kept. Capped output is marked with TruncationMarker.
func (r *Result) Diagnostic() string {
	if r == nil {
		return ""
	}
	var parts []string
	if s := strings.TrimSpace(r.Stderr); s != "" {
		parts = append(parts, s)
	}
	if s := strings.TrimSpace(r.Stdout); s != "" {
		parts = append(parts, s)
	}
	if r.Killed {
		parts = append(parts, "killed: "+r.KillReason)
	}
	if r.Truncated {
		parts = append(parts, TruncationMarker)
	}
	if len(parts) == 0 && r.ExitCode != 0 {
		parts = append(parts, fmt.Sprintf("exit status %d", r.ExitCode))
	}
	return strings.Join(parts, "\n")
}

// Executor runs invocations. Implementations must not return an error for
// a process that ran and exited non-zero.
type Executor interface {
	Run(ctx context.Context, inv Invocation) (*Result, error)
}

// ProcessExecutor runs invocations as local subprocesses.
type ProcessExecutor struct {
	DefaultTimeout time.Duration
	MaxOutputBytes int64
	Log            *zap.Logger
}

// NewProcessExecutor creates an executor with the given defaults.
func NewProcessExecutor(timeout time.Duration, maxOutput int64, log *zap.Logger) *ProcessExecutor {
	if log == nil {
		log = zap.NewNop()
	}
	if maxOutput <= 0 {
		maxOutput = 4 << 20
	}
	return &ProcessExecutor{DefaultTimeout: timeout, MaxOutputBytes: maxOutput, Log: log}
}

// Run executes inv and waits for it. Infrastructure failures (binary not
// found, permission denied) are returned as errors; everything else is a
// Result.
func (e *ProcessExecutor) Run(ctx context.Context, inv Invocation) (*Result, error) {
	if inv.Binary == "" {
		return nil, errors.New("binary is required")
	}

	timeout := inv.Timeout
	if timeout <= 0 {
		timeout = e.DefaultTimeout
	}
	execCtx := ctx
	var cancel context.CancelFunc = func() {}
	if timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	cmd := exec.CommandContext(execCtx, inv.Binary, inv.Args...)
	cmd.Dir = inv.Dir
	cmd.WaitDelay = time.Second // children holding our pipes must not outlive the kill
	cmd.Env = inv.Env
	if cmd.Env == nil {
		cmd.Env = []string{}
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	stdout := &limitedWriter{w: &stdoutBuf, max: e.MaxOutputBytes}
	stderr := &limitedWriter{w: &stderrBuf, max: e.MaxOutputBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	e.Log.Debug("exec", zap.String("cmd", inv.CommandString()), zap.String("dir", inv.Dir))

	start := time.Now()
	err := cmd.Run()
	result := &Result{
		ExitCode:  0,
		Stdout:    stdoutBuf.String(),
		Stderr:    stderrBuf.String(),
		Duration:  time.Since(start),
		Truncated: stdout.truncated || stderr.truncated,
	}

	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.Is(execCtx.Err(), context.DeadlineExceeded):
			result.Killed = true
			result.KillReason = fmt.Sprintf("timeout after %s", timeout)
			result.ExitCode = -1
			e.Log.Warn("process killed", zap.String("cmd", inv.Binary), zap.Duration("timeout", timeout))
		case errors.Is(execCtx.Err(), context.Canceled):
			result.Killed = true
			result.KillReason = "context canceled"
			result.ExitCode = -1
		case errors.As(err, &exitErr):
			result.ExitCode = exitErr.ExitCode()
		default:
			return nil, fmt.Errorf("exec %s: %w", inv.Binary, err)
		}
	}

	if result.Truncated {
		e.Log.Warn("process output truncated", zap.String("cmd", inv.Binary), zap.Int64("limit", e.MaxOutputBytes))
	}
	e.Log.Debug("exec done", zap.String("cmd", inv.Binary), zap.Int("exit", result.ExitCode), zap.Duration("elapsed", result.Duration))
	return result, nil
}

// limitedWriter is an io.Writer that limits total bytes written.
type limitedWriter struct {
	w         io.Writer
	max       int64
	written   int64
	truncated bool
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	if lw.written >= lw.max {
		lw.truncated = true
		return n, nil // Pretend we wrote it
	}
	remaining := lw.max - lw.written
	if int64(n) > remaining {
		lw.truncated = true
		written, err := lw.w.Write(p[:remaining])
		lw.written += int64(written)
		return n, err // Return original length to avoid "short write" errors
	}
	written, err := lw.w.Write(p)
	lw.written += int64(written)
	return written, err
}
