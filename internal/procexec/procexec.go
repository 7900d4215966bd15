// Package procexec runs invocation commands as local subprocesses and reports
// their exit status and resource usage.
package procexec

import (
	"bytes"
	"context"
	"errors"
	"os/exec"

	"github.com/benbjohnson/clock"
	"github.com/vk/pdctl/internal/ctxlog"
	"github.com/vk/pdctl/internal/metrics"
	"github.com/vk/pdctl/internal/planner"
)

// ExitNotStarted is the exit code reported when the executable could not be
// found or started.
const ExitNotStarted = 127

// maxOutput bounds the captured output kept per invocation.
const maxOutput = 64 << 10

// Status is the result of one execution.
type Status struct {
	metrics.Outcome
	Output []byte // combined stdout and stderr, truncated to the last 64KiB
}

// Abandoned reports whether the command never started because its context
// ended first.
func (s Status) Abandoned() bool {
	return s.ExitCode == ExitNotStarted &&
		(errors.Is(s.Err, context.Canceled) || errors.Is(s.Err, context.DeadlineExceeded))
}

// Executor runs a single command to completion.
type Executor interface {
	Execute(ctx context.Context, cmd planner.Command) Status
}

// ExecRunner executes commands on the local host.
type ExecRunner struct {
	Clock clock.Clock
}

// NewExecRunner returns a runner timed by the wall clock.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{Clock: clock.New()}
}

// Execute implements Executor. The context is only consulted before the
// process starts: a started process always runs to completion.
func (r *ExecRunner) Execute(ctx context.Context, c planner.Command) Status {
	logger := ctxlog.FromContext(ctx)
	clk := r.Clock
	if clk == nil {
		clk = clock.New()
	}

	if err := ctx.Err(); err != nil {
		return Status{Outcome: metrics.Outcome{ExitCode: ExitNotStarted, Err: err}}
	}

	cmd := exec.Command(c.Path)
	if len(c.Args) > 0 {
		cmd.Args = append([]string(nil), c.Args...)
	} else {
		cmd.Args = []string{c.Path}
	}
	cmd.Env = c.Env
	cmd.Dir = c.Dir
	out := &tailBuffer{limit: maxOutput}
	cmd.Stdout = out
	cmd.Stderr = out

	start := clk.Now()
	err := cmd.Run()
	wall := clk.Since(start)

	status := Status{Output: out.Bytes()}
	status.Wall = wall
	if cmd.ProcessState != nil {
		status.Usage = usageOf(cmd.ProcessState)
	}

	if err == nil {
		status.Succeeded = true
		return status
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		status.ExitCode = exitErr.ExitCode()
		if status.ExitCode < 0 {
			// Terminated by a signal.
			status.ExitCode = 128
			status.Err = err
		}
		return status
	}

	logger.Debug("Command could not be started.", "path", c.Path, "error", err)
	status.ExitCode = 1
	var execErr *exec.Error
	if errors.As(err, &execErr) || errors.Is(err, exec.ErrNotFound) || cmd.Process == nil {
		status.ExitCode = ExitNotStarted
	}
	status.Err = err
	return status
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	b.buf.Write(p)
	if over := b.buf.Len() - b.limit; over > 0 {
		b.buf.Next(over)
	}
	return n, nil
}

func (b *tailBuffer) Bytes() []byte {
	return append([]byte(nil), b.buf.Bytes()...)
}
