package runner

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"git.home.luguber.info/inful/simbuild/internal/buildlog"
	foundation "git.home.luguber.info/inful/simbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/simbuild/internal/logfields"
)

// Exec runs commands as real OS processes.
type Exec struct {
	registry *Registry
	logger   *slog.Logger
}

// NewExec creates a runner that tracks its processes in registry.
func NewExec(registry *Registry, logger *slog.Logger) *Exec {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exec{registry: registry, logger: logger}
}

// Registry returns the registry processes are tracked in.
func (e *Exec) Registry() *Registry { return e.registry }

// Run implements Runner.
func (e *Exec) Run(ctx context.Context, cmd Command, sink Sink) Result {
	if sink == nil {
		sink = buildlog.Discard
	}
	return e.run(ctx, cmd, sink, false)
}

// RunSilent implements Runner.
func (e *Exec) RunSilent(ctx context.Context, cmd Command) Result {
	return e.run(ctx, cmd, buildlog.Discard, true)
}

func (e *Exec) run(ctx context.Context, cmd Command, sink Sink, silent bool) Result {
	if e.abortRequested(ctx, cmd) {
		return abortedResult(cmd, "", "")
	}
	if !silent {
		sink("Running: "+cmd.String(), buildlog.Info)
	}

	c := exec.Command(cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}
	isolate(c)

	stdout, err := c.StdoutPipe()
	if err != nil {
		return spawnFailure(cmd, err)
	}
	stderr, err := c.StderrPipe()
	if err != nil {
		return spawnFailure(cmd, err)
	}

	start := time.Now()
	if err := c.Start(); err != nil {
		return spawnFailure(cmd, err)
	}
	e.registry.track(c.Process)
	defer e.registry.untrack(c.Process)

	// a canceled context kills the tree the same way an abort does
	stop := context.AfterFunc(ctx, func() {
		_ = e.registry.terminator.TerminateTree(c.Process.Pid)
	})
	defer stop()

	// both pumps share the caller's sink
	lines := buildlog.Serialize(sink)
	var outBuf, errBuf strings.Builder
	var g errgroup.Group
	g.Go(func() error {
		return pump(stdout, &outBuf, func(line string) {
			if !silent && !cmd.QuietStdout {
				lines(line, buildlog.Info)
			}
		})
	})
	g.Go(func() error {
		return pump(stderr, &errBuf, func(line string) {
			if !silent && !IsNoise(line) {
				lines(line, buildlog.Warning)
			}
		})
	})
	pumpErr := g.Wait()
	waitErr := c.Wait()

	e.logger.Debug("Command finished",
		logfields.Command(cmd.String()),
		logfields.PID(c.Process.Pid),
		logfields.ExitCode(c.ProcessState.ExitCode()),
		logfields.Duration(time.Since(start)))

	if e.abortRequested(ctx, cmd) {
		return abortedResult(cmd, outBuf.String(), errBuf.String())
	}

	res := Result{
		Stdout:   outBuf.String(),
		Stderr:   errBuf.String(),
		ExitCode: c.ProcessState.ExitCode(),
	}
	if waitErr != nil {
		res.Err = foundation.WrapError(waitErr, foundation.CategoryRuntime, "command failed").
			WithContext(logfields.KeyCommand, cmd.String()).
			WithContext(logfields.KeyExitCode, res.ExitCode).
			Build()
		return res
	}
	if pumpErr != nil {
		res.Err = foundation.WrapError(pumpErr, foundation.CategoryRuntime, "failed to read command output").
			WithContext(logfields.KeyCommand, cmd.String()).
			Build()
		return res
	}
	res.Success = true
	return res
}

func (e *Exec) abortRequested(ctx context.Context, cmd Command) bool {
	if cmd.IgnoreAbort {
		return false
	}
	return e.registry.Aborted() || ctx.Err() != nil
}

// pump copies r into buf and calls line for each non-blank trimmed line.
// It keeps draining after a callback so the child never blocks on a full pipe.
func pump(r io.Reader, buf *strings.Builder, line func(string)) error {
	br := bufio.NewReader(r)
	for {
		s, err := br.ReadString('\n')
		buf.WriteString(s)
		if t := strings.TrimSpace(s); t != "" {
			line(t)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				return nil
			}
			return err
		}
	}
}

func abortedResult(cmd Command, stdout, stderr string) Result {
	return Result{
		Stdout:   stdout,
		Stderr:   stderr,
		ExitCode: -1,
		Aborted:  true,
		Err: foundation.WrapError(foundation.ErrAborted, foundation.CategoryCanceled, "Operation aborted by user").
			Warning().
			WithContext(logfields.KeyCommand, cmd.String()).
			Build(),
	}
}

func spawnFailure(cmd Command, err error) Result {
	return Result{
		ExitCode: -1,
		Err: foundation.WrapError(err, foundation.CategoryEnvironment, "failed to start command").
			UserAction().
			WithContext(logfields.KeyCommand, cmd.String()).
			Build(),
	}
}
