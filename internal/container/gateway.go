// Package container drives the docker CLI: compose services, temporary
// containers, exec and copy operations against the shared build volume.
package container

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"git.home.luguber.info/inful/simbuild/internal/buildlog"
	foundation "git.home.luguber.info/inful/simbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/simbuild/internal/logfields"
	"git.home.luguber.info/inful/simbuild/internal/runner"
	"git.home.luguber.info/inful/simbuild/internal/shell"
)

const cleanupTimeout = 15 * time.Second

// Options configures a Gateway.
type Options struct {
	Docker     string // docker binary
	ToolingDir string // working directory holding docker-compose.yml
	Service    string // compose service name
	Volume     string // exported to compose as PROJECT_VOLUME
}

// Gateway issues docker commands through a runner. Every command runs in the
// tooling directory with PROJECT_VOLUME set.
type Gateway struct {
	runner   runner.Runner
	registry *runner.Registry
	opts     Options
	sink     buildlog.Sink
	logger   *slog.Logger
}

// New creates a gateway. The registry receives the id of every temporary
// container so an abort can stop it.
func New(r runner.Runner, registry *runner.Registry, opts Options, logger *slog.Logger) *Gateway {
	if opts.Docker == "" {
		opts.Docker = "docker"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		runner:   r,
		registry: registry,
		opts:     opts,
		sink:     buildlog.Discard,
		logger:   logger,
	}
}

// WithSink returns a gateway that streams command output to sink.
func (g *Gateway) WithSink(sink buildlog.Sink) *Gateway {
	if sink == nil {
		sink = buildlog.Discard
	}
	c := *g
	c.sink = sink
	return &c
}

// Options returns the gateway configuration.
func (g *Gateway) Options() Options { return g.opts }

func (g *Gateway) command(args ...string) runner.Command {
	return runner.Command{
		Name: g.opts.Docker,
		Args: args,
		Dir:  g.opts.ToolingDir,
		Env:  []string{"PROJECT_VOLUME=" + g.opts.Volume},
	}
}

func (g *Gateway) run(ctx context.Context, cmd runner.Command) runner.Result {
	return g.runner.Run(ctx, cmd, g.sink)
}

// Preflight verifies that docker is installed and the daemon answers.
func (g *Gateway) Preflight(ctx context.Context) error {
	g.sink("Checking Docker status...", buildlog.Info)

	res := g.runner.RunSilent(ctx, runner.Command{Name: g.opts.Docker, Args: []string{"--version"}})
	if !res.Success {
		return foundation.EnvironmentError("Docker is not installed. Please install Docker Desktop.").
			WithCause(res.Err).
			Build()
	}
	res = g.runner.RunSilent(ctx, runner.Command{Name: g.opts.Docker, Args: []string{"ps"}})
	if !res.Success {
		return foundation.EnvironmentError("Docker is not running. Please start Docker Desktop.").
			WithCause(res.Err).
			WithContext("stderr", strings.TrimSpace(res.Stderr)).
			Build()
	}

	g.sink("Docker is ready.", buildlog.Success)
	return nil
}

// BuildImage runs compose build. Its stdout is progress noise and is not logged.
func (g *Gateway) BuildImage(ctx context.Context) error {
	cmd := g.command("compose", "build")
	cmd.QuietStdout = true
	res := g.run(ctx, cmd)
	if !res.Success {
		return commandError(res, foundation.CategoryContainer, "Failed to build Docker image")
	}
	return nil
}

// RunOnce runs args in a throwaway service container (compose run --rm).
func (g *Gateway) RunOnce(ctx context.Context, args ...string) runner.Result {
	return g.run(ctx, g.command(append([]string{"compose", "run", "--rm", g.opts.Service}, args...)...))
}

// RunOnceSilent is RunOnce without logging.
func (g *Gateway) RunOnceSilent(ctx context.Context, args ...string) runner.Result {
	return g.runner.RunSilent(ctx, g.command(append([]string{"compose", "run", "--rm", g.opts.Service}, args...)...))
}

// Create starts a detached service container that idles until stopped and
// records it as the current container.
func (g *Gateway) Create(ctx context.Context) (string, error) {
	res := g.runner.RunSilent(ctx, g.command("compose", "run", "-d", g.opts.Service, "sleep", "infinity"))
	id := strings.TrimSpace(lastLine(res.Stdout))
	if !res.Success || id == "" {
		if foundation.IsAborted(res.Err) {
			return "", res.Err
		}
		if msg := strings.TrimSpace(res.Stderr); msg != "" {
			g.sink("Container creation error: "+msg, buildlog.Error)
		}
		return "", commandError(res, foundation.CategoryContainer, "Failed to create temporary container")
	}
	g.registry.SetContainer(id)
	g.logger.Debug("Temporary container created", logfields.ContainerID(id))
	return id, nil
}

// Exec runs args inside container id.
func (g *Gateway) Exec(ctx context.Context, id string, args ...string) runner.Result {
	return g.run(ctx, g.command(append([]string{"exec", id}, args...)...))
}

// ExecSilent runs args inside container id without logging.
func (g *Gateway) ExecSilent(ctx context.Context, id string, args ...string) runner.Result {
	return g.runner.RunSilent(ctx, g.command(append([]string{"exec", id}, args...)...))
}

// ExecScript runs script with sh -c inside container id.
func (g *Gateway) ExecScript(ctx context.Context, id string, script *shell.Script) runner.Result {
	return g.Exec(ctx, id, script.Argv()...)
}

// ExecScriptSilent is ExecScript without logging.
func (g *Gateway) ExecScriptSilent(ctx context.Context, id string, script *shell.Script) runner.Result {
	return g.ExecSilent(ctx, id, script.Argv()...)
}

// FileExists reports whether path is a regular file inside container id.
func (g *Gateway) FileExists(ctx context.Context, id, path string) bool {
	return g.ExecSilent(ctx, id, "test", "-f", path).Success
}

// CopyIn copies a local file into container id.
func (g *Gateway) CopyIn(ctx context.Context, id, local, containerPath string) error {
	res := g.run(ctx, g.command("cp", local, id+":"+containerPath))
	if !res.Success {
		return commandError(res, foundation.CategoryContainer, "docker cp into container failed").
			WithContext(logfields.KeyPath, local)
	}
	return nil
}

// CopyDirContents copies the contents of localDir (not the directory itself)
// into containerDir.
func (g *Gateway) CopyDirContents(ctx context.Context, id, localDir, containerDir string) error {
	src := strings.TrimRight(localDir, `/\`) + string(filepath.Separator) + "."
	return g.CopyIn(ctx, id, src, strings.TrimRight(containerDir, "/")+"/")
}

// CopyOut copies containerPath out of container id to a local path.
func (g *Gateway) CopyOut(ctx context.Context, id, containerPath, local string) error {
	res := g.run(ctx, g.command("cp", id+":"+containerPath, local))
	if !res.Success {
		return commandError(res, foundation.CategoryContainer, "docker cp out of container failed").
			WithContext(logfields.KeyPath, containerPath)
	}
	return nil
}

// Stop stops container id. It runs even after an abort and never fails.
func (g *Gateway) Stop(ctx context.Context, id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	cmd := g.command("stop", id)
	cmd.IgnoreAbort = true
	res := g.run(ctx, cmd)
	if !res.Success {
		g.logger.Debug("Container stop failed", logfields.ContainerID(id), logfields.Error(res.Err))
	}
	g.registry.ClearContainer(id)
}

// StopCurrent stops the container recorded in the registry, if any.
func (g *Gateway) StopCurrent(ctx context.Context) {
	g.Stop(ctx, g.registry.Container())
}

// Down removes compose containers including orphans left by earlier runs.
func (g *Gateway) Down(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	g.sink("Stopping any running containers...", buildlog.Info)
	cmd := g.command("compose", "down", "--remove-orphans")
	cmd.IgnoreAbort = true
	if res := g.runner.RunSilent(ctx, cmd); res.Success {
		g.sink("Containers stopped successfully", buildlog.Info)
	} else {
		g.logger.Debug("compose down failed", logfields.Error(res.Err))
	}
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// commandError turns a failed result into a classified error. Aborted results
// keep their cancellation classification.
func commandError(res runner.Result, category foundation.ErrorCategory, msg string) *foundation.ClassifiedError {
	if c, ok := foundation.AsClassified(res.Err); ok && c.IsCategory(foundation.CategoryCanceled) {
		return c
	}
	b := foundation.WrapError(res.Err, category, msg)
	if stderr := strings.TrimSpace(res.Stderr); stderr != "" {
		b = b.WithContext("stderr", stderr)
	}
	return b.Build()
}
