package build

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"git.home.luguber.info/inful/simbuild/internal/buildlog"
	"git.home.luguber.info/inful/simbuild/internal/container"
	foundation "git.home.luguber.info/inful/simbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/simbuild/internal/logfields"
	"git.home.luguber.info/inful/simbuild/internal/metrics"
	"git.home.luguber.info/inful/simbuild/internal/observability"
	"git.home.luguber.info/inful/simbuild/internal/project"
	"git.home.luguber.info/inful/simbuild/internal/retry"
	"git.home.luguber.info/inful/simbuild/internal/runner"
	"git.home.luguber.info/inful/simbuild/internal/shell"
)

// Config is fixed for the lifetime of an orchestrator.
type Config struct {
	// RepositoryURL is cloned into ProjectRoot on first setup.
	RepositoryURL string
	// ProjectRoot is the project directory inside the shared volume.
	ProjectRoot string
	// CloneRetry governs retries of the first-time clone. The zero value
	// means retry.DefaultPolicy.
	CloneRetry retry.Policy
}

func (c Config) src() string      { return path.Join(c.ProjectRoot, "src") }
func (c Config) buildDir() string { return path.Join(c.ProjectRoot, "build") }

// PhaseHook is told about every phase transition.
type PhaseHook func(Phase)

// Orchestrator drives the Setup, Build and Extract phases.
type Orchestrator struct {
	gw       *container.Gateway
	registry *runner.Registry
	cfg      Config
	recorder metrics.Recorder
	logger   *slog.Logger
	hook     PhaseHook

	mu    sync.Mutex
	last  *project.Info
	phase Phase
}

// NewOrchestrator creates an orchestrator. registry must be the one the
// gateway's runner consults so Abort reaches in-flight commands.
func NewOrchestrator(gw *container.Gateway, registry *runner.Registry, cfg Config) *Orchestrator {
	if cfg.ProjectRoot == "" {
		cfg.ProjectRoot = "/project"
	}
	if cfg.CloneRetry.Initial <= 0 {
		cfg.CloneRetry = retry.DefaultPolicy()
	}
	return &Orchestrator{
		gw:       gw,
		registry: registry,
		cfg:      cfg,
		recorder: metrics.NoopRecorder{},
		logger:   slog.Default(),
		phase:    PhaseIdle,
	}
}

// WithRecorder sets the metrics recorder.
func (o *Orchestrator) WithRecorder(r metrics.Recorder) *Orchestrator {
	if r != nil {
		o.recorder = r
	}
	return o
}

// WithLogger sets the structured logger used for diagnostics.
func (o *Orchestrator) WithLogger(l *slog.Logger) *Orchestrator {
	if l != nil {
		o.logger = l
	}
	return o
}

// WithPhaseHook registers a callback for phase transitions.
func (o *Orchestrator) WithPhaseHook(h PhaseHook) *Orchestrator {
	o.mu.Lock()
	o.hook = h
	o.mu.Unlock()
	return o
}

// Phase returns the current pipeline state.
func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

func (o *Orchestrator) enter(p Phase) {
	o.mu.Lock()
	o.phase = p
	hook := o.hook
	o.mu.Unlock()
	if hook != nil {
		hook(p)
	}
}

// LastInfo returns the project info of the last successful setup, or nil.
func (o *Orchestrator) LastInfo() *project.Info {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last
}

func (o *Orchestrator) setLast(info *project.Info) {
	o.mu.Lock()
	o.last = info
	o.mu.Unlock()
}

// Invalidate forgets the last setup so the next one is full.
func (o *Orchestrator) Invalidate() {
	o.setLast(nil)
}

// Run executes Setup, Build and Extract in order.
func (o *Orchestrator) Run(ctx context.Context, req Request, sink buildlog.Sink) (*Result, error) {
	if sink == nil {
		sink = buildlog.Discard
	}
	start := time.Now()
	result := &Result{StartTime: start, OutputPath: req.OutputDir}

	finish := func(err error) (*Result, error) {
		result.EndTime = time.Now()
		result.Duration = result.EndTime.Sub(start)
		switch {
		case err == nil:
			result.Status = StatusSuccess
			o.enter(PhaseDone)
			o.recorder.IncBuildOutcome(metrics.BuildOutcomeSuccess)
		case foundation.IsAborted(err):
			result.Status = StatusCanceled
			o.recorder.IncBuildOutcome(metrics.BuildOutcomeCanceled)
		default:
			result.Status = StatusFailed
			o.recorder.IncBuildOutcome(metrics.BuildOutcomeFailed)
		}
		o.recorder.ObserveBuildDuration(result.Duration)
		observability.Logger(ctx, o.logger).Info("Build pipeline finished",
			slog.String("status", string(result.Status)),
			logfields.Duration(result.Duration))
		return result, err
	}

	if req.Project == nil {
		return finish(foundation.ValidationError("project info required").Build())
	}

	sink("=== Step 1/3: Setup ===", buildlog.Info)
	setup, err := o.Setup(ctx, req.Project, sink)
	result.Setup = setup
	if err != nil {
		return finish(err)
	}

	sink("=== Step 2/3: Build ===", buildlog.Info)
	if err := o.Build(ctx, req.Project, setup.SkipReconfigure, sink); err != nil {
		return finish(err)
	}

	sink("=== Step 3/3: Extract ===", buildlog.Info)
	artifacts, err := o.Extract(ctx, req.OutputDir, sink)
	result.Artifacts = artifacts
	return finish(err)
}

// runPhase checks the abort flag, runs fn and records the phase outcome.
// Any failure observed after an abort is reported as a cancellation.
func (o *Orchestrator) runPhase(ctx context.Context, p Phase, fn func(ctx context.Context) error) error {
	if o.registry.Aborted() || ctx.Err() != nil {
		o.recorder.IncPhaseResult(string(p), metrics.ResultCanceled)
		o.enter(PhaseAborted)
		return foundation.Aborted(string(p)).Build()
	}

	o.enter(p)
	ctx = observability.WithPhase(ctx, string(p))
	start := time.Now()
	err := fn(ctx)
	o.recorder.ObservePhaseDuration(string(p), time.Since(start))

	switch {
	case err == nil:
		o.recorder.IncPhaseResult(string(p), metrics.ResultSuccess)
	case foundation.IsAborted(err) || o.registry.Aborted() || ctx.Err() != nil:
		o.recorder.IncPhaseResult(string(p), metrics.ResultCanceled)
		o.enter(PhaseAborted)
		if !foundation.IsAborted(err) {
			err = foundation.Aborted(string(p)).WithCause(err).Build()
		}
	default:
		o.recorder.IncPhaseResult(string(p), metrics.ResultFatal)
		o.enter(PhaseFailed)
		observability.Logger(ctx, o.logger).Error("Phase failed", logfields.Error(err))
	}
	return err
}

// Abort sets the abort flag, terminates tracked processes and stops the
// current temporary container. In-flight Run calls return ErrAborted.
func (o *Orchestrator) Abort(ctx context.Context) {
	killed := o.registry.Abort()
	o.logger.Debug("Abort requested", logfields.Count(killed))
	o.gw.StopCurrent(ctx)
}

// ResetAbort clears the abort flag before a new attempt.
func (o *Orchestrator) ResetAbort() {
	o.registry.Reset()
	o.enter(PhaseIdle)
}

// Aborted reports whether an abort is pending.
func (o *Orchestrator) Aborted() bool {
	return o.registry.Aborted()
}

// StopRunningContainers removes compose containers and the tracked temporary
// container. Errors are swallowed.
func (o *Orchestrator) StopRunningContainers(ctx context.Context, sink buildlog.Sink) {
	gw := o.gw.WithSink(sink)
	gw.Down(ctx)
	gw.StopCurrent(ctx)
}

// CleanBuild removes the build directory from the volume.
func (o *Orchestrator) CleanBuild(ctx context.Context, sink buildlog.Sink) error {
	if sink == nil {
		sink = buildlog.Discard
	}
	start := time.Now()
	sink("=== Clean Build Directory ===", buildlog.Info)
	sink("Removing build directory...", buildlog.Info)

	res := o.gw.WithSink(sink).RunOnce(ctx, "rm", "-rf", o.cfg.buildDir())
	if !res.Success {
		return resultError(res, "Clean build failed")
	}
	o.Invalidate()
	sink(fmt.Sprintf("Build directory cleaned in %s!", seconds(start)), buildlog.Success)
	return nil
}

// CleanAll removes everything below the project root, including the cloned
// scaffold.
func (o *Orchestrator) CleanAll(ctx context.Context, sink buildlog.Sink) error {
	if sink == nil {
		sink = buildlog.Discard
	}
	start := time.Now()
	sink("=== Clean All ===", buildlog.Info)
	sink(fmt.Sprintf("Removing all contents from %s directory...", o.cfg.ProjectRoot), buildlog.Info)

	root := shell.Quote(o.cfg.ProjectRoot)
	script := shell.New().Raw("rm -rf " + root + "/* " + root + "/.[!.]*")
	res := o.gw.WithSink(sink).RunOnce(ctx, script.Argv()...)
	if !res.Success {
		return resultError(res, "Clean all failed")
	}
	o.Invalidate()
	sink(fmt.Sprintf("Project directory cleaned in %s. Next build will start from scratch.", seconds(start)), buildlog.Success)
	return nil
}

// resultError converts a failed command into a build error. Aborted results
// keep their cancellation classification.
func resultError(res runner.Result, msg string) error {
	if res.Aborted || foundation.IsAborted(res.Err) {
		return res.Err
	}
	return foundation.BuildError(msg).WithCause(res.Err).Build()
}

// stepError wraps err unless it already reports a cancellation.
func stepError(err error, msg string) error {
	if foundation.IsAborted(err) {
		return err
	}
	return foundation.BuildError(msg).WithCause(err).Build()
}

func seconds(start time.Time) string {
	return fmt.Sprintf("%.1fs", time.Since(start).Seconds())
}
