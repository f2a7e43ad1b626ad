package simulator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/simbuild/internal/build"
	"git.home.luguber.info/inful/simbuild/internal/buildlog"
	"git.home.luguber.info/inful/simbuild/internal/container"
	foundation "git.home.luguber.info/inful/simbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/simbuild/internal/logfields"
	"git.home.luguber.info/inful/simbuild/internal/metrics"
	"git.home.luguber.info/inful/simbuild/internal/notify"
	"git.home.luguber.info/inful/simbuild/internal/observability"
	"git.home.luguber.info/inful/simbuild/internal/preview"
	"git.home.luguber.info/inful/simbuild/internal/project"
	"git.home.luguber.info/inful/simbuild/internal/state"
	"git.home.luguber.info/inful/simbuild/internal/tooling"
)

// RevisionFile is written next to the artifacts and records the project
// revision they were built from.
const RevisionFile = ".simbuild-revision"

const stopTimeout = 15 * time.Second

// Config holds the manager settings.
type Config struct {
	// OutputDirName is the artifact directory created next to the project file.
	OutputDirName string
	// ToolingDir must hold the compose setup. Empty skips the resource check.
	ToolingDir string
}

// Deps are the collaborators of a Manager. Orchestrator, Gateway, States and
// Preview are required.
type Deps struct {
	Orchestrator *build.Orchestrator
	Gateway      *container.Gateway
	States       *state.Registry
	Preview      *preview.Server
	// Fingerprint returns the build tooling fingerprint folded into every
	// project info. Nil leaves it empty.
	Fingerprint func(ctx context.Context) (string, error)
	Events      notify.Publisher
	Recorder    metrics.Recorder
	Logger      *slog.Logger
}

// Manager coordinates builds and previews for every open project.
type Manager struct {
	cfg         Config
	orch        *build.Orchestrator
	gw          *container.Gateway
	states      *state.Registry
	preview     *preview.Server
	fingerprint func(ctx context.Context) (string, error)
	events      notify.Publisher
	recorder    metrics.Recorder
	logger      *slog.Logger

	// volume serializes every command sequence touching the shared volume.
	volume sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a manager.
func NewManager(cfg Config, deps Deps) *Manager {
	if cfg.OutputDirName == "" {
		cfg.OutputDirName = ".docker-build-output"
	}
	m := &Manager{
		cfg:         cfg,
		orch:        deps.Orchestrator,
		gw:          deps.Gateway,
		states:      deps.States,
		preview:     deps.Preview,
		fingerprint: deps.Fingerprint,
		events:      deps.Events,
		recorder:    deps.Recorder,
		logger:      deps.Logger,
	}
	if m.events == nil {
		m.events = notify.Nop{}
	}
	if m.recorder == nil {
		m.recorder = metrics.NoopRecorder{}
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// States returns the state registry.
func (m *Manager) States() *state.Registry { return m.states }

// OutputDir returns where the artifacts of p are extracted.
func (m *Manager) OutputDir(p project.Source) string {
	return filepath.Join(filepath.Dir(p.Path()), m.cfg.OutputDirName)
}

// sink writes to the project log and the process log.
func (m *Manager) sink(ctx context.Context, ps *state.ProjectState) buildlog.Sink {
	return buildlog.Tee(ps.Sink(), buildlog.Slog(observability.Logger(ctx, m.logger)))
}

func (m *Manager) publish(ctx context.Context, ev notify.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.BuildID == "" {
		ev.BuildID = observability.GetContext(ctx).BuildID
	}
	if err := m.events.Publish(ctx, ev); err != nil {
		observability.Logger(ctx, m.logger).Warn("Event not published",
			slog.String("type", ev.Type), logfields.Error(err))
	}
}

// StartFullSimulator builds p if needed and serves the result. It blocks
// until the preview is running or the attempt ended. Outputs from an earlier
// build of the same revision are served without building unless force is set.
// A request for another project while a build or a simulator session is
// active is rejected with a conflict error.
func (m *Manager) StartFullSimulator(ctx context.Context, p project.Source, force bool) error {
	path := p.Path()
	ctx = observability.WithProject(ctx, path)
	ps := m.states.ProjectState(path)
	sink := m.sink(ctx, ps)

	if active, ok := m.states.ActiveProject(); ok && active != path {
		msg := fmt.Sprintf("Full simulator is active for another project: %s. Stop it first.", state.ProjectName(active))
		sink(msg, buildlog.Warning)
		return foundation.ConflictError(msg).WithContext("active", active).Build()
	}
	if m.states.IsBuildingProject(path) {
		sink("Build already in progress for this project.", buildlog.Info)
		return nil
	}
	if m.states.IsBuilding() {
		msg := fmt.Sprintf("Build already in progress for another project: %s. Please wait for it to complete.",
			m.states.BuildingProjectName())
		sink(msg, buildlog.Warning)
		return foundation.ConflictError(msg).Build()
	}

	ps.SetActive(true)
	outputDir := m.OutputDir(p)
	revision, err := p.Revision()
	if err != nil {
		sink("Could not compute project revision: "+foundation.Message(err), buildlog.Warning)
	}
	if ps.LastBuildRevision() == "" {
		if rev := readRevision(outputDir); rev != "" {
			ps.SetLastBuildRevision(rev)
		}
	}

	if !force && build.OutputsPresent(outputDir) && !ps.HasProjectChangedSinceBuild(revision) {
		sink("=== Starting Full Simulator ===", buildlog.Info)
		if err := m.startPreview(ctx, ps, outputDir, revision, sink); err != nil {
			return err
		}
		m.recorder.IncBuildOutcome(metrics.BuildOutcomeSkipped)
		sink("=== Full Simulator Ready ===", buildlog.Success)
		return nil
	}

	return m.runBuild(ctx, p, ps, outputDir, revision, sink, true)
}

// BuildFullSimulator runs the pipeline for p without serving the result.
// Outputs of the current revision are kept unless force is set.
func (m *Manager) BuildFullSimulator(ctx context.Context, p project.Source, force bool) error {
	path := p.Path()
	ctx = observability.WithProject(ctx, path)
	ps := m.states.ProjectState(path)
	sink := m.sink(ctx, ps)

	if m.states.IsBuilding() {
		msg := fmt.Sprintf("Build already in progress for another project: %s. Please wait for it to complete.",
			m.states.BuildingProjectName())
		sink(msg, buildlog.Warning)
		return foundation.ConflictError(msg).Build()
	}

	outputDir := m.OutputDir(p)
	revision, err := p.Revision()
	if err != nil {
		sink("Could not compute project revision: "+foundation.Message(err), buildlog.Warning)
	}
	if ps.LastBuildRevision() == "" {
		if rev := readRevision(outputDir); rev != "" {
			ps.SetLastBuildRevision(rev)
		}
	}
	if !force && build.OutputsPresent(outputDir) && !ps.HasProjectChangedSinceBuild(revision) {
		m.recorder.IncBuildOutcome(metrics.BuildOutcomeSkipped)
		sink("Build outputs are up to date: "+outputDir, buildlog.Success)
		return nil
	}
	return m.runBuild(ctx, p, ps, outputDir, revision, sink, false)
}

// RebuildFullSimulator stops the session of p and starts it again with a
// forced build.
func (m *Manager) RebuildFullSimulator(ctx context.Context, p project.Source) error {
	m.StopFullSimulator(ctx, p.Path())
	return m.StartFullSimulator(ctx, p, true)
}

// runBuild holds the build gate for one attempt.
func (m *Manager) runBuild(ctx context.Context, p project.Source, ps *state.ProjectState, outputDir, revision string, sink buildlog.Sink, serve bool) error {
	path := p.Path()
	// StopFullSimulator must see the gate, a cleared abort flag and the
	// cancel handle together, so all three change under m.mu.
	m.mu.Lock()
	if !m.states.StartBuild(path) {
		m.mu.Unlock()
		if serve {
			ps.SetActive(false)
		}
		msg := fmt.Sprintf("Build already in progress for another project: %s. Please wait for it to complete.",
			m.states.BuildingProjectName())
		sink(msg, buildlog.Warning)
		return foundation.ConflictError(msg).Build()
	}
	m.orch.ResetAbort()
	buildCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel, m.done = cancel, done
	m.mu.Unlock()
	defer func() {
		cancel()
		m.states.EndBuild()
		m.mu.Lock()
		m.cancel, m.done = nil, nil
		m.mu.Unlock()
		close(done)
	}()

	m.volume.Lock()
	defer m.volume.Unlock()

	buildID := uuid.NewString()
	buildCtx = observability.WithBuildID(buildCtx, buildID)
	log := observability.Logger(buildCtx, m.logger)
	m.recorder.SetBuildInProgress(true)
	defer m.recorder.SetBuildInProgress(false)

	start := time.Now()
	ps.SetBuilding("Initializing...")
	sink("=== Starting Full Simulator Build ===", buildlog.Info)
	m.publish(buildCtx, notify.Event{Type: notify.TypeBuildStarted, Project: path, Revision: revision})
	log.Info("Build started", logfields.Path(outputDir))

	res, err := m.pipeline(buildCtx, p, ps, outputDir, sink)
	elapsed := time.Since(start)
	ev := notify.Event{Project: path, Revision: revision, DurationMS: elapsed.Milliseconds()}
	if res != nil {
		ev.SetupMode = string(res.Setup.Mode)
	}

	switch {
	case err == nil:
		ps.SetLastBuildRevision(revision)
		writeRevision(outputDir, revision, log)
		m.states.MarkBuildComplete(path)
		ev.Type = notify.TypeBuildSucceeded
		m.publish(buildCtx, ev)
		if !serve {
			ps.SetIdle()
			sink(fmt.Sprintf("=== Build Complete (%.1fs) ===", elapsed.Seconds()), buildlog.Success)
			return nil
		}
		if err := m.startPreview(buildCtx, ps, outputDir, revision, sink); err != nil {
			return err
		}
		sink(fmt.Sprintf("=== Full Simulator Ready (%.1fs) ===", elapsed.Seconds()), buildlog.Success)
		return nil

	case foundation.IsAborted(err) || m.states.IsCancelled():
		sink("Build canceled.", buildlog.Warning)
		ev.Type = notify.TypeBuildCanceled
		m.publish(buildCtx, ev)
		if !foundation.IsAborted(err) {
			err = foundation.Aborted("build").WithCause(err).Build()
		}
		return err

	default:
		msg := foundation.Message(err)
		sink("Error: "+msg, buildlog.Error)
		ps.SetError(msg)
		ev.Type = notify.TypeBuildFailed
		ev.Error = msg
		m.publish(buildCtx, ev)
		log.Error("Build failed", logfields.Error(err), logfields.Duration(elapsed))
		return err
	}
}

// pipeline runs the checks, the optional clean and the three phases.
func (m *Manager) pipeline(ctx context.Context, p project.Source, ps *state.ProjectState, outputDir string, sink buildlog.Sink) (*build.Result, error) {
	m.orch.WithPhaseHook(func(ph build.Phase) {
		if label := phaseLabel(ph); label != "" {
			ps.SetBuilding(label)
		}
	})
	defer m.orch.WithPhaseHook(nil)

	if m.cfg.ToolingDir != "" {
		ps.SetBuilding("Checking build resources...")
		if err := tooling.CheckResources(m.cfg.ToolingDir); err != nil {
			return nil, err
		}
	}

	ps.SetBuilding("Checking Docker...")
	if err := m.gw.WithSink(sink).Preflight(ctx); err != nil {
		return nil, err
	}
	if m.states.IsCancelled() || m.orch.Aborted() {
		return nil, foundation.Aborted("preflight").Build()
	}

	ps.SetBuilding("Reading project configuration...")
	info, err := p.Load(sink)
	if err != nil {
		return nil, err
	}
	if m.fingerprint != nil {
		fp, err := m.fingerprint(ctx)
		if err != nil {
			sink("Could not fingerprint build tooling: "+err.Error(), buildlog.Warning)
		}
		info.ToolingFingerprint = fp
	}

	if ps.NeedsCleanBuild() {
		ps.SetBuilding("Cleaning build cache...")
		sink("Another project has built since last build - performing clean build first...", buildlog.Info)
		if err := m.orch.CleanBuild(ctx, sink); err != nil {
			return nil, err
		}
	}

	return m.orch.Run(ctx, build.Request{Project: info, OutputDir: outputDir}, sink)
}

func phaseLabel(p build.Phase) string {
	switch p {
	case build.PhaseSetup:
		return "Setting up Docker environment..."
	case build.PhaseBuild:
		return "Building with Emscripten..."
	case build.PhaseExtract:
		return "Extracting build files..."
	}
	return ""
}

// startPreview serves outputDir and records the URL. A server already
// serving outputDir is kept and told to reload so open pages follow along.
func (m *Manager) startPreview(ctx context.Context, ps *state.ProjectState, outputDir, revision string, sink buildlog.Sink) error {
	abs, err := filepath.Abs(outputDir)
	if err != nil {
		abs = outputDir
	}

	url := ""
	if m.preview.IsRunning() && m.preview.Root() == abs {
		url = m.preview.URL()
		m.preview.Reload(revision)
		sink("Preview server reloaded at "+url, buildlog.Info)
	} else {
		sink("Starting preview server...", buildlog.Info)
		url, err = m.preview.Start(ctx, outputDir)
		if err != nil {
			msg := "Error starting preview server: " + foundation.Message(err)
			sink(msg, buildlog.Error)
			ps.SetError(msg)
			return err
		}
		sink("Preview server running at "+url, buildlog.Success)
		ps.ClearPreviewLogs()
	}

	m.preview.SetConsoleSink(func(msg preview.ConsoleMessage) {
		ps.AddPreviewLog(state.PreviewLogEntry{
			Type:      msg.Type,
			Level:     msg.Level,
			Message:   msg.Message,
			Timestamp: msg.Timestamp,
		})
	})
	ps.SetRunning(url)
	m.publish(ctx, notify.Event{Type: notify.TypePreviewStarted, Project: ps.Path(), PreviewURL: url, Revision: revision})
	return nil
}

func (m *Manager) stopPreview(ctx context.Context, path string, sink buildlog.Sink) {
	if !m.preview.IsRunning() {
		return
	}
	sink("Stopping preview server...", buildlog.Info)
	m.preview.SetConsoleSink(nil)
	if err := m.preview.Stop(ctx); err != nil {
		sink("Preview server did not stop cleanly: "+foundation.Message(err), buildlog.Warning)
	}
	sink("Preview server stopped", buildlog.Info)
	m.publish(ctx, notify.Event{Type: notify.TypePreviewStopped, Project: path})
}

// StopFullSimulator aborts a running build of path, waits for it to unwind,
// stops the preview and releases the simulator.
func (m *Manager) StopFullSimulator(ctx context.Context, path string) {
	ctx = observability.WithProject(ctx, path)
	ps := m.states.ProjectState(path)
	sink := m.sink(ctx, ps)
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
	defer cancel()

	m.mu.Lock()
	building := m.states.IsBuildingProject(path)
	buildCancel, done := m.cancel, m.done
	m.mu.Unlock()
	if building {
		sink("Stopping build...", buildlog.Warning)
		m.states.CancelBuild()
		m.orch.Abort(cleanupCtx)
		if buildCancel != nil {
			buildCancel()
		}
		m.orch.StopRunningContainers(cleanupCtx, sink)
		if done != nil {
			select {
			case <-done:
			case <-cleanupCtx.Done():
				sink("Build did not stop in time", buildlog.Warning)
			}
		}
	}

	if ps.Active() {
		m.stopPreview(cleanupCtx, path, sink)
	}
	ps.SetActive(false)
	ps.SetIdle()
}

// LeaveFullSimulator stops the preview and releases the simulator without
// touching a build that is still running.
func (m *Manager) LeaveFullSimulator(ctx context.Context, path string) {
	ctx = observability.WithProject(ctx, path)
	ps := m.states.ProjectState(path)
	if ps.Active() {
		m.stopPreview(ctx, path, m.sink(ctx, ps))
	}
	ps.SetActive(false)
	if !m.states.IsBuildingProject(path) {
		ps.SetIdle()
	}
}

// ResetSimulatorState forgets everything tracked for path.
func (m *Manager) ResetSimulatorState(path string) {
	m.states.RemoveProjectState(path)
}

// CleanBuildCache removes the build directory from the shared volume.
func (m *Manager) CleanBuildCache(ctx context.Context, path string) error {
	return m.clean(ctx, path, "Clean failed: ", m.orch.CleanBuild)
}

// CleanAll removes the whole project tree from the shared volume.
func (m *Manager) CleanAll(ctx context.Context, path string) error {
	return m.clean(ctx, path, "Clean all failed: ", m.orch.CleanAll)
}

func (m *Manager) clean(ctx context.Context, path, failPrefix string, fn func(context.Context, buildlog.Sink) error) error {
	ctx = observability.WithProject(ctx, path)
	ps := m.states.ProjectState(path)
	sink := m.sink(ctx, ps)

	if m.states.IsBuilding() || !m.volume.TryLock() {
		msg := fmt.Sprintf("Cannot clean: build in progress for %s. Please wait for it to complete.",
			m.states.BuildingProjectName())
		sink(msg, buildlog.Warning)
		return foundation.ConflictError(msg).Build()
	}
	defer m.volume.Unlock()

	m.orch.ResetAbort()
	m.orch.StopRunningContainers(ctx, sink)
	if err := fn(ctx, sink); err != nil {
		sink(failPrefix+foundation.Message(err), buildlog.Error)
		return err
	}
	return nil
}

// Shutdown stops every session. It is meant for process exit.
func (m *Manager) Shutdown(ctx context.Context) {
	if path := m.states.CurrentBuildingProjectPath(); path != "" {
		m.StopFullSimulator(ctx, path)
	}
	if path, ok := m.states.ActiveProject(); ok {
		m.StopFullSimulator(ctx, path)
	}
	if m.preview.IsRunning() {
		_ = m.preview.Stop(ctx)
	}
}

func readRevision(outputDir string) string {
	data, err := os.ReadFile(filepath.Join(outputDir, RevisionFile))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func writeRevision(outputDir, revision string, log *slog.Logger) {
	if revision == "" {
		return
	}
	err := os.WriteFile(filepath.Join(outputDir, RevisionFile), []byte(revision+"\n"), 0o600)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("Could not record build revision", logfields.Path(outputDir), logfields.Error(err))
	}
}
