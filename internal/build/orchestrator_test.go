package build

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/simbuild/internal/buildlog"
	"git.home.luguber.info/inful/simbuild/internal/container"
	foundation "git.home.luguber.info/inful/simbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/simbuild/internal/manifest"
	"git.home.luguber.info/inful/simbuild/internal/project"
	"git.home.luguber.info/inful/simbuild/internal/retry"
	"git.home.luguber.info/inful/simbuild/internal/runner"
)

type fixture struct {
	orch *Orchestrator
	fake *runner.FakeRunner
	reg  *runner.Registry
	rec  *buildlog.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := runner.NewRegistry(runner.TerminatorFunc(func(int) error { return nil }), nil)
	fake := runner.NewFakeRunner(reg)
	fake.Respond("sleep infinity", runner.Succeeded("c0ffee\n"))
	gw := container.New(fake, reg, container.Options{ToolingDir: "/tools", Service: "emscripten-build", Volume: "vol"}, nil)
	orch := NewOrchestrator(gw, reg, Config{
		RepositoryURL: "https://github.com/eez-open/lvgl-simulator-for-studio-docker-build",
		ProjectRoot:   "/project",
		CloneRetry:    retry.NewPolicy(retry.ModeFixed, time.Millisecond, time.Millisecond, 2),
	})
	return &fixture{orch: orch, fake: fake, reg: reg, rec: &buildlog.Recorder{}}
}

func writeUI(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, body := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o750))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	}
}

func newInfo(t *testing.T, uiDir string) *project.Info {
	t.Helper()
	m, err := manifest.Build(uiDir)
	require.NoError(t, err)
	return &project.Info{
		LVGLVersion:       "9.2.2",
		ProjectDir:        filepath.Dir(uiDir),
		UIDir:             uiDir,
		DestinationFolder: "src/ui",
		DisplayWidth:      800,
		DisplayHeight:     480,
		Manifest:          m,
	}
}

func TestFullSetupFirstTimeClones(t *testing.T) {
	f := newFixture(t)
	f.fake.Fail("test -f /project/build.sh", "")
	ui := t.TempDir()
	writeUI(t, ui, map[string]string{"ui.c": "int x;", "screens/main.c": "int y;"})
	info := newInfo(t, ui)

	res, err := f.orch.Setup(t.Context(), info, f.rec.Sink())

	require.NoError(t, err)
	assert.Equal(t, SetupFull, res.Mode)
	assert.False(t, res.SkipReconfigure)
	assert.Equal(t, 1, f.fake.Count("compose build"))
	assert.Equal(t, 1, f.fake.Count("git clone --recursive https://github.com/eez-open/lvgl-simulator-for-studio-docker-build ."))
	assert.Zero(t, f.fake.Count("git pull"))
	assert.Equal(t, 1, f.fake.Count("docker cp "+ui+string(filepath.Separator)+". c0ffee:/project/src/"))
	assert.Equal(t, 1, f.fake.Count("docker stop c0ffee"))
	assert.Same(t, info, f.orch.LastInfo())
	assert.Contains(t, f.rec.Messages(buildlog.Success), "Repository cloned successfully.")
	assert.Empty(t, f.reg.Container())
}

func TestFullSetupRetriesFailedClone(t *testing.T) {
	f := newFixture(t)
	f.fake.Fail("test -f /project/build.sh", "")
	clones := 0
	f.fake.On("git clone", func(runner.Command) runner.Result {
		clones++
		if clones == 1 {
			return runner.Failed("fatal: unable to access remote")
		}
		return runner.Succeeded("")
	})
	ui := t.TempDir()
	writeUI(t, ui, map[string]string{"ui.c": "int x;"})

	_, err := f.orch.Setup(t.Context(), newInfo(t, ui), f.rec.Sink())

	require.NoError(t, err)
	assert.Equal(t, 2, clones)
	assert.Equal(t, 1, f.fake.Count("find . -mindepth 1 -delete"))
	assert.Contains(t, f.rec.Messages(buildlog.Warning), "Retrying clone (attempt 2 of 3)...")
}

func TestFullSetupCloneGivesUp(t *testing.T) {
	f := newFixture(t)
	f.fake.Fail("test -f /project/build.sh", "")
	f.fake.Fail("git clone", "fatal: repository not found")
	ui := t.TempDir()
	writeUI(t, ui, map[string]string{"ui.c": "int x;"})

	_, err := f.orch.Setup(t.Context(), newInfo(t, ui), f.rec.Sink())

	require.Error(t, err)
	assert.True(t, foundation.HasCategory(err, foundation.CategoryGit))
	assert.Equal(t, 3, f.fake.Count("git clone"))
	assert.Equal(t, 1, f.fake.Count("docker stop c0ffee"))
}

func TestFullSetupPullFailureIsWarning(t *testing.T) {
	f := newFixture(t)
	f.fake.Fail("git pull", "network unreachable")
	ui := t.TempDir()
	writeUI(t, ui, map[string]string{"ui.c": "int x;"})

	_, err := f.orch.Setup(t.Context(), newInfo(t, ui), f.rec.Sink())

	require.NoError(t, err)
	assert.Zero(t, f.fake.Count("git clone"))
	assert.Contains(t, f.rec.Messages(buildlog.Warning), "Git pull failed, continuing with existing code...")
}

func TestFullSetupCopiesFonts(t *testing.T) {
	f := newFixture(t)
	ui := t.TempDir()
	writeUI(t, ui, map[string]string{"ui.c": "int x;"})
	fontFile := filepath.Join(t.TempDir(), "Roboto.ttf")
	require.NoError(t, os.WriteFile(fontFile, []byte("ttf"), 0o600))
	info := newInfo(t, ui)
	info.Fonts = []project.Font{{LocalPath: fontFile, TargetPath: "/fonts/Roboto.ttf", FileName: "Roboto.ttf"}}

	_, err := f.orch.Setup(t.Context(), info, f.rec.Sink())

	require.NoError(t, err)
	assert.Equal(t, 1, f.fake.Count("mkdir -p /project/fonts"))
	assert.Equal(t, 1, f.fake.Count("docker cp "+fontFile+" c0ffee:/project/fonts/Roboto.ttf"))
	assert.Equal(t, 1, f.fake.Count("base64 -d > /project/fonts.txt"))
	assert.Contains(t, f.rec.Messages(buildlog.Success), "Fonts manifest created: /project/fonts.txt")
}

func TestFullSetupCopyFailureStopsContainer(t *testing.T) {
	f := newFixture(t)
	f.fake.Fail("/project/src/", "no space left on device")
	ui := t.TempDir()
	writeUI(t, ui, map[string]string{"ui.c": "int x;"})

	_, err := f.orch.Setup(t.Context(), newInfo(t, ui), f.rec.Sink())

	require.Error(t, err)
	assert.True(t, foundation.HasCategory(err, foundation.CategoryBuild))
	assert.Equal(t, "Failed to copy build destination directory", foundation.Message(err))
	assert.Equal(t, 1, f.fake.Count("docker stop c0ffee"))
	assert.Nil(t, f.orch.LastInfo())
	assert.Equal(t, PhaseFailed, f.orch.Phase())
}

func TestIncrementalSetupNoChangesTouchesNothing(t *testing.T) {
	f := newFixture(t)
	ui := t.TempDir()
	writeUI(t, ui, map[string]string{"ui.c": "int x;"})
	_, err := f.orch.Setup(t.Context(), newInfo(t, ui), nil)
	require.NoError(t, err)
	f.fake.Reset()

	res, err := f.orch.Setup(t.Context(), newInfo(t, ui), f.rec.Sink())

	require.NoError(t, err)
	assert.Equal(t, SetupUnchanged, res.Mode)
	assert.True(t, res.Skipped)
	assert.True(t, res.SkipReconfigure)
	assert.Empty(t, f.fake.Calls())
	assert.Contains(t, f.rec.Messages(buildlog.Success), "No file changes detected, skipping setup.")
}

func TestIncrementalSetupModificationsOnly(t *testing.T) {
	f := newFixture(t)
	ui := t.TempDir()
	writeUI(t, ui, map[string]string{"ui.c": "int x;", "screens/main.c": "int y;"})
	_, err := f.orch.Setup(t.Context(), newInfo(t, ui), nil)
	require.NoError(t, err)
	f.fake.Reset()
	f.fake.Respond("sleep infinity", runner.Succeeded("c0ffee\n"))

	writeUI(t, ui, map[string]string{"screens/main.c": "int y = 2;"})
	res, err := f.orch.Setup(t.Context(), newInfo(t, ui), f.rec.Sink())

	require.NoError(t, err)
	assert.Equal(t, SetupIncremental, res.Mode)
	assert.True(t, res.SkipReconfigure)
	assert.Equal(t, []string{"screens/main.c"}, res.Diff.Modified)
	assert.Equal(t, 1, res.FilesCopied)
	assert.Equal(t, 1, f.fake.Count("docker cp"))
	assert.Equal(t, 1, f.fake.Count("mkdir -p /project/src/screens"))
	assert.Equal(t, 1, f.fake.Count("touch /project/src/screens/main.c"))
	assert.Zero(t, f.fake.Count("compose build"))
	assert.Contains(t, f.rec.Messages(), "Only file modifications detected, build will skip CMake reconfiguration")
}

func TestIncrementalSetupAddAndDelete(t *testing.T) {
	f := newFixture(t)
	ui := t.TempDir()
	writeUI(t, ui, map[string]string{"a.c": "1", "b.c": "2"})
	_, err := f.orch.Setup(t.Context(), newInfo(t, ui), nil)
	require.NoError(t, err)
	f.fake.Reset()
	f.fake.Respond("sleep infinity", runner.Succeeded("c0ffee\n"))

	require.NoError(t, os.Remove(filepath.Join(ui, "b.c")))
	writeUI(t, ui, map[string]string{"c.c": "3"})
	res, err := f.orch.Setup(t.Context(), newInfo(t, ui), f.rec.Sink())

	require.NoError(t, err)
	assert.Equal(t, []string{"c.c"}, res.Diff.Added)
	assert.Equal(t, []string{"b.c"}, res.Diff.Deleted)
	assert.False(t, res.SkipReconfigure)
	assert.Equal(t, 1, f.fake.Count("rm -f /project/src/b.c"))
	assert.Equal(t, 1, f.fake.Count("c0ffee:/project/src/c.c"))
	assert.Contains(t, f.rec.Messages(), "Detected changes: 1 added, 0 modified, 1 deleted")
}

func TestConfigChangeForcesFullSetup(t *testing.T) {
	f := newFixture(t)
	ui := t.TempDir()
	writeUI(t, ui, map[string]string{"ui.c": "int x;"})
	_, err := f.orch.Setup(t.Context(), newInfo(t, ui), nil)
	require.NoError(t, err)
	f.fake.Reset()
	f.fake.Respond("sleep infinity", runner.Succeeded("c0ffee\n"))

	info := newInfo(t, ui)
	info.DisplayWidth = 1024
	res, err := f.orch.Setup(t.Context(), info, nil)

	require.NoError(t, err)
	assert.Equal(t, SetupFull, res.Mode)
	assert.Equal(t, 1, f.fake.Count("compose build"))
}

func TestFailedSetupForcesFullSetupAfterRevert(t *testing.T) {
	f := newFixture(t)
	ui := t.TempDir()
	writeUI(t, ui, map[string]string{"ui.c": "int x;"})
	_, err := f.orch.Setup(t.Context(), newInfo(t, ui), nil)
	require.NoError(t, err)

	changed := newInfo(t, ui)
	changed.DisplayWidth = 1024
	f.fake.Fail("/project/src/", "no space left on device")
	_, err = f.orch.Setup(t.Context(), changed, nil)
	require.Error(t, err)
	assert.Nil(t, f.orch.LastInfo())

	f.fake.Reset()
	f.fake.Respond("/project/src/", runner.Succeeded(""))
	res, err := f.orch.Setup(t.Context(), newInfo(t, ui), nil)

	require.NoError(t, err)
	assert.Equal(t, SetupFull, res.Mode)
	assert.False(t, res.Skipped)
	assert.Equal(t, 1, f.fake.Count("docker cp "+ui+string(filepath.Separator)+". c0ffee:/project/src/"))
}

func TestBuildArguments(t *testing.T) {
	f := newFixture(t)
	info := newInfo(t, t.TempDir())
	info.Fonts = []project.Font{{TargetPath: "/fonts/a.ttf"}}
	info.EncoderGroup = "enc"
	info.KeyboardGroup = "kbd"

	require.NoError(t, f.orch.Build(t.Context(), info, true, f.rec.Sink()))

	cmds := f.fake.Commands()
	require.Len(t, cmds, 1)
	assert.Contains(t, cmds[0], "compose run --rm emscripten-build sh -c")
	assert.Contains(t, cmds[0], "./build.sh --lvgl=9.2.2 --display-width=800 --display-height=480 --skip-emcmake-cmake --fonts=/project/fonts.txt --encoder-group=groups.enc --keyboard-group=groups.kbd")
}

func TestBuildFailure(t *testing.T) {
	f := newFixture(t)
	f.fake.Fail("build.sh", "make: *** [all] Error 2")

	err := f.orch.Build(t.Context(), newInfo(t, t.TempDir()), false, f.rec.Sink())

	require.Error(t, err)
	assert.Equal(t, "Build failed", foundation.Message(err))
	assert.False(t, foundation.IsAborted(err))
	assert.NotContains(t, f.fake.Commands()[0], "--skip-emcmake-cmake")
}

func TestExtractCopiesArtifacts(t *testing.T) {
	f := newFixture(t)
	f.fake.Fail("test -f /project/build/index.data", "")
	f.fake.On("docker cp c0ffee:", func(c runner.Command) runner.Result {
		dest := c.Args[len(c.Args)-1]
		_ = os.WriteFile(dest, []byte("artifact"), 0o600)
		return runner.Succeeded("")
	})
	out := filepath.Join(t.TempDir(), ".docker-build-output")
	require.NoError(t, os.MkdirAll(out, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(out, "stale.txt"), []byte("old"), 0o600))

	files, err := f.orch.Extract(t.Context(), out, f.rec.Sink())

	require.NoError(t, err)
	assert.Equal(t, RequiredArtifacts, files)
	assert.NoFileExists(t, filepath.Join(out, "stale.txt"))
	assert.True(t, OutputsPresent(out))
	assert.Contains(t, f.rec.Messages(), "index.data not found (optional file, skipping)")
	assert.Contains(t, f.rec.Messages(), "Extracted index.wasm: 8 bytes")
	assert.Equal(t, 1, f.fake.Count("docker stop c0ffee"))
}

func TestExtractMissingRequiredArtifact(t *testing.T) {
	f := newFixture(t)
	f.fake.Fail("c0ffee:/project/build/index.js", "no such file")

	_, err := f.orch.Extract(t.Context(), t.TempDir(), nil)

	require.Error(t, err)
	assert.Equal(t, "Failed to extract index.js", foundation.Message(err))
	assert.Equal(t, 1, f.fake.Count("docker stop c0ffee"))
}

func TestRunAbortedBeforeStart(t *testing.T) {
	f := newFixture(t)
	f.reg.Abort()

	res, err := f.orch.Run(t.Context(), Request{Project: newInfo(t, t.TempDir()), OutputDir: t.TempDir()}, nil)

	require.ErrorIs(t, err, foundation.ErrAborted)
	assert.Equal(t, StatusCanceled, res.Status)
	assert.Empty(t, f.fake.Calls())
	assert.Equal(t, PhaseAborted, f.orch.Phase())
}

func TestRunAbortDuringBuild(t *testing.T) {
	f := newFixture(t)
	ui := t.TempDir()
	writeUI(t, ui, map[string]string{"ui.c": "int x;"})
	f.fake.On("./build.sh --lvgl", func(runner.Command) runner.Result {
		f.orch.Abort(t.Context())
		return runner.Failed("terminated")
	})

	var phases []Phase
	f.orch.WithPhaseHook(func(p Phase) { phases = append(phases, p) })
	res, err := f.orch.Run(t.Context(), Request{Project: newInfo(t, ui), OutputDir: t.TempDir()}, f.rec.Sink())

	require.ErrorIs(t, err, foundation.ErrAborted)
	assert.Equal(t, StatusCanceled, res.Status)
	assert.Equal(t, []Phase{PhaseSetup, PhaseBuild, PhaseAborted}, phases)
	assert.Zero(t, f.fake.Count("index.html"))

	f.orch.ResetAbort()
	assert.False(t, f.orch.Aborted())
}

func TestRunSuccess(t *testing.T) {
	f := newFixture(t)
	ui := t.TempDir()
	writeUI(t, ui, map[string]string{"ui.c": "int x;"})

	res, err := f.orch.Run(t.Context(), Request{Project: newInfo(t, ui), OutputDir: t.TempDir()}, f.rec.Sink())

	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, PhaseDone, f.orch.Phase())
	msgs := strings.Join(f.rec.Messages(), "\n")
	assert.Less(t, strings.Index(msgs, "=== Step 1/3: Setup ==="), strings.Index(msgs, "=== Step 2/3: Build ==="))
	assert.Less(t, strings.Index(msgs, "=== Step 2/3: Build ==="), strings.Index(msgs, "=== Step 3/3: Extract ==="))
}

func TestCleanInvalidatesLastInfo(t *testing.T) {
	f := newFixture(t)
	ui := t.TempDir()
	writeUI(t, ui, map[string]string{"ui.c": "int x;"})
	_, err := f.orch.Setup(t.Context(), newInfo(t, ui), nil)
	require.NoError(t, err)

	require.NoError(t, f.orch.CleanBuild(t.Context(), f.rec.Sink()))
	assert.Nil(t, f.orch.LastInfo())
	assert.Equal(t, 1, f.fake.Count("compose run --rm emscripten-build rm -rf /project/build"))

	f.fake.Fail("rm -rf /project/*", "busy")
	err = f.orch.CleanAll(t.Context(), nil)
	require.Error(t, err)
	assert.Equal(t, "Clean all failed", foundation.Message(err))
}

func TestCleanAllQuotesProjectRoot(t *testing.T) {
	reg := runner.NewRegistry(runner.TerminatorFunc(func(int) error { return nil }), nil)
	fake := runner.NewFakeRunner(reg)
	gw := container.New(fake, reg, container.Options{ToolingDir: "/tools", Service: "emscripten-build", Volume: "vol"}, nil)
	orch := NewOrchestrator(gw, reg, Config{ProjectRoot: "/my project"})

	require.NoError(t, orch.CleanAll(t.Context(), nil))

	assert.Equal(t, 1, fake.Count("rm -rf '/my project'/* '/my project'/.[!.]*"))
	assert.Zero(t, fake.Count("rm -rf /my project/*"))
}

func TestStopRunningContainers(t *testing.T) {
	f := newFixture(t)
	f.reg.SetContainer("deadbeef")

	f.orch.StopRunningContainers(t.Context(), f.rec.Sink())

	assert.Equal(t, 1, f.fake.Count("compose down --remove-orphans"))
	assert.Equal(t, 1, f.fake.Count("docker stop deadbeef"))
	assert.Empty(t, f.reg.Container())
}
