package container

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/simbuild/internal/buildlog"
	foundation "git.home.luguber.info/inful/simbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/simbuild/internal/runner"
	"git.home.luguber.info/inful/simbuild/internal/shell"
)

func newGateway(t *testing.T) (*Gateway, *runner.FakeRunner, *runner.Registry) {
	t.Helper()
	reg := runner.NewRegistry(runner.TerminatorFunc(func(int) error { return nil }), nil)
	fake := runner.NewFakeRunner(reg)
	g := New(fake, reg, Options{ToolingDir: "/tools", Service: "emscripten-build", Volume: "vol"}, nil)
	return g, fake, reg
}

func TestCommandsCarryVolumeAndDir(t *testing.T) {
	g, fake, _ := newGateway(t)

	g.RunOnce(t.Context(), "rm", "-rf", "/project/build")

	calls := fake.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "docker", calls[0].Cmd.Name)
	assert.Equal(t, []string{"compose", "run", "--rm", "emscripten-build", "rm", "-rf", "/project/build"}, calls[0].Cmd.Args)
	assert.Equal(t, "/tools", calls[0].Cmd.Dir)
	assert.Equal(t, []string{"PROJECT_VOLUME=vol"}, calls[0].Cmd.Env)
}

func TestCreateRecordsContainer(t *testing.T) {
	g, fake, reg := newGateway(t)
	fake.Respond("compose run -d emscripten-build sleep infinity", runner.Succeeded("Creating network\nabc123\n"))

	id, err := g.Create(t.Context())

	require.NoError(t, err)
	assert.Equal(t, "abc123", id)
	assert.Equal(t, "abc123", reg.Container())
	assert.True(t, fake.Calls()[0].Silent)

	g.Stop(t.Context(), id)
	assert.Empty(t, reg.Container())
	assert.Equal(t, 1, fake.Count("docker stop abc123"))
}

func TestCreateFailure(t *testing.T) {
	g, fake, reg := newGateway(t)
	var rec buildlog.Recorder
	g = g.WithSink(rec.Sink())
	fake.Fail("compose run -d", "no such service")

	_, err := g.Create(t.Context())

	require.Error(t, err)
	assert.True(t, foundation.HasCategory(err, foundation.CategoryContainer))
	assert.Empty(t, reg.Container())
	assert.Contains(t, rec.Messages(buildlog.Error), "Container creation error: no such service")
}

func TestPreflight(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		g, fake, _ := newGateway(t)
		require.NoError(t, g.Preflight(t.Context()))
		assert.Equal(t, []string{"docker --version", "docker ps"}, fake.Commands())
	})
	t.Run("not installed", func(t *testing.T) {
		g, fake, _ := newGateway(t)
		fake.Fail("--version", "")
		err := g.Preflight(t.Context())
		require.Error(t, err)
		assert.Contains(t, foundation.Message(err), "not installed")
		assert.True(t, foundation.HasCategory(err, foundation.CategoryEnvironment))
	})
	t.Run("not running", func(t *testing.T) {
		g, fake, _ := newGateway(t)
		fake.Fail("docker ps", "Cannot connect to the Docker daemon")
		err := g.Preflight(t.Context())
		require.Error(t, err)
		assert.Contains(t, foundation.Message(err), "not running")
	})
}

func TestCopyDirContents(t *testing.T) {
	g, fake, _ := newGateway(t)
	local := filepath.Join("home", "me", "My Project", "src", "ui")

	require.NoError(t, g.CopyDirContents(t.Context(), "abc", local+string(filepath.Separator), "/project/src"))

	args := fake.Calls()[0].Cmd.Args
	assert.Equal(t, []string{"cp", local + string(filepath.Separator) + ".", "abc:/project/src/"}, args)
}

func TestCopyFailureIsClassified(t *testing.T) {
	g, fake, _ := newGateway(t)
	fake.Fail("docker cp", "no such file")

	err := g.CopyOut(t.Context(), "abc", "/project/build/index.js", "/out/index.js")

	require.Error(t, err)
	assert.True(t, foundation.HasCategory(err, foundation.CategoryContainer))
}

func TestStopRunsAfterAbort(t *testing.T) {
	g, fake, reg := newGateway(t)
	reg.SetContainer("abc")
	reg.Abort()

	assert.False(t, g.Exec(t.Context(), "abc", "true").Success)
	g.StopCurrent(t.Context())
	g.Down(t.Context())

	assert.Equal(t, []string{"docker stop abc", "docker compose down --remove-orphans"}, fake.Commands())
}

func TestExecScriptAndFileExists(t *testing.T) {
	g, fake, _ := newGateway(t)
	fake.Fail("test -f /project/build/index.data", "")

	g.ExecScript(t.Context(), "abc", shell.New().Add("mkdir", "-p", "/project/src/a b"))
	assert.False(t, g.FileExists(t.Context(), "abc", "/project/build/index.data"))
	assert.True(t, g.FileExists(t.Context(), "abc", "/project/build/index.js"))

	assert.Equal(t, []string{"exec", "abc", "sh", "-c", "mkdir -p '/project/src/a b'"}, fake.Calls()[0].Cmd.Args)
}
