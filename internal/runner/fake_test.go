package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"git.home.luguber.info/inful/simbuild/internal/buildlog"
	foundation "git.home.luguber.info/inful/simbuild/internal/foundation/errors"
)

func TestFakeRunnerRules(t *testing.T) {
	f := NewFakeRunner(nil)
	f.Respond("compose run -d", Succeeded("abc123\n"))
	f.Fail("test -f", "")
	f.Respond("test -f /project/build.sh", Succeeded(""))

	res := f.RunSilent(t.Context(), Command{Name: "docker", Args: []string{"compose", "run", "-d", "svc"}})
	assert.Equal(t, "abc123\n", res.Stdout)

	res = f.RunSilent(t.Context(), Command{Name: "docker", Args: []string{"exec", "abc", "test", "-f", "/project/build.sh"}})
	assert.True(t, res.Success, "later rule wins")

	res = f.RunSilent(t.Context(), Command{Name: "docker", Args: []string{"exec", "abc", "test", "-f", "/project/build/index.data"}})
	assert.False(t, res.Success)
	assert.Error(t, res.Err)

	assert.Equal(t, 2, f.Count("test -f"))
	assert.Len(t, f.Calls(), 3)
	assert.True(t, f.Calls()[0].Silent)
}

func TestFakeRunnerStreamsToSink(t *testing.T) {
	f := NewFakeRunner(nil)
	f.Respond("build.sh", Result{Success: true, Stdout: "[1/2] cc ui.c\n[2/2] link\n", Stderr: "cache:INFO: x\nwarning: y\n"})
	var rec buildlog.Recorder

	f.Run(t.Context(), Command{Name: "docker", Args: []string{"compose", "run", "sh", "-c", "./build.sh"}}, rec.Sink())

	assert.Equal(t, []string{"warning: y"}, rec.Messages(buildlog.Warning))
	assert.Contains(t, rec.Messages(buildlog.Info), "[2/2] link")
}

func TestFakeRunnerHonoursAbort(t *testing.T) {
	reg := NewRegistry(TerminatorFunc(func(int) error { return nil }), nil)
	f := NewFakeRunner(reg)
	reg.Abort()

	res := f.RunSilent(t.Context(), Command{Name: "docker", Args: []string{"ps"}})
	assert.True(t, foundation.IsAborted(res.Err))
	assert.Empty(t, f.Calls())

	res = f.RunSilent(t.Context(), Command{Name: "docker", Args: []string{"stop", "x"}, IgnoreAbort: true})
	assert.True(t, res.Success)
}
