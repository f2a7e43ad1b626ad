package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShouldIgnoreEvent(t *testing.T) {
	ignored := []string{"/p/.hidden", "/p/ui.c~", "/p/.ui.c.swp", "/p/x.swx", "/p/#ui.c#", "/p/Thumbs.db", "/p/.DS_Store"}
	for _, p := range ignored {
		assert.True(t, shouldIgnoreEvent(p), p)
	}
	for _, p := range []string{"/p/ui.c", "/p/screens", "/p/demo.eez-project"} {
		assert.False(t, shouldIgnoreEvent(p), p)
	}
}

type rig struct {
	dir, ui, projectFile string
	calls                atomic.Int32
	cancel               context.CancelFunc
	done                 chan error
}

func start(t *testing.T) *rig {
	t.Helper()
	r := &rig{dir: t.TempDir(), done: make(chan error, 1)}
	r.ui = filepath.Join(r.dir, "src", "ui")
	r.projectFile = filepath.Join(r.dir, "demo.eez-project")
	require.NoError(t, os.MkdirAll(r.ui, 0o750))
	require.NoError(t, os.WriteFile(r.projectFile, []byte("{}"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	w := New([]string{r.projectFile, r.ui}, 40*time.Millisecond, nil)
	go func() { r.done <- w.Run(ctx, func(context.Context) { r.calls.Add(1) }) }()
	t.Cleanup(func() {
		cancel()
		<-r.done
	})
	// give the watcher time to register
	time.Sleep(100 * time.Millisecond)
	return r
}

func TestBurstOfChangesRebuildsOnce(t *testing.T) {
	r := start(t)

	for i := range 5 {
		require.NoError(t, os.WriteFile(filepath.Join(r.ui, "ui.c"), []byte{byte('a' + i)}, 0o600))
	}

	require.Eventually(t, func() bool { return r.calls.Load() == 1 }, 3*time.Second, 10*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), r.calls.Load())
}

func TestProjectFileAndNewSubdirectory(t *testing.T) {
	r := start(t)

	require.NoError(t, os.WriteFile(r.projectFile, []byte(`{"settings":{}}`), 0o600))
	require.Eventually(t, func() bool { return r.calls.Load() == 1 }, 3*time.Second, 10*time.Millisecond)

	sub := filepath.Join(r.ui, "screens")
	require.NoError(t, os.MkdirAll(sub, 0o750))
	require.Eventually(t, func() bool { return r.calls.Load() == 2 }, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(sub, "main.c"), []byte("int y;"), 0o600))
	require.Eventually(t, func() bool { return r.calls.Load() == 3 }, 3*time.Second, 10*time.Millisecond)
}

func TestIgnoredChangesDoNotRebuild(t *testing.T) {
	r := start(t)

	require.NoError(t, os.WriteFile(filepath.Join(r.ui, ".ui.c.swp"), []byte("x"), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(r.dir, ".docker-build-output"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(r.dir, "notes.txt"), []byte("x"), 0o600))

	time.Sleep(300 * time.Millisecond)
	assert.Zero(t, r.calls.Load())
}

func TestRunMissingPath(t *testing.T) {
	w := New([]string{filepath.Join(t.TempDir(), "missing")}, 0, nil)
	require.Error(t, w.Run(t.Context(), func(context.Context) {}))
}
