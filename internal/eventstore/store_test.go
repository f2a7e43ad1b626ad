package eventstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/simbuild/internal/notify"
)

func openMemory(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := Open(MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPublishAndByBuildID(t *testing.T) {
	store := openMemory(t)
	ctx := t.Context()
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Publish(ctx, notify.Event{Type: notify.TypeBuildStarted, BuildID: "b1", Project: "demo", Timestamp: ts}))
	require.NoError(t, store.Publish(ctx, notify.Event{Type: notify.TypeBuildStarted, BuildID: "b2", Project: "other", Timestamp: ts}))
	require.NoError(t, store.Publish(ctx, notify.Event{Type: notify.TypeBuildFailed, BuildID: "b1", Project: "demo", Error: "boom", Timestamp: ts.Add(time.Second)}))

	records, err := store.ByBuildID(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, notify.TypeBuildStarted, records[0].Type)
	assert.Equal(t, "boom", records[1].Error)
	assert.True(t, ts.Add(time.Second).Equal(records[1].Timestamp))
	assert.Less(t, records[0].ID, records[1].ID)
}

func TestPublishStampsMissingTimestamp(t *testing.T) {
	store := openMemory(t)
	ctx := t.Context()

	require.NoError(t, store.Publish(ctx, notify.Event{Type: notify.TypePreviewStarted, Project: "demo"}))

	records, err := store.Range(ctx, time.Now().Add(-time.Minute), time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.False(t, records[0].Timestamp.IsZero())
}

func TestRangeAndPrune(t *testing.T) {
	store := openMemory(t)
	ctx := t.Context()
	old := time.Now().Add(-48 * time.Hour)
	recent := time.Now().Add(-time.Hour)

	require.NoError(t, store.Publish(ctx, notify.Event{Type: notify.TypeBuildStarted, BuildID: "old", Timestamp: old}))
	require.NoError(t, store.Publish(ctx, notify.Event{Type: notify.TypeBuildStarted, BuildID: "new", Timestamp: recent}))

	records, err := store.Range(ctx, time.Now().Add(-24*time.Hour), time.Now())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "new", records[0].BuildID)

	n, err := store.Prune(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	records, err = store.ByBuildID(ctx, "old")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestOpenCreatesFileAndReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.db")
	ctx := t.Context()

	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Publish(ctx, notify.Event{Type: notify.TypeBuildStarted, BuildID: "b1"}))
	require.NoError(t, store.Close())

	store, err = Open(path)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	records, err := store.ByBuildID(ctx, "b1")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestStoreAsFanoutMember(t *testing.T) {
	store := openMemory(t)
	mem := &notify.Memory{}
	pub := notify.Fanout{mem, store}

	require.NoError(t, pub.Publish(t.Context(), notify.Event{Type: notify.TypeBuildStarted, BuildID: "b1"}))

	assert.Equal(t, []string{notify.TypeBuildStarted}, mem.Types())
	records, err := store.ByBuildID(t.Context(), "b1")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}
