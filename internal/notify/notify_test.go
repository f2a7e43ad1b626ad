package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/simbuild/internal/state"
)

type fakeConn struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
	failPub  error
	drained  bool
}

func (f *fakeConn) Publish(subj string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPub != nil {
		return f.failPub
	}
	f.subjects = append(f.subjects, subj)
	f.payloads = append(f.payloads, data)
	return nil
}

func (f *fakeConn) FlushWithContext(context.Context) error { return nil }

func (f *fakeConn) Drain() error {
	f.drained = true
	return nil
}

func TestNATSPublisherSubjectAndPayload(t *testing.T) {
	fc := &fakeConn{}
	pub := newNATSPublisher(fc, "simbuild.", nil)

	require.NoError(t, pub.Publish(context.Background(), Event{
		Type:    TypeBuildSucceeded,
		BuildID: "b-1",
		Project: "/p/demo.eez-project",
	}))

	require.Equal(t, []string{"simbuild.build.succeeded"}, fc.subjects)
	var got Event
	require.NoError(t, json.Unmarshal(fc.payloads[0], &got))
	assert.Equal(t, "b-1", got.BuildID)
	assert.False(t, got.Timestamp.IsZero())

	require.NoError(t, pub.Close())
	assert.True(t, fc.drained)
}

func TestNATSPublisherEmptyPrefix(t *testing.T) {
	pub := newNATSPublisher(&fakeConn{}, "", nil)
	assert.Equal(t, "build.started", pub.Subject(TypeBuildStarted))
}

func TestNATSPublisherError(t *testing.T) {
	pub := newNATSPublisher(&fakeConn{failPub: errors.New("nats: connection closed")}, "x", nil)

	err := pub.Publish(context.Background(), Event{Type: TypeBuildFailed})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to publish event")
}

func TestForwardStateSkipsLogs(t *testing.T) {
	reg := state.NewRegistry(state.Limits{})
	mem := &Memory{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		ForwardState(ctx, reg, mem, nil)
		close(done)
	}()

	// wait for the subscription to exist
	ps := reg.ProjectState("/p/demo.eez-project")
	require.Eventually(t, func() bool {
		ps.SetRunning("http://127.0.0.1:1")
		return len(mem.Events()) > 0
	}, 2*time.Second, 10*time.Millisecond)

	ps.AddLog("compiling", "info")
	require.True(t, reg.StartBuild("/p/demo.eez-project"))

	require.Eventually(t, func() bool {
		for _, ev := range mem.Events() {
			if ev.Type == "state.build" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	for _, ev := range mem.Events() {
		assert.NotEqual(t, "state.log", ev.Type)
		if ev.Type == "state.state" {
			assert.Equal(t, "http://127.0.0.1:1", ev.PreviewURL)
			assert.Equal(t, "running", ev.State)
		}
		if ev.Type == "state.build" {
			assert.Equal(t, "building", ev.State)
		}
	}
}
