// Package notify publishes build lifecycle events to NATS and other sinks.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Event types.
const (
	TypeBuildStarted   = "build.started"
	TypeBuildSucceeded = "build.succeeded"
	TypeBuildFailed    = "build.failed"
	TypeBuildCanceled  = "build.canceled"
	TypePreviewStarted = "preview.started"
	TypePreviewStopped = "preview.stopped"
	TypeStatePrefix    = "state."
)

// Event is the JSON payload of every message.
type Event struct {
	Type       string    `json:"type"`
	BuildID    string    `json:"build_id,omitempty"`
	Project    string    `json:"project,omitempty"`
	State      string    `json:"state,omitempty"`
	Phase      string    `json:"phase,omitempty"`
	SetupMode  string    `json:"setup_mode,omitempty"`
	Revision   string    `json:"revision,omitempty"`
	PreviewURL string    `json:"preview_url,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Memory keeps published events, for tests and in-process consumers.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

func (m *Memory) Publish(_ context.Context, ev Event) error {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
	return nil
}

// Events returns a copy of the published events.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// Types returns the type of every published event in order.
func (m *Memory) Types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, ev := range m.events {
		out[i] = ev.Type
	}
	return out
}

// Fanout publishes every event to each of its publishers. All publishers are
// tried; their errors are joined.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
