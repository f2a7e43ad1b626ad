package state

import (
	"time"

	"git.home.luguber.info/inful/simbuild/internal/buildlog"
)

// SimulatorState is the lifecycle state of one project's simulator.
type SimulatorState string

const (
	StateIdle     SimulatorState = "idle"
	StateBuilding SimulatorState = "building"
	StateRunning  SimulatorState = "running"
	StateError    SimulatorState = "error"
)

// LogEntry is one line of a project's build log.
type LogEntry struct {
	ID      uint64         `json:"id"`
	Time    time.Time      `json:"time"`
	Level   buildlog.Level `json:"level"`
	Message string         `json:"message"`
}

// PreviewLogEntry is one console message captured from the running preview.
type PreviewLogEntry struct {
	ID        uint64    `json:"id"`
	Time      time.Time `json:"time"`
	Type      string    `json:"type"`  // console, error, unhandledrejection
	Level     string    `json:"level"` // log, info, warn, error, debug
	Message   string    `json:"message"`
	Timestamp int64     `json:"timestamp,omitempty"` // browser clock, ms
}

// Snapshot is a consistent copy of a ProjectState's scalar fields.
type Snapshot struct {
	Path              string         `json:"path"`
	State             SimulatorState `json:"state"`
	PreviewURL        string         `json:"previewUrl,omitempty"`
	Error             string         `json:"error,omitempty"`
	Phase             string         `json:"phase,omitempty"`
	LastBuildRevision string         `json:"lastBuildRevision,omitempty"`
	NeedsCleanBuild   bool           `json:"needsCleanBuild"`
	Active            bool           `json:"active"`
	LogCount          int            `json:"logCount"`
	PreviewLogCount   int            `json:"previewLogCount"`
}

// ChangeKind tells what part of the state changed.
type ChangeKind string

const (
	ChangeState      ChangeKind = "state"
	ChangeLog        ChangeKind = "log"
	ChangePreviewLog ChangeKind = "preview_log"
	ChangeBuild      ChangeKind = "build" // global build gate
	ChangeRemoved    ChangeKind = "removed"
)

// Change is delivered to subscribers. Project is empty for global changes.
type Change struct {
	Project string
	Kind    ChangeKind
}

// Limits caps the per-project log sequences.
type Limits struct {
	MaxLogEntries        int
	MaxPreviewLogEntries int
}

const (
	DefaultMaxLogEntries        = 5000
	DefaultMaxPreviewLogEntries = 1000
)

func (l Limits) withDefaults() Limits {
	if l.MaxLogEntries <= 0 {
		l.MaxLogEntries = DefaultMaxLogEntries
	}
	if l.MaxPreviewLogEntries <= 0 {
		l.MaxPreviewLogEntries = DefaultMaxPreviewLogEntries
	}
	return l
}
