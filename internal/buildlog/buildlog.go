// Package buildlog defines the user-facing log sink shared by the build
// pipeline, the state registry and the CLI.
package buildlog

import (
	"context"
	"log/slog"
	"sync"
)

// Level tags a user-facing log line.
type Level string

const (
	Info    Level = "info"
	Success Level = "success"
	Warning Level = "warning"
	Error   Level = "error"
)

// Sink receives one message per call.
type Sink func(msg string, level Level)

// Discard drops every message.
func Discard(string, Level) {}

// Slog returns a sink forwarding to logger. Success maps to info with a
// success attribute so the process log can still tell them apart.
func Slog(logger *slog.Logger, attrs ...slog.Attr) Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return func(msg string, level Level) {
		a := attrs
		if level == Success {
			a = append(a[:len(a):len(a)], slog.Bool("success", true))
		}
		logger.LogAttrs(context.Background(), level.SlogLevel(), msg, a...)
	}
}

// Tee fans every message out to all non-nil sinks.
func Tee(sinks ...Sink) Sink {
	return func(msg string, level Level) {
		for _, s := range sinks {
			if s != nil {
				s(msg, level)
			}
		}
	}
}

// SlogLevel maps a sink level onto slog.
func (l Level) SlogLevel() slog.Level {
	switch l {
	case Warning:
		return slog.LevelWarn
	case Error:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Serialize returns a sink that delivers one message at a time to sink, so
// callers with several producers never overlap.
func Serialize(sink Sink) Sink {
	var mu sync.Mutex
	return func(msg string, level Level) {
		mu.Lock()
		defer mu.Unlock()
		sink(msg, level)
	}
}

// Recorder collects messages in memory. It is meant for tests. Entries must
// only be read once producers are done.
type Recorder struct {
	mu      sync.Mutex
	Entries []Entry
}

// Entry is one recorded message.
type Entry struct {
	Msg   string
	Level Level
}

// Sink returns the recording sink.
func (r *Recorder) Sink() Sink {
	return func(msg string, level Level) {
		r.mu.Lock()
		r.Entries = append(r.Entries, Entry{Msg: msg, Level: level})
		r.mu.Unlock()
	}
}

// Messages returns the recorded messages of the given level, or all of them
// when no level is given.
func (r *Recorder) Messages(levels ...Level) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.Entries {
		if len(levels) == 0 || containsLevel(levels, e.Level) {
			out = append(out, e.Msg)
		}
	}
	return out
}

func containsLevel(levels []Level, l Level) bool {
	for _, x := range levels {
		if x == l {
			return true
		}
	}
	return false
}
