// Package eventstore keeps a local history of build lifecycle events in
// SQLite and folds it into per-build summaries.
package eventstore

import (
	"context"
	"time"

	"git.home.luguber.info/inful/simbuild/internal/notify"
)

// Store persists lifecycle events. Publishing to a Store records the event.
type Store interface {
	notify.Publisher

	// ByBuildID returns the events of one build attempt in insertion order.
	ByBuildID(ctx context.Context, buildID string) ([]Record, error)

	// Range returns the events stamped within [start, end] in insertion order.
	Range(ctx context.Context, start, end time.Time) ([]Record, error)

	// Prune deletes events stamped before cutoff and reports how many went.
	Prune(ctx context.Context, cutoff time.Time) (int64, error)

	// Close closes the store and releases resources.
	Close() error
}

// Record is a stored event with its row id.
type Record struct {
	ID int64
	notify.Event
}
