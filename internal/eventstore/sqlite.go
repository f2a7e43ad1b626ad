package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	foundation "git.home.luguber.info/inful/simbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/simbuild/internal/notify"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open opens or creates the history database at dbPath. Missing parent
// directories are created.
func Open(dbPath string) (*SQLiteStore, error) {
	if dbPath != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
			return nil, foundation.FileSystemError("failed to create history directory").
				WithCause(err).
				WithContext("path", dbPath).
				Build()
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, foundation.WrapError(err, foundation.CategoryFileSystem, "could not open build history").
			WithContext("path", dbPath).
			Build()
	}
	// a single connection keeps ":memory:" databases shared across calls
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initialize(); err != nil {
		_ = db.Close()
		return nil, foundation.WrapError(err, foundation.CategoryInternal, "failed to initialize build history schema").
			WithContext("path", dbPath).
			Build()
	}
	return store, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		build_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		project TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		payload BLOB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_build_id ON events(build_id);
	CREATE INDEX IF NOT EXISTS idx_timestamp ON events(timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Publish records ev. A zero timestamp is stamped with the current time.
func (s *SQLiteStore) Publish(ctx context.Context, ev notify.Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return foundation.WrapError(err, foundation.CategoryInternal, "failed to marshal event").Build()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO events (build_id, event_type, project, timestamp, payload) VALUES (?, ?, ?, ?, ?)",
		ev.BuildID, ev.Type, ev.Project, ev.Timestamp.UnixMilli(), payload,
	)
	if err != nil {
		return foundation.WrapError(err, foundation.CategoryFileSystem, "failed to record event").
			WithContext("type", ev.Type).
			Build()
	}
	return nil
}

// ByBuildID retrieves all events for a specific build.
func (s *SQLiteStore) ByBuildID(ctx context.Context, buildID string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, payload FROM events WHERE build_id = ? ORDER BY id",
		buildID,
	)
	if err != nil {
		return nil, queryError(err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Range retrieves events within a time range.
func (s *SQLiteStore) Range(ctx context.Context, start, end time.Time) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, payload FROM events WHERE timestamp >= ? AND timestamp <= ? ORDER BY id",
		start.UnixMilli(), end.UnixMilli(),
	)
	if err != nil {
		return nil, queryError(err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Prune removes events older than cutoff.
func (s *SQLiteStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM events WHERE timestamp < ?", cutoff.UnixMilli())
	if err != nil {
		return 0, foundation.WrapError(err, foundation.CategoryFileSystem, "failed to prune build history").Build()
	}
	return res.RowsAffected()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		var (
			r       Record
			payload []byte
		)
		if err := rows.Scan(&r.ID, &payload); err != nil {
			return nil, queryError(err)
		}
		if err := json.Unmarshal(payload, &r.Event); err != nil {
			return nil, foundation.WrapError(err, foundation.CategoryInternal, "failed to decode stored event").
				WithContext("id", r.ID).
				Build()
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, queryError(err)
	}
	return out, nil
}

func queryError(err error) error {
	return foundation.WrapError(err, foundation.CategoryFileSystem, "failed to query build history").Build()
}
