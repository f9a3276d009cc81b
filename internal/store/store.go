// Package store is the durable relational State Store: directories,
// repositories, conversations, tasks, automation policies, and
// per-directory project settings, each entity keyed by scope
// (spec.md section 4.B). Every mutating operation commits its row
// change and appends a typed event to internal/eventlog before the
// command reply is sent, so a client's view of "completed" implies
// the mutation is both durable and has a cursor other subscribers can
// replay from.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/agentrails/agentrailsd/internal/eventlog"
	"github.com/agentrails/agentrailsd/internal/idgen"
	"github.com/agentrails/agentrailsd/internal/types"
)

// Store is the single writer for all durable entity state. Mutating
// methods take an internal mutex so that concurrent connections never
// race on cursor allocation or SQLite write locks; reads do not take
// the lock and rely on SQLite's own MVCC for consistency.
type Store struct {
	db   *sql.DB
	log  *eventlog.Log
	mu   sync.Mutex
	sink func(types.Event) int64
}

// Open opens (creating if absent) a SQLite database at path and applies
// the schema. log may be nil, in which case mutations are still
// durable in SQLite but no event is appended (used by tests that don't
// need fan-out).
func Open(ctx context.Context, path string, log *eventlog.Log) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// The daemon is a single process; one open connection avoids SQLite
	// SQLITE_BUSY contention entirely rather than tuning busy_timeout.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: set WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys=ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}

	return &Store{db: db, log: log}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the writer connection is still usable, for the
// daemon's status/health surface.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SetSink registers fn to be called with every event emitted by a
// mutating operation; fn's return value is the cursor the event was
// published under, which emit then durably records alongside it. The
// Subscription Router's Publish method is the production sink (its
// signature already returns the assigned cursor); tests may leave this
// nil to observe durable writes without a live fan-out.
func (s *Store) SetSink(fn func(types.Event) int64) {
	s.mu.Lock()
	s.sink = fn
	s.mu.Unlock()
}

// newID mints an entity id using the shared base36 hash scheme.
func newID(prefix string) string {
	return idgen.NewEntityID(prefix)
}

// emit hands ev to the registered sink (the Subscription Router's
// Publish, in production) first, so the cursor clients observe on the
// wire is assigned before anything durable happens, then records that
// same cursor alongside ev in the durable event log so a subscriber
// whose afterCursor has fallen out of the router's in-memory ring can
// still be replayed consistently (SPEC_FULL.md's State Store section).
// Callers must already hold s.mu.
func (s *Store) emit(ev types.Event) (int64, error) {
	var cursor int64
	if s.sink != nil {
		cursor = s.sink(ev)
	}
	if err := s.log.Append(cursor, ev); err != nil {
		return cursor, fmt.Errorf("store: emit %s: %w", ev.Kind, err)
	}
	return cursor, nil
}
