// Package status implements the Status Deriver (spec.md section 4.H):
// merging hook/OTLP/exit signals into a per-conversation runtime status
// projection, honoring the "never regress" and "exit always wins"
// invariants.
package status

import (
	"sync"
	"time"

	"github.com/agentrails/agentrailsd/internal/types"
)

// watermark is the last-applied telemetry timestamp and status for one
// session, kept in memory because it is consulted on every incoming key
// event and recomputing it from the durable row each time would be
// wasteful busywork the teacher's own event-loop code avoids (compare
// cmd/bd/daemon_event_loop.go's in-memory last-seen tracking).
type watermark struct {
	lastAppliedAt time.Time
	lastKnownWork string
	exited        bool
}

// Deriver tracks per-session watermarks. It holds no reference to the
// Store or Router; callers (internal/supervisor) decide what to persist
// and fan out based on the Result it returns.
type Deriver struct {
	mu   sync.Mutex
	byID map[string]*watermark
}

// New creates an empty Deriver.
func New() *Deriver {
	return &Deriver{byID: make(map[string]*watermark)}
}

// Result is the outcome of applying a key event to a session's status.
type Result struct {
	// Changed reports whether Status differs from the status in effect
	// before this event was applied.
	Changed bool
	Status  types.RuntimeStatus
	// WorkHint is set for events with no StatusHint and for
	// out-of-order events: they update lastKnownWork metadata without
	// regressing Status (spec.md section 4.H).
	WorkHint string
}

// Apply merges one normalized key event into session's status. current
// is the conversation's runtime status before this call; observedAt is
// the event's timestamp. An event only takes effect if observedAt is at
// or after the last-applied timestamp for this session; events with no
// StatusHint only ever update the work-hint watermark.
func (d *Deriver) Apply(sessionID string, current types.RuntimeStatus, ev types.KeyEvent) Result {
	if current == types.StatusExited {
		// Exit is terminal: while the caller's current status is
		// exited, no telemetry or hook event moves it (spec.md section
		// 8, invariant 7).
		return Result{Status: current}
	}

	observedAt := time.UnixMilli(ev.ObservedAt)

	d.mu.Lock()
	defer d.mu.Unlock()
	w, ok := d.byID[sessionID]
	if !ok {
		w = &watermark{}
		d.byID[sessionID] = w
	}

	if ev.StatusHint == "" {
		w.lastKnownWork = ev.EventName
		return Result{Status: current, WorkHint: ev.EventName}
	}

	if !w.lastAppliedAt.IsZero() && observedAt.Before(w.lastAppliedAt) {
		// Out-of-order: keep work-hint metadata current but never
		// regress the status the client sees.
		w.lastKnownWork = ev.EventName
		return Result{Status: current, WorkHint: ev.EventName}
	}

	w.lastAppliedAt = observedAt
	w.lastKnownWork = ev.EventName

	if ev.StatusHint == current {
		return Result{Status: current}
	}
	return Result{Changed: true, Status: ev.StatusHint}
}

// ApplyExit unconditionally transitions a session to exited and marks
// it terminal for future Apply calls, regardless of any telemetry
// watermark (spec.md section 4.H: "Exit signals always win").
func (d *Deriver) ApplyExit(sessionID string) Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	w, ok := d.byID[sessionID]
	if !ok {
		w = &watermark{}
		d.byID[sessionID] = w
	}
	changed := !w.exited
	w.exited = true
	w.lastAppliedAt = time.Now()
	return Result{Changed: changed, Status: types.StatusExited}
}

// Forget discards the watermark for a session (session.remove).
func (d *Deriver) Forget(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.byID, sessionID)
}

// LastKnownWork returns the last event name observed for a session,
// including out-of-order events that did not move the status.
func (d *Deriver) LastKnownWork(sessionID string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if w, ok := d.byID[sessionID]; ok {
		return w.lastKnownWork
	}
	return ""
}
