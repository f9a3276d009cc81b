// Package hookbridge implements the Hook Notify Bridge (spec.md section
// 4.G): it tails per-session notify-file JSONL files written by
// claude/cursor hooks, maps each record to a normalized key event, and
// feeds it through the same ingest path as internal/telemetry.
package hookbridge

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/agentrails/agentrailsd/internal/supervisor"
	"github.com/agentrails/agentrailsd/internal/types"
)

// Poll backoff bounds, in milliseconds (spec.md section 4.G).
const (
	activeMinMs  = 550
	activeMaxMs  = 1500
	idleMinMs    = 1200
	idleMaxMs    = 2800
	idleAfterN   = 3 // consecutive empty polls before backing off
)

// Bridge watches a directory of per-session notify files.
type Bridge struct {
	sv  *supervisor.Supervisor
	dir string

	watcher *fsnotify.Watcher

	mu       sync.Mutex
	sessions map[string]*tail // conversationID -> tail state
}

// New creates a Bridge watching dir (the path internal/supervisor
// writes notify files to). dir must already exist; New returns the
// watcher's error otherwise.
func New(sv *supervisor.Supervisor, dir string) (*Bridge, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, err
	}
	return &Bridge{sv: sv, dir: dir, watcher: w, sessions: make(map[string]*tail)}, nil
}

// Start runs the fsnotify event loop until ctx is canceled. Call
// TrackSession only after Start has been invoked.
func (b *Bridge) Start(ctx context.Context) {
	go func() {
		defer func() { _ = b.watcher.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-b.watcher.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					b.wake(ev.Name)
				}
			case _, ok := <-b.watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
}

func (b *Bridge) wake(path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range b.sessions {
		if t.path == path {
			select {
			case t.nudge <- struct{}{}:
			default:
			}
		}
	}
}

// TrackSession starts tailing path for conversationID, mapping records
// per agentType's hook vocabulary. ctx bounds the tail goroutine's
// lifetime (normally the daemon's run context); callers should also
// call StopSession on session exit to free the goroutine early.
func (b *Bridge) TrackSession(ctx context.Context, conversationID, path string, agentType types.AgentType) {
	tailCtx, cancel := context.WithCancel(ctx)
	t := &tail{path: path, nudge: make(chan struct{}, 1), cancel: cancel}

	b.mu.Lock()
	b.sessions[conversationID] = t
	b.mu.Unlock()

	go t.run(tailCtx, b.sv, conversationID, agentType)
}

// StopSession stops tailing conversationID's notify file.
func (b *Bridge) StopSession(conversationID string) {
	b.mu.Lock()
	t, ok := b.sessions[conversationID]
	if ok {
		delete(b.sessions, conversationID)
	}
	b.mu.Unlock()
	if ok {
		t.cancel()
	}
}

func jitter(minMs, maxMs int) time.Duration {
	return time.Duration(minMs+rand.Intn(maxMs-minMs+1)) * time.Millisecond
}
