// Package lifecyclehooks implements the Lifecycle Hooks Bridge (spec.md
// section 4.K): it watches the Subscription Router's full event stream,
// translates qualifying observed events into normalized lifecycle
// events, and drains them to configured outbound Connectors.
package lifecyclehooks

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/agentrails/agentrailsd/internal/router"
	"github.com/agentrails/agentrailsd/internal/types"
)

// LifecycleEvent is the normalized record handed to every Connector.
type LifecycleEvent struct {
	Type       string          `json:"type"`
	SessionID  string          `json:"sessionId"`
	ObservedAt int64           `json:"observedAt"`
	Detail     json.RawMessage `json:"detail,omitempty"`
}

func (e LifecycleEvent) dedupeKey() string {
	return fmt.Sprintf("%s|%s|%d", e.Type, e.SessionID, e.ObservedAt)
}

// Connector delivers one lifecycle event to an outbound destination.
// Implementations should respect ctx's deadline; a returned error is
// logged but never blocks the drain loop or other connectors.
type Connector interface {
	Deliver(ctx context.Context, ev LifecycleEvent) error
}

// Bridge subscribes to every event the Router publishes, maps
// qualifying ones to LifecycleEvents, and drains them to Connectors on
// a single background goroutine.
type Bridge struct {
	connectors    []Connector
	connTimeout   time.Duration
	firstRunSeen  sync.Map // conversationID -> struct{}, for "first time" running transitions

	mu     sync.Mutex
	seen   map[string]struct{} // dedupe by (type, sessionId, observedAt)
	queue  []LifecycleEvent
	notify chan struct{}

	done chan struct{}
}

// New builds a Bridge that delivers to connectors, each call bounded by
// connTimeout (zero means no per-call deadline beyond ctx's own).
func New(connectors []Connector, connTimeout time.Duration) *Bridge {
	return &Bridge{
		connectors:  connectors,
		connTimeout: connTimeout,
		seen:        make(map[string]struct{}),
		notify:      make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
}

// Subscribe registers the Bridge against rt's full event stream (an
// unfiltered internal subscription, the way a connection-scoped
// subscription works for clients) and starts its drain loop. ctx
// cancellation stops the drain loop and tears down the subscription.
func (b *Bridge) Subscribe(ctx context.Context, rt *router.Router) {
	handle := rt.Subscribe("internal-lifecyclehooks", types.SubscriptionFilter{}, false, 0)
	go func() {
		<-ctx.Done()
		rt.Unsubscribe(handle.ID)
	}()
	go b.consume(ctx, handle)
	go b.drainLoop(ctx)
}

func (b *Bridge) consume(ctx context.Context, handle router.Handle) {
	defer func() {
		// best-effort: Router.Unsubscribe on an already-closed id is a no-op.
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case se, ok := <-handle.Events:
			if !ok {
				return
			}
			for _, ev := range mapEvents(se.Event) {
				b.enqueue(ev)
			}
			if se.Event.Kind == types.EventSessionStatus {
				var payload types.SessionStatusPayload
				if json.Unmarshal(se.Event.Payload, &payload) == nil && payload.Status == types.StatusRunning {
					if _, seen := b.firstRunSeen.LoadOrStore(se.Event.ConversationID, struct{}{}); !seen {
						b.enqueue(LifecycleEvent{Type: "turn.started", SessionID: se.Event.ConversationID, ObservedAt: se.Event.ObservedAt, Detail: se.Event.Payload})
					}
				}
			}
		}
	}
}

func (b *Bridge) enqueue(ev LifecycleEvent) {
	b.mu.Lock()
	key := ev.dedupeKey()
	if _, dup := b.seen[key]; dup {
		b.mu.Unlock()
		return
	}
	b.seen[key] = struct{}{}
	b.queue = append(b.queue, ev)
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// drainLoop flushes queued events to every connector. A drain in
// progress restarts its sweep whenever new events arrive mid-flush
// rather than finishing a stale batch and waiting another cycle
// (spec.md section 4.K).
func (b *Bridge) drainLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.notify:
			b.drainOnce(ctx)
		}
	}
}

func (b *Bridge) drainOnce(ctx context.Context) {
	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.mu.Unlock()
			return
		}
		ev := b.queue[0]
		b.queue = b.queue[1:]
		b.mu.Unlock()

		for _, c := range b.connectors {
			callCtx := ctx
			var cancel context.CancelFunc
			if b.connTimeout > 0 {
				callCtx, cancel = context.WithTimeout(ctx, b.connTimeout)
			}
			err := c.Deliver(callCtx, ev)
			if cancel != nil {
				cancel()
			}
			if err != nil {
				log.Printf("lifecyclehooks: connector delivery failed for %s: %v", ev.Type, err)
			}
		}

		if ctx.Err() != nil {
			return
		}
	}
}

// mapEvents translates one Subscription Router Event into zero or more
// LifecycleEvents, per spec.md section 4.K's observed->lifecycle
// table. Most observed kinds map to at most one lifecycle event;
// session-exit is the exception, which also yields a sibling
// turn.failed when the child exited abnormally.
func mapEvents(e types.Event) []LifecycleEvent {
	base := LifecycleEvent{SessionID: e.ConversationID, ObservedAt: e.ObservedAt, Detail: e.Payload}

	switch e.Kind {
	case types.EventSessionStatus:
		var payload types.SessionStatusPayload
		_ = json.Unmarshal(e.Payload, &payload)
		switch payload.Status {
		case types.StatusRunning:
			// The first running status per session becomes turn.started
			// in consume, which tracks firstRunSeen.
			return nil
		case types.StatusCompleted:
			base.Type = "turn.completed"
			return []LifecycleEvent{base}
		case types.StatusNeedsInput:
			base.Type = "input.required"
			return []LifecycleEvent{base}
		}
		// session-status{exited} is ignored here: EventSessionEvent's
		// session-exit payload below carries the same timestamp plus
		// the exit code needed for the turn.failed pairing.
		return nil

	case types.EventSessionEvent:
		var payload types.SessionEventPayload
		_ = json.Unmarshal(e.Payload, &payload)
		if payload.Type != types.SessionEventExit {
			return nil
		}
		exited := base
		exited.Type = "session.exited"
		events := []LifecycleEvent{exited}
		if payload.Exit != nil && ((payload.Exit.Code != nil && *payload.Exit.Code != 0) || payload.Exit.Signal != nil) {
			failed := base
			failed.Type = "turn.failed"
			events = append(events, failed)
		}
		return events

	case types.EventSessionKeyEvent:
		var ev types.KeyEvent
		_ = json.Unmarshal(e.Payload, &ev)
		switch {
		case ev.EventName == "codex.tool_result" && ev.Severity == "ERROR":
			base.Type = "tool.failed"
			return []LifecycleEvent{base}
		case hasSuffixAny(ev.EventName, ".userpromptsubmit", "user_prompt"):
			base.Type = "turn.started"
			return []LifecycleEvent{base}
		case ev.EventName == "api_request" && isFailureSeverity(ev.Severity):
			base.Type = "turn.failed"
			return []LifecycleEvent{base}
		}
		return nil

	case types.EventConversationCreated:
		base.Type = "thread.created"
		return []LifecycleEvent{base}
	case types.EventConversationUpdated:
		base.Type = "thread.updated"
		return []LifecycleEvent{base}
	case types.EventConversationArchived:
		base.Type = "thread.archived"
		return []LifecycleEvent{base}
	case types.EventConversationDeleted:
		base.Type = "thread.deleted"
		return []LifecycleEvent{base}

	default:
		// directory-* / repository-* / task-* / session-output /
		// session-control / session-removed / session-prompt-event: not
		// named in spec.md's table.
		return nil
	}
}

func hasSuffixAny(s string, suffixes ...string) bool {
	for _, suf := range suffixes {
		if len(s) >= len(suf) && s[len(s)-len(suf):] == suf {
			return true
		}
	}
	return false
}

func isFailureSeverity(sev string) bool {
	switch sev {
	case "ERROR", "FATAL", "abort":
		return true
	}
	return false
}
