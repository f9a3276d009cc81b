package eventlog

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/agentrails/agentrailsd/internal/types"
)

// Log appends domain events to JetStream, durably carrying the cursor
// the Subscription Router already assigned them (not JetStream's own
// sequence number, which counts a different, smaller set of events —
// see record). It has no subscriber-side fan-out state of its own: the
// Router owns live fan-out, this only backs its afterCursor replay for
// gaps older than the in-memory ring.
type Log struct {
	js nats.JetStreamContext
	mu sync.RWMutex
}

// New creates a Log that appends through js. Callers running
// without NATS (e.g. unit tests of components that don't need
// durability) can use a nil *Log; Append on a nil Log is a no-op.
func New(js nats.JetStreamContext) *Log {
	return &Log{js: js}
}

// JetStream returns the underlying JetStream context, or nil.
func (l *Log) JetStream() nats.JetStreamContext {
	if l == nil {
		return nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.js
}

// record is the durable envelope Append/Subscribe exchange. Cursor is
// the Router-assigned cursor the event was published under, not
// JetStream's message sequence: only Store-backed mutations ever reach
// this log (session-output/session-status never do, they are ephemeral
// per spec.md section 3), so JetStream's own sequence numbering runs
// far behind the Router's global cursor and cannot stand in for it.
type record struct {
	Cursor int64       `json:"cursor"`
	Event  types.Event `json:"event"`
}

// Append durably records ev under cursor, the value the Router already
// assigned it (spec.md section 4.A: ordering is defined by the writer,
// the log only needs to preserve it). A nil Log is a no-op so daemons
// run without NATS still commit every mutation to SQLite, they just
// lose cross-restart replay.
func (l *Log) Append(cursor int64, ev types.Event) error {
	if l == nil {
		return nil
	}
	l.mu.RLock()
	js := l.js
	l.mu.RUnlock()
	if js == nil {
		return nil
	}

	data, err := json.Marshal(record{Cursor: cursor, Event: ev})
	if err != nil {
		return fmt.Errorf("eventlog: marshal event: %w", err)
	}
	if _, err := js.Publish(SubjectForKind(string(ev.Kind)), data); err != nil {
		return fmt.Errorf("eventlog: publish %s: %w", ev.Kind, err)
	}
	return nil
}

// Subscription is a live reader over the durable record stream,
// delivering every record whose embedded cursor is greater than the
// afterCursor it was opened with.
type Subscription struct {
	sub    *nats.Subscription
	Events <-chan Delivery
}

// Delivery pairs a decoded Event with the cursor the Router originally
// assigned it.
type Delivery struct {
	Cursor int64
	Event  types.Event
}

// Subscribe replays every durable record after afterCursor, oldest
// first. Because the embedded Cursor field (not JetStream's own
// sequence) is what's compared, this always delivers from the start of
// the stream and filters client-side — the two numbering schemes
// diverge as soon as a single non-durable event (session-output,
// session-status) increments the Router's cursor between two durable
// ones, so JetStream's sequence can't be used to seek directly to
// afterCursor+1.
func (l *Log) Subscribe(afterCursor int64) (*Subscription, error) {
	if l == nil {
		return nil, fmt.Errorf("eventlog: subscribe on nil log")
	}
	l.mu.RLock()
	js := l.js
	l.mu.RUnlock()
	if js == nil {
		return nil, fmt.Errorf("eventlog: JetStream not configured")
	}

	out := make(chan Delivery, 256)

	sub, err := js.Subscribe(SubjectDomainPrefix+".>", func(msg *nats.Msg) {
		var rec record
		if err := json.Unmarshal(msg.Data, &rec); err != nil {
			log.Printf("eventlog: decode record: %v", err)
			return
		}
		if rec.Cursor <= afterCursor {
			return
		}
		out <- Delivery{Cursor: rec.Cursor, Event: rec.Event}
	}, nats.DeliverAll())
	if err != nil {
		return nil, fmt.Errorf("eventlog: subscribe: %w", err)
	}

	return &Subscription{sub: sub, Events: out}, nil
}

// Close tears down the underlying NATS subscription.
func (s *Subscription) Close() error {
	if s == nil || s.sub == nil {
		return nil
	}
	return s.sub.Unsubscribe()
}

// drainTimeout bounds how long Router.replayFromLog waits for the
// historical gap it's filling to stop producing records before it gives
// up and falls back to whatever the in-memory ring already covers.
const drainTimeout = 2 * time.Second

// DrainTimeout exposes drainTimeout to callers outside the package
// (Router) that need the same bound without duplicating the constant.
func DrainTimeout() time.Duration { return drainTimeout }
