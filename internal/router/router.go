// Package router implements the Subscription Router (spec.md section
// 4.E): filter-scoped fan-out of domain events to per-client
// subscriptions, with per-subscription monotonic cursors, bounded
// outbound queues, and backpressure handling.
package router

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentrails/agentrailsd/internal/eventlog"
	"github.com/agentrails/agentrailsd/internal/idgen"
	"github.com/agentrails/agentrailsd/internal/types"
)

// QueueCapacity is the bounded outbound queue size per subscription.
// spec.md's Open Questions ask implementers to pick a concrete bound;
// 4096 matches SPEC_FULL.md's documented choice.
const QueueCapacity = 4096

// HighWaterFraction is the fill ratio at which a backpressure signal
// fires, ahead of the disconnect that follows a full queue.
const HighWaterFraction = 0.75

// ringCapacity bounds the in-memory replay buffer; afterCursor values
// older than the oldest retained entry cannot be served (a durability
// fallback via the event log's JetStream retention is the documented
// escape hatch, see SPEC_FULL.md's State Store section).
const ringCapacity = 8192

// Metrics are the counters spec.md section 4.E names explicitly.
type Metrics struct {
	FanoutBackpressureSignalsTotal    int64
	FanoutBackpressureDisconnectsTotal int64
	FanoutEventsEnqueuedTotal         int64
}

func (m *Metrics) signal()     { atomic.AddInt64(&m.FanoutBackpressureSignalsTotal, 1) }
func (m *Metrics) disconnect() { atomic.AddInt64(&m.FanoutBackpressureDisconnectsTotal, 1) }
func (m *Metrics) enqueue()    { atomic.AddInt64(&m.FanoutEventsEnqueuedTotal, 1) }

// Snapshot returns a point-in-time copy of the counters, safe for
// concurrent reads against a live Router.
func (m *Metrics) Snapshot() Metrics {
	return Metrics{
		FanoutBackpressureSignalsTotal:     atomic.LoadInt64(&m.FanoutBackpressureSignalsTotal),
		FanoutBackpressureDisconnectsTotal: atomic.LoadInt64(&m.FanoutBackpressureDisconnectsTotal),
		FanoutEventsEnqueuedTotal:          atomic.LoadInt64(&m.FanoutEventsEnqueuedTotal),
	}
}

type ringEntry struct {
	cursor int64
	event  types.Event
}

// subscriber is a live Subscription's delivery state.
type subscriber struct {
	id            string
	connID        string
	filter        types.SubscriptionFilter
	includeOutput bool
	queue         chan types.StreamEvent
	closed        atomic.Bool
}

// Router owns every active Subscription and the in-memory replay ring.
// All mutation (Subscribe/Unsubscribe/Publish) is serialized under a
// single mutex: the daemon is single-node and fan-out volume never
// approaches a scale where that serialization is the bottleneck (spec.md
// section 5).
type Router struct {
	mu      sync.Mutex
	subs    map[string]*subscriber
	ring    []ringEntry
	ringPos int
	seq     int64

	Metrics Metrics

	// OnDisconnect, if set, is invoked (outside the router's lock) when
	// a subscription is torn down by backpressure, so the owning
	// connection can be told to stop expecting it.
	OnDisconnect func(subscriptionID, connID string)

	// log backs afterCursor replay for gaps older than the in-memory
	// ring, if attached. Nil (the default) means a stale afterCursor
	// simply misses the events the ring has since evicted.
	log *eventlog.Log
}

// New creates an empty Router.
func New() *Router {
	return &Router{subs: make(map[string]*subscriber)}
}

// SetLog attaches the durable event log Subscribe falls back to when a
// subscriber's afterCursor predates the in-memory ring's oldest
// retained entry. Optional; a nil log (the default) leaves replay
// ring-only.
func (r *Router) SetLog(l *eventlog.Log) {
	r.mu.Lock()
	r.log = l
	r.mu.Unlock()
}

// Handle is the caller-facing view of a live Subscription: its id, the
// router's watermark at subscribe time, and the channel to drain for
// delivery.
type Handle struct {
	ID     string
	Cursor int64
	Events <-chan types.StreamEvent
}

// Subscribe registers a new Subscription for connID, replays any
// retained events after afterCursor that match filter, and returns a
// Handle whose Events channel continues to receive live matches.
// Cursor in the return value is the router's current watermark at
// subscribe time (spec.md section 4.E).
func (r *Router) Subscribe(connID string, filter types.SubscriptionFilter, includeOutput bool, afterCursor int64) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub := &subscriber{
		id:            idgen.NewEntityID("sub"),
		connID:        connID,
		filter:        filter,
		includeOutput: includeOutput,
		queue:         make(chan types.StreamEvent, QueueCapacity),
	}
	r.subs[sub.id] = sub

	ring := r.orderedRing()
	// A gap exists when the ring's oldest retained cursor is more than
	// one past afterCursor: the events in between were evicted before
	// this subscriber asked for them. With a log attached, replay them
	// from there first, before the ring replay below.
	if r.log != nil && len(ring) > 0 && afterCursor < ring[0].cursor-1 {
		r.replayFromLog(sub, afterCursor, ring[0].cursor)
	}

	for _, entry := range ring {
		if entry.cursor <= afterCursor {
			continue
		}
		if !matches(sub, entry.event) {
			continue
		}
		// Replay happens under the lock, before any concurrent
		// Publish can interleave, so catch-up never duplicates or
		// skips an event relative to what a live subscriber would
		// have seen (spec.md section 8, invariant 2).
		sub.queue <- types.StreamEvent{SubscriptionID: sub.id, Cursor: entry.cursor, Event: entry.event}
	}

	return Handle{ID: sub.id, Cursor: r.seq, Events: sub.queue}
}

// replayFromLog fills the gap between afterCursor and the ring's oldest
// retained cursor (exclusive) from the durable event log, delivering
// matches to sub.queue in cursor order. Called with r.mu held: the log
// read is bounded by drainTimeout so a slow or wedged JetStream doesn't
// hold the router's lock indefinitely.
func (r *Router) replayFromLog(sub *subscriber, afterCursor, ringOldest int64) {
	logSub, err := r.log.Subscribe(afterCursor)
	if err != nil {
		// Durability fallback unavailable; the subscriber still gets
		// whatever the ring covers below, just with a gap before it.
		return
	}
	defer logSub.Close()

	timeout := time.NewTimer(eventlog.DrainTimeout())
	defer timeout.Stop()
	for {
		select {
		case d, ok := <-logSub.Events:
			if !ok {
				return
			}
			if d.Cursor >= ringOldest {
				return
			}
			if matches(sub, d.Event) {
				sub.queue <- types.StreamEvent{SubscriptionID: sub.id, Cursor: d.Cursor, Event: d.Event}
			}
		case <-timeout.C:
			return
		}
	}
}

// Unsubscribe tears down a Subscription by id. Safe to call more than
// once or with an unknown id.
func (r *Router) Unsubscribe(subscriptionID string) {
	r.mu.Lock()
	sub, ok := r.subs[subscriptionID]
	if ok {
		delete(r.subs, subscriptionID)
	}
	r.mu.Unlock()
	if ok {
		closeSub(sub)
	}
}

// SubscriptionCount reports the number of live subscriptions, for the
// daemon's status/health surface.
func (r *Router) SubscriptionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// UnsubscribeConn tears down every Subscription bound to connID
// (connection close, spec.md section 5).
func (r *Router) UnsubscribeConn(connID string) {
	r.mu.Lock()
	var dead []*subscriber
	for id, sub := range r.subs {
		if sub.connID == connID {
			delete(r.subs, id)
			dead = append(dead, sub)
		}
	}
	r.mu.Unlock()
	for _, sub := range dead {
		closeSub(sub)
	}
}

func closeSub(sub *subscriber) {
	if sub.closed.CompareAndSwap(false, true) {
		close(sub.queue)
	}
}

// Publish appends ev to the replay ring and fans it out to every
// matching Subscription. session-output events are only delivered to
// subscriptions with includeOutput=true (spec.md section 4.E).
func (r *Router) Publish(ev types.Event) int64 {
	r.mu.Lock()
	r.seq++
	cursor := r.seq
	r.appendRing(ringEntry{cursor: cursor, event: ev})

	var toDisconnect []*subscriber
	for _, sub := range r.subs {
		if !matches(sub, ev) {
			continue
		}
		se := types.StreamEvent{SubscriptionID: sub.id, Cursor: cursor, Event: ev}
		if !r.tryEnqueue(sub, se) {
			delete(r.subs, sub.id)
			toDisconnect = append(toDisconnect, sub)
		}
	}
	r.mu.Unlock()

	for _, sub := range toDisconnect {
		closeSub(sub)
		if r.OnDisconnect != nil {
			r.OnDisconnect(sub.id, sub.connID)
		}
	}
	return cursor
}

// tryEnqueue attempts a non-blocking send, emitting backpressure
// metrics as the queue fills and reporting false if the queue was
// already full (caller disconnects the subscription in that case).
// Called with r.mu held.
func (r *Router) tryEnqueue(sub *subscriber, se types.StreamEvent) bool {
	if len(sub.queue) >= int(float64(QueueCapacity)*HighWaterFraction) {
		r.Metrics.signal()
	}
	select {
	case sub.queue <- se:
		r.Metrics.enqueue()
		return true
	default:
		r.Metrics.disconnect()
		return false
	}
}

func (r *Router) appendRing(e ringEntry) {
	if len(r.ring) < ringCapacity {
		r.ring = append(r.ring, e)
		return
	}
	r.ring[r.ringPos] = e
	r.ringPos = (r.ringPos + 1) % ringCapacity
}

// orderedRing returns the ring's contents oldest-to-newest. Once the
// ring has wrapped, storage order no longer matches chronological
// order, and replay must preserve chronological (cursor-ascending)
// order so a catch-up subscriber's queue stays monotonic.
func (r *Router) orderedRing() []ringEntry {
	if len(r.ring) < ringCapacity {
		return r.ring
	}
	out := make([]ringEntry, 0, ringCapacity)
	out = append(out, r.ring[r.ringPos:]...)
	out = append(out, r.ring[:r.ringPos]...)
	return out
}

func matches(sub *subscriber, ev types.Event) bool {
	if ev.Kind == types.EventSessionOutput && !sub.includeOutput {
		return false
	}
	return sub.filter.Matches(ev)
}
