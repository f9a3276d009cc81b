// Package eventlog is the durable event log backing the State Store and
// Subscription Router. Every domain mutation is appended to a single
// JetStream stream, carrying the cursor the Router already assigned it
// (spec.md section 3, events are durable and cursor-ordered), so a
// subscriber whose requested cursor has aged out of the Router's
// in-memory ring can still be replayed from here.
package eventlog

import (
	"fmt"

	"github.com/nats-io/nats.go"
)

const (
	// StreamDomainEvents is the JetStream stream all domain events are
	// appended to, regardless of kind. A single stream keeps cursor
	// ordering global rather than per-entity-type.
	StreamDomainEvents = "DOMAIN_EVENTS"

	// SubjectDomainPrefix is the subject prefix domain events publish
	// under. The full subject is SubjectDomainPrefix + "." + kind, e.g.
	// "events.session-status", so a JetStream consumer can filter by
	// kind without a client-side scan.
	SubjectDomainPrefix = "events"
)

// SubjectForKind returns the NATS subject an event of the given kind
// publishes to.
func SubjectForKind(kind string) string {
	return SubjectDomainPrefix + "." + kind
}

// EnsureStream creates the domain event stream if it does not already
// exist. Called once during daemon startup.
func EnsureStream(js nats.JetStreamContext) error {
	if _, err := js.StreamInfo(StreamDomainEvents); err != nil {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     StreamDomainEvents,
			Subjects: []string{SubjectDomainPrefix + ".>"},
			Storage:  nats.FileStorage,
			// Retain a generous window; callers needing longer
			// history read it back out of the State Store, which is
			// the durable system of record for entity state. The
			// stream exists for ordered replay to live subscribers,
			// not indefinite archival.
			MaxMsgs:  1_000_000,
			MaxBytes: 1 << 30,
		})
		if err != nil {
			return fmt.Errorf("eventlog: create stream %s: %w", StreamDomainEvents, err)
		}
	}
	return nil
}
