package dispatch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentrails/agentrailsd/internal/router"
	"github.com/agentrails/agentrailsd/internal/types"
)

func (d *Dispatcher) streamSubscribe(connID string, sink OutputSink, raw json.RawMessage) (json.RawMessage, error) {
	var req streamSubscribeRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	if sink == nil {
		return nil, fmt.Errorf("stream.subscribe requires an active connection")
	}
	handle := d.Router.Subscribe(connID, req.Filter, req.IncludeOutput, req.AfterCursor)
	go pumpSubscription(handle, sink)
	return marshalResult(struct {
		SubscriptionID string `json:"subscriptionId"`
		Cursor         int64  `json:"cursor"`
	}{handle.ID, handle.Cursor})
}

func (d *Dispatcher) streamUnsubscribe(raw json.RawMessage) (json.RawMessage, error) {
	var req streamUnsubscribeRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	if !validSubscriptionID(req.SubscriptionID) {
		return nil, types.ErrMalformedSubscription
	}
	d.Router.Unsubscribe(req.SubscriptionID)
	return marshalResult(struct{}{})
}

// pumpSubscription drains handle.Events into sink until the Router
// closes the channel (explicit Unsubscribe or backpressure
// disconnect). Runs in its own goroutine for the lifetime of the
// subscription.
func pumpSubscription(handle router.Handle, sink OutputSink) {
	for se := range handle.Events {
		sink.EmitStreamEvent(se.SubscriptionID, se.Cursor, se.Event)
	}
}

// validSubscriptionID checks the shape idgen.NewEntityID("sub") mints,
// since the Router treats an unknown id as a harmless no-op and the
// wire protocol needs a distinct "malformed subscription id" error for
// ids that could never have been issued (spec.md section 7).
func validSubscriptionID(id string) bool {
	return strings.HasPrefix(id, "sub-") && len(id) > len("sub-")
}
