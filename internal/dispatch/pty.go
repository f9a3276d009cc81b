package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentrails/agentrailsd/internal/ptysession"
	"github.com/agentrails/agentrailsd/internal/supervisor"
	"github.com/agentrails/agentrailsd/internal/types"
)

func (d *Dispatcher) ptyStart(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var req ptyStartRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	conv, err := d.Supervisor.StartSession(ctx, supervisor.StartRequest{
		ConversationID:  req.SessionID,
		Scope:           req.Scope,
		AgentType:       req.AgentType,
		Args:            req.Args,
		Env:             req.Env,
		Cols:            req.InitialCols,
		Rows:            req.InitialRows,
		ResumeSessionID: req.ResumeSessionID,
	})
	if err != nil {
		return nil, translate("conversation", err)
	}
	return marshalResult(conv)
}

func (d *Dispatcher) ptyAttach(raw json.RawMessage, sink OutputSink) (json.RawMessage, error) {
	var req ptyAttachRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	if sink == nil {
		return nil, fmt.Errorf("pty.attach requires an active connection")
	}
	attachID, err := d.Supervisor.Attach(req.SessionID, req.SinceCursor, func(c ptysession.Chunk) {
		sink.EmitPTYOutput(req.SessionID, c.Cursor, c.Data)
	}, func(ev types.SessionEventPayload) {
		if ev.Type == types.SessionEventExit && ev.Exit != nil {
			sink.EmitPTYExit(req.SessionID, *ev.Exit)
			return
		}
		raw, err := json.Marshal(ev)
		if err != nil {
			return
		}
		sink.EmitPTYEvent(req.SessionID, raw)
	})
	if err != nil {
		return nil, translate("conversation", err)
	}
	return marshalResult(struct {
		AttachmentID string `json:"attachmentId"`
	}{attachID})
}

func (d *Dispatcher) ptyDetach(raw json.RawMessage) (json.RawMessage, error) {
	var req ptyDetachRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	d.Supervisor.Detach(req.SessionID, req.AttachmentID)
	return marshalResult(struct{}{})
}

// ptySubscribeEvents is a convenience wrapper over the Subscription
// Router scoped to a single session's typed events (spec.md section
// 4.E), sharing its fan-out and replay machinery with stream.subscribe
// rather than duplicating it.
func (d *Dispatcher) ptySubscribeEvents(connID string, sink OutputSink, raw json.RawMessage) (json.RawMessage, error) {
	var req ptySubscribeEventsRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	if sink == nil {
		return nil, fmt.Errorf("pty.subscribe-events requires an active connection")
	}
	handle := d.Router.Subscribe(connID, types.SubscriptionFilter{ConversationID: req.SessionID}, false, req.AfterCursor)
	go pumpSubscription(handle, sink)
	return marshalResult(struct {
		SubscriptionID string `json:"subscriptionId"`
		Cursor         int64  `json:"cursor"`
	}{handle.ID, handle.Cursor})
}

func (d *Dispatcher) ptyUnsubscribeEvents(raw json.RawMessage) (json.RawMessage, error) {
	var req ptyUnsubscribeEventsRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	if !validSubscriptionID(req.SubscriptionID) {
		return nil, types.ErrMalformedSubscription
	}
	d.Router.Unsubscribe(req.SubscriptionID)
	return marshalResult(struct{}{})
}

func (d *Dispatcher) ptyClose(raw json.RawMessage) (json.RawMessage, error) {
	var req ptyCloseRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	if err := d.Supervisor.Close(req.SessionID); err != nil {
		return nil, err
	}
	return marshalResult(struct{}{})
}
