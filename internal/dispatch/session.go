package dispatch

import (
	"context"
	"encoding/json"

	"github.com/agentrails/agentrailsd/internal/types"
)

type sessionStatusResponse struct {
	Conversation types.Conversation `json:"conversation"`
	Controller   *types.Controller  `json:"controller,omitempty"`
	Live         bool               `json:"live"`
}

func (d *Dispatcher) sessionStatus(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var req sessionIDRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	conv, err := d.Store.GetConversation(ctx, req.SessionID)
	if err != nil {
		return nil, translate("conversation", err)
	}
	return marshalResult(sessionStatusResponse{
		Conversation: conv,
		Controller:   d.Supervisor.Controller(req.SessionID),
		Live:         d.Supervisor.IsLive(req.SessionID),
	})
}

func (d *Dispatcher) sessionList(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var req sessionListRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	convs, err := d.Store.ListConversations(ctx, types.ConversationFilter{Scope: &req.Scope, DirectoryID: req.DirectoryID})
	if err != nil {
		return nil, translate("conversation", err)
	}
	out := make([]sessionStatusResponse, 0, len(convs))
	for _, c := range convs {
		out = append(out, sessionStatusResponse{
			Conversation: c,
			Controller:   d.Supervisor.Controller(c.ID),
			Live:         d.Supervisor.IsLive(c.ID),
		})
	}
	return marshalResult(struct {
		Sessions []sessionStatusResponse `json:"sessions"`
	}{out})
}

func (d *Dispatcher) sessionClaim(raw json.RawMessage, takeover bool) (json.RawMessage, error) {
	var req sessionClaimRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	var err error
	if takeover {
		err = d.Supervisor.Takeover(req.SessionID, req.ControllerID, req.ControllerType, req.ControllerLabel)
	} else {
		err = d.Supervisor.Claim(req.SessionID, req.ControllerID, req.ControllerType, req.ControllerLabel)
	}
	if err != nil {
		return nil, err
	}
	return marshalResult(d.Supervisor.Controller(req.SessionID))
}

func (d *Dispatcher) sessionRelease(raw json.RawMessage) (json.RawMessage, error) {
	var req sessionIDRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	d.Supervisor.Release(req.SessionID)
	return marshalResult(struct{}{})
}

func (d *Dispatcher) sessionRespond(raw json.RawMessage) (json.RawMessage, error) {
	var req sessionRespondRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	if err := d.Supervisor.Write(req.SessionID, []byte(req.Text+"\n")); err != nil {
		return nil, err
	}
	return marshalResult(struct{}{})
}

func (d *Dispatcher) sessionInterrupt(raw json.RawMessage) (json.RawMessage, error) {
	var req sessionInterruptRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	if err := d.Supervisor.Signal(req.SessionID, "SIGINT"); err != nil {
		return nil, err
	}
	return marshalResult(struct{}{})
}

func (d *Dispatcher) sessionRemove(raw json.RawMessage) (json.RawMessage, error) {
	var req sessionIDRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	d.Supervisor.Remove(req.SessionID)
	return marshalResult(struct{}{})
}
