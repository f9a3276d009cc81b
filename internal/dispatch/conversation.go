package dispatch

import (
	"context"
	"encoding/json"

	"github.com/agentrails/agentrailsd/internal/types"
)

func (d *Dispatcher) conversationCreate(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var req conversationCreateRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	conv, err := d.Store.CreateConversation(ctx, req.Scope, req.DirectoryID, req.Title, req.AgentType)
	if err != nil {
		return nil, translate("conversation", err)
	}
	return marshalResult(conv)
}

func (d *Dispatcher) conversationUpdate(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var req conversationUpdateRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	conv, err := d.Store.UpdateConversation(ctx, req.Scope, req.ConversationID, req.Patch)
	if err != nil {
		return nil, translate("conversation", err)
	}
	return marshalResult(conv)
}

func (d *Dispatcher) conversationArchive(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var req conversationArchiveRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	if err := d.Store.ArchiveConversation(ctx, req.Scope, req.ConversationID); err != nil {
		return nil, translate("conversation", err)
	}
	return marshalResult(struct{}{})
}

func (d *Dispatcher) conversationDelete(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var req conversationDeleteRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	d.Supervisor.Remove(req.ConversationID)
	if err := d.Store.DeleteConversation(ctx, req.Scope, req.ConversationID); err != nil {
		return nil, translate("conversation", err)
	}
	return marshalResult(struct{}{})
}

func (d *Dispatcher) conversationList(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var req conversationListRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	convs, err := d.Store.ListConversations(ctx, types.ConversationFilter{
		Scope: &req.Scope, DirectoryID: req.DirectoryID, IncludeArchived: req.IncludeArchived,
	})
	if err != nil {
		return nil, translate("conversation", err)
	}
	return marshalResult(struct {
		Conversations []types.Conversation `json:"conversations"`
	}{convs})
}

func (d *Dispatcher) conversationTitleRefresh(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var req conversationTitleRefreshRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	if d.Namer == nil {
		return nil, types.ErrThreadNotFound
	}
	status, reason, title, err := d.Namer.RefreshTitle(ctx, req.ConversationID)
	if err != nil {
		return nil, translate("thread", err)
	}
	return marshalResult(struct {
		Status string `json:"status"`
		Reason string `json:"reason,omitempty"`
		Title  string `json:"title,omitempty"`
	}{status, reason, title})
}
