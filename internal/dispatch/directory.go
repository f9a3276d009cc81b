package dispatch

import (
	"context"
	"encoding/json"

	"github.com/agentrails/agentrailsd/internal/types"
)

func (d *Dispatcher) directoryUpsert(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var req directoryUpsertRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	dir, err := d.Store.UpsertDirectory(ctx, req.Scope, req.Path)
	if err != nil {
		return nil, translate("directory", err)
	}
	return marshalResult(dir)
}

func (d *Dispatcher) directoryArchive(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var req directoryArchiveRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	if err := d.Store.ArchiveDirectory(ctx, req.Scope, req.DirectoryID); err != nil {
		return nil, translate("directory", err)
	}
	return marshalResult(struct{}{})
}

func (d *Dispatcher) directoryList(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var req directoryListRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	dirs, err := d.Store.ListDirectories(ctx, types.DirectoryFilter{Scope: req.Scope, IncludeArchived: req.IncludeArchived})
	if err != nil {
		return nil, translate("directory", err)
	}
	return marshalResult(struct {
		Directories []types.Directory `json:"directories"`
	}{dirs})
}

func (d *Dispatcher) directoryGitStatus(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var req directoryGitStatusRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	dir, err := d.Store.GetDirectory(ctx, req.DirectoryID)
	if err != nil {
		return nil, translate("directory", err)
	}
	snap := d.Supervisor.RefreshGitStatus(ctx, dir.Scope, req.DirectoryID, dir.Path)
	return marshalResult(snap)
}
