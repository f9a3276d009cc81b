package dispatch

import (
	"context"
	"encoding/json"

	"github.com/agentrails/agentrailsd/internal/types"
)

func (d *Dispatcher) repositoryUpsert(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var req repositoryUpsertRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	repo, err := d.Store.UpsertRepository(ctx, req.Scope, req.Repository)
	if err != nil {
		return nil, translate("repository", err)
	}
	if repo.RemoteURL == "" {
		return nil, types.ErrMalformedRepository
	}
	return marshalResult(repo)
}

func (d *Dispatcher) repositoryGet(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var req repositoryGetRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	repo, err := d.Store.GetRepository(ctx, req.Scope, req.RepositoryID)
	if err != nil {
		return nil, translate("repository", err)
	}
	return marshalResult(repo)
}

func (d *Dispatcher) repositoryUpdate(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var req repositoryUpdateRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	repo, err := d.Store.UpdateRepository(ctx, req.Scope, req.RepositoryID, req.Patch)
	if err != nil {
		return nil, translate("repository", err)
	}
	return marshalResult(repo)
}

func (d *Dispatcher) repositoryArchive(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var req repositoryArchiveRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	if err := d.Store.ArchiveRepository(ctx, req.Scope, req.RepositoryID); err != nil {
		return nil, translate("repository", err)
	}
	return marshalResult(struct{}{})
}

func (d *Dispatcher) repositoryList(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var req repositoryListRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	repos, err := d.Store.ListRepositories(ctx, types.RepositoryFilter{Scope: req.Scope, IncludeArchived: req.IncludeArchived})
	if err != nil {
		return nil, translate("repository", err)
	}
	return marshalResult(struct {
		Repositories []types.Repository `json:"repositories"`
	}{repos})
}
