package dispatch

import (
	"context"
	"encoding/json"
)

// github.* commands hand off to the injected GitHubClient rather than
// touching the Store or Supervisor directly: spec.md section 1 treats
// GitHub as an external collaborator the daemon only summarizes state
// from, never the system of record.

func (d *Dispatcher) githubPRCreate(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var req githubPRCreateRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	result, err := d.GitHub.CreatePR(ctx, req.RepositoryID, req.Title, req.Body, req.Head, req.Base)
	if err != nil {
		return nil, err
	}
	return marshalResult(result)
}

func (d *Dispatcher) githubProjectPR(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var req githubProjectPRRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	result, err := d.GitHub.ProjectPR(ctx, req.DirectoryID, req.TaskID)
	if err != nil {
		return nil, err
	}
	return marshalResult(result)
}
