package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/agentrails/agentrailsd/internal/store"
	"github.com/agentrails/agentrailsd/internal/types"
)

func (d *Dispatcher) taskCreate(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var req taskCreateRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	t, err := d.Store.CreateTask(ctx, req.Scope, req.Task)
	if err != nil {
		return nil, translate("task", err)
	}
	return marshalResult(t)
}

func (d *Dispatcher) taskUpdate(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var req taskUpdateRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	t, err := d.Store.UpdateTask(ctx, req.Scope, req.TaskID, req.Patch)
	if err != nil {
		return nil, translate("task", err)
	}
	return marshalResult(t)
}

func (d *Dispatcher) taskDelete(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var req taskIDRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	if err := d.Store.DeleteTask(ctx, req.Scope, req.TaskID); err != nil {
		return nil, translate("task", err)
	}
	return marshalResult(struct{}{})
}

// taskTransition backs task.ready/task.draft/task.queue/task.complete,
// which all share the same shape: a task id in, the updated task out.
func (d *Dispatcher) taskTransition(ctx context.Context, raw json.RawMessage, transition func(context.Context, types.Scope, string) (types.Task, error)) (json.RawMessage, error) {
	var req taskIDRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	t, err := transition(ctx, req.Scope, req.TaskID)
	if err != nil {
		return nil, translate("task", err)
	}
	return marshalResult(t)
}

func (d *Dispatcher) taskClaim(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var req taskClaimRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	t, err := d.Store.ClaimTask(ctx, req.Scope, req.TaskID, req.ControllerID, req.DirectoryID, req.BranchName, req.BaseBranch)
	if err != nil {
		if errors.Is(err, store.ErrAlreadyClaimed) {
			return nil, fmt.Errorf("task already claimed: %s", req.TaskID)
		}
		return nil, translate("task", err)
	}
	return marshalResult(t)
}

func (d *Dispatcher) taskPull(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var req taskPullRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	if req.DirectoryID == "" && req.RepositoryID == "" {
		return nil, types.ErrMissingScope
	}
	result, err := d.Store.PullTask(ctx, types.TaskPullRequest{
		Scope: req.Scope, ControllerID: req.ControllerID, DirectoryID: req.DirectoryID, RepositoryID: req.RepositoryID,
	}, d.Supervisor.OccupancyChecker(ctx))
	if err != nil {
		return nil, translate("task", err)
	}
	return marshalResult(result)
}

func (d *Dispatcher) taskReorder(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var req taskReorderRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	if err := d.Store.ReorderTasks(ctx, req.IDs); err != nil {
		return nil, translate("task", err)
	}
	return marshalResult(struct{}{})
}

func (d *Dispatcher) taskList(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var req taskListRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	tasks, err := d.Store.ListTasks(ctx, types.TaskFilter{
		Scope: &req.Scope, RepositoryID: req.RepositoryID, ProjectID: req.ProjectID, Status: req.Status,
	})
	if err != nil {
		return nil, translate("task", err)
	}
	return marshalResult(struct {
		Tasks []types.Task `json:"tasks"`
	}{tasks})
}

func (d *Dispatcher) taskGet(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var req taskIDRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	tasks, err := d.Store.ListTasks(ctx, types.TaskFilter{Scope: &req.Scope})
	if err != nil {
		return nil, translate("task", err)
	}
	for _, t := range tasks {
		if t.ID == req.TaskID {
			return marshalResult(t)
		}
	}
	return nil, types.ErrTaskNotFound
}
