package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/agentrails/agentrailsd/internal/types"
)

// OccupancyChecker lets the task pull algorithm consult live session
// state the Store itself does not own. The Session Supervisor
// implements this; store depends only on the interface so pull logic
// stays in one place without an import cycle.
type OccupancyChecker interface {
	// DirectoryOccupied reports whether directoryID already has a live,
	// claimed controller working a task.
	DirectoryOccupied(directoryID string) bool
	// WorkingTreeDirty reports whether directoryID's working tree has
	// uncommitted changes (from the last GitStatusSnapshot).
	WorkingTreeDirty(directoryID string) bool
	// DirectoryTracked reports whether directoryID corresponds to a
	// known, non-archived Directory row.
	DirectoryTracked(directoryID string) bool
	// CurrentBranch reports directoryID's checked-out branch from the
	// last GitStatusSnapshot, and whether one has been cached at all.
	CurrentBranch(directoryID string) (string, bool)
	// DirectoryRepository reports the repository id directoryID's
	// working tree was last matched against, and whether a match has
	// been cached at all.
	DirectoryRepository(directoryID string) (string, bool)
}

// CreateTask inserts a new task in draft status.
func (s *Store) CreateTask(ctx context.Context, scope types.Scope, t types.Task) (types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	t.ID = newID("task")
	t.Scope = scope
	t.Status = types.TaskDraft
	t.CreatedAt = now
	t.UpdatedAt = now

	linearJSON, err := marshalLinear(t.Linear)
	if err != nil {
		return types.Task{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, tenant_id, user_id, workspace_id, repository_id, project_id, title, body,
			status, order_index, branch_name, base_branch, linear_metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, scope.TenantID, scope.UserID, scope.WorkspaceID, nullableString(t.RepositoryID), nullableString(t.ProjectID),
		t.Title, t.Body, string(t.Status), t.OrderIndex, nullableString(t.BranchName), nullableString(t.BaseBranch),
		linearJSON, now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return types.Task{}, wrapDBError("create task", err)
	}

	if err := s.emitTaskEvent(types.EventTaskCreated, scope, t); err != nil {
		return types.Task{}, err
	}
	return t, nil
}

// UpdateTask applies a partial patch.
func (s *Store) UpdateTask(ctx context.Context, scope types.Scope, id string, patch types.TaskPatch) (types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.getTaskLocked(ctx, id)
	if err != nil {
		return types.Task{}, err
	}
	if patch.Title != nil {
		t.Title = *patch.Title
	}
	if patch.Body != nil {
		t.Body = *patch.Body
	}
	if patch.OrderIndex != nil {
		t.OrderIndex = *patch.OrderIndex
	}
	if patch.BranchName != nil {
		t.BranchName = *patch.BranchName
	}
	if patch.BaseBranch != nil {
		t.BaseBranch = *patch.BaseBranch
	}
	t.UpdatedAt = time.Now()

	if err := s.writeTaskLocked(ctx, t); err != nil {
		return types.Task{}, err
	}
	if err := s.emitTaskEvent(types.EventTaskUpdated, scope, t); err != nil {
		return types.Task{}, err
	}
	return t, nil
}

// DeleteTask permanently removes a task.
func (s *Store) DeleteTask(ctx context.Context, scope types.Scope, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return wrapDBError("delete task", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("delete task %s: %w", id, ErrNotFound)
	}
	_, err = s.emit(types.Event{Kind: types.EventTaskDeleted, Scope: scope, TaskID: id, ObservedAt: time.Now().UnixMilli()})
	return err
}

// ReadyTask transitions a draft task to ready.
func (s *Store) ReadyTask(ctx context.Context, scope types.Scope, id string) (types.Task, error) {
	return s.setTaskStatus(ctx, scope, id, types.TaskReady)
}

// DraftTask transitions a task back to draft (e.g. pulled off the
// ready queue for rework).
func (s *Store) DraftTask(ctx context.Context, scope types.Scope, id string) (types.Task, error) {
	return s.setTaskStatus(ctx, scope, id, types.TaskDraft)
}

// QueueTask is an alias transition back to ready used by the queue
// command, distinct from readyTask only in the caller's intent.
func (s *Store) QueueTask(ctx context.Context, scope types.Scope, id string) (types.Task, error) {
	return s.setTaskStatus(ctx, scope, id, types.TaskReady)
}

// CompleteTask marks a task completed and releases its claim.
func (s *Store) CompleteTask(ctx context.Context, scope types.Scope, id string) (types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.getTaskLocked(ctx, id)
	if err != nil {
		return types.Task{}, err
	}
	t.Status = types.TaskCompleted
	t.ClaimedByControllerID = ""
	t.ClaimedByDirectoryID = ""
	t.UpdatedAt = time.Now()

	if err := s.writeTaskLocked(ctx, t); err != nil {
		return types.Task{}, err
	}
	if err := s.emitTaskEvent(types.EventTaskUpdated, scope, t); err != nil {
		return types.Task{}, err
	}
	return t, nil
}

func (s *Store) setTaskStatus(ctx context.Context, scope types.Scope, id string, status types.TaskStatus) (types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.getTaskLocked(ctx, id)
	if err != nil {
		return types.Task{}, err
	}
	t.Status = status
	t.UpdatedAt = time.Now()

	if err := s.writeTaskLocked(ctx, t); err != nil {
		return types.Task{}, err
	}
	if err := s.emitTaskEvent(types.EventTaskUpdated, scope, t); err != nil {
		return types.Task{}, err
	}
	return t, nil
}

// ClaimTask atomically assigns a ready task to a controller. Fails with
// ErrAlreadyClaimed if the task is not in the ready state by the time
// the claim lands (another controller won the race).
func (s *Store) ClaimTask(ctx context.Context, scope types.Scope, taskID, controllerID, directoryID, branchName, baseBranch string) (types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claimTaskLocked(ctx, scope, taskID, controllerID, directoryID, branchName, baseBranch)
}

func (s *Store) claimTaskLocked(ctx context.Context, scope types.Scope, taskID, controllerID, directoryID, branchName, baseBranch string) (types.Task, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, claimed_by_controller_id = ?, claimed_by_directory_id = ?,
			branch_name = ?, base_branch = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(types.TaskInProgress), controllerID, nullableString(directoryID),
		nullableString(branchName), nullableString(baseBranch), time.Now().UnixMilli(), taskID, string(types.TaskReady))
	if err != nil {
		return types.Task{}, wrapDBError("claim task", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return types.Task{}, fmt.Errorf("claim task %s: %w", taskID, ErrAlreadyClaimed)
	}

	t, err := s.getTaskLocked(ctx, taskID)
	if err != nil {
		return types.Task{}, err
	}
	if err := s.emitTaskEvent(types.EventTaskUpdated, scope, t); err != nil {
		return types.Task{}, err
	}
	return t, nil
}

// ReorderTasks rewrites orderIndex for a list of task ids, in the order
// given.
func (s *Store) ReorderTasks(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, id := range ids {
		if _, err := s.db.ExecContext(ctx, `UPDATE tasks SET order_index = ?, updated_at = ? WHERE id = ?`, i, time.Now().UnixMilli(), id); err != nil {
			return wrapDBError("reorder tasks", err)
		}
	}
	return nil
}

// ListTasks returns tasks matching filter, ordered by orderIndex.
func (s *Store) ListTasks(ctx context.Context, filter types.TaskFilter) ([]types.Task, error) {
	query := `
		SELECT id, tenant_id, user_id, workspace_id, repository_id, project_id, title, body, status,
			order_index, claimed_by_controller_id, claimed_by_directory_id, branch_name, base_branch,
			linear_metadata, created_at, updated_at
		FROM tasks WHERE 1=1
	`
	var args []interface{}
	if filter.Scope != nil {
		query += ` AND tenant_id = ? AND user_id = ? AND workspace_id = ?`
		args = append(args, filter.Scope.TenantID, filter.Scope.UserID, filter.Scope.WorkspaceID)
	}
	if filter.RepositoryID != "" {
		query += ` AND repository_id = ?`
		args = append(args, filter.RepositoryID)
	}
	if filter.ProjectID != "" {
		query += ` AND project_id = ?`
		args = append(args, filter.ProjectID)
	}
	if filter.Status != nil {
		query += ` AND status = ?`
		args = append(args, string(*filter.Status))
	}
	query += ` ORDER BY order_index ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("list tasks", err)
	}
	defer rows.Close()

	var out []types.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, wrapDBError("iterate tasks", rows.Err())
}

// PullTask runs the task pull priority algorithm (spec.md section 4.B):
// project-scoped tasks for directoryId first, then repository-scoped
// tasks for req.RepositoryID, then global tasks, claiming the first
// ready candidate that is not blocked. A repository-tier task is
// claimed for req.DirectoryID as given; no other directory of the
// repository is chosen for it.
func (s *Store) PullTask(ctx context.Context, req types.TaskPullRequest, occ OccupancyChecker) (types.TaskPullResult, error) {
	if req.DirectoryID != "" && !occ.DirectoryTracked(req.DirectoryID) {
		return types.TaskPullResult{Availability: types.BlockedUntracked}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ownOnly := false
	if req.DirectoryID != "" {
		dir, err := s.GetDirectory(ctx, req.DirectoryID)
		if err != nil {
			return types.TaskPullResult{}, err
		}
		if dir.Scope != req.Scope {
			return types.TaskPullResult{}, fmt.Errorf("pull task: directory %s: %w", req.DirectoryID, ErrScopeMismatch)
		}

		blocked, reason, own := s.directoryBlocked(ctx, req.Scope, req.DirectoryID, occ)
		if blocked {
			return types.TaskPullResult{Availability: reason}, nil
		}
		ownOnly = own

		projectID := req.DirectoryID
		if res, ok, err := s.claimBestReady(ctx, req, "project_id", projectID); err != nil || ok {
			return res, err
		}
	}

	// A directory in own-only focus mode never fans out to repository
	// or global tiers; it only ever pulls tasks scoped directly to it.
	if ownOnly {
		return types.TaskPullResult{Reason: "no ready task matching own-only focus"}, nil
	}

	if req.RepositoryID != "" {
		if req.DirectoryID != "" {
			if repoID, ok := occ.DirectoryRepository(req.DirectoryID); ok && repoID != req.RepositoryID {
				return types.TaskPullResult{Availability: types.BlockedRepositoryMismatch}, nil
			}
		}
		if res, ok, err := s.claimBestReady(ctx, req, "repository_id", req.RepositoryID); err != nil || ok {
			return res, err
		}
	}

	if res, ok, err := s.claimGlobalReady(ctx, req); err != nil || ok {
		return res, err
	}

	return types.TaskPullResult{Reason: "no ready task available for scope"}, nil
}

// claimBestReady finds ready tasks matching column=value ordered by
// orderIndex and attempts to claim the first one, retrying within the
// tier if a concurrent claim wins the race (spec.md: "on AlreadyClaimed
// the dispatcher retries with the next candidate in the same tier").
func (s *Store) claimBestReady(ctx context.Context, req types.TaskPullRequest, column, value string) (types.TaskPullResult, bool, error) {
	query := fmt.Sprintf(`
		SELECT id FROM tasks
		WHERE tenant_id = ? AND user_id = ? AND workspace_id = ? AND %s = ? AND status = ?
		ORDER BY order_index ASC
	`, column)
	rows, err := s.db.QueryContext(ctx, query, req.Scope.TenantID, req.Scope.UserID, req.Scope.WorkspaceID, value, string(types.TaskReady))
	if err != nil {
		return types.TaskPullResult{}, false, wrapDBError("query ready tasks", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return types.TaskPullResult{}, false, wrapDBError("scan ready task id", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return types.TaskPullResult{}, false, wrapDBError("iterate ready tasks", err)
	}

	for _, id := range ids {
		t, err := s.claimTaskLocked(ctx, req.Scope, id, req.ControllerID, req.DirectoryID, "", "")
		if err != nil {
			if isAlreadyClaimed(err) {
				continue
			}
			return types.TaskPullResult{}, false, err
		}
		return types.TaskPullResult{Task: &t}, true, nil
	}
	return types.TaskPullResult{}, false, nil
}

func (s *Store) claimGlobalReady(ctx context.Context, req types.TaskPullRequest) (types.TaskPullResult, bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM tasks
		WHERE tenant_id = ? AND user_id = ? AND workspace_id = ? AND repository_id IS NULL AND project_id IS NULL AND status = ?
		ORDER BY order_index ASC
	`, req.Scope.TenantID, req.Scope.UserID, req.Scope.WorkspaceID, string(types.TaskReady))
	if err != nil {
		return types.TaskPullResult{}, false, wrapDBError("query global ready tasks", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return types.TaskPullResult{}, false, wrapDBError("scan global ready task id", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return types.TaskPullResult{}, false, wrapDBError("iterate global ready tasks", err)
	}

	for _, id := range ids {
		t, err := s.claimTaskLocked(ctx, req.Scope, id, req.ControllerID, req.DirectoryID, "", "")
		if err != nil {
			if isAlreadyClaimed(err) {
				continue
			}
			return types.TaskPullResult{}, false, err
		}
		return types.TaskPullResult{Task: &t}, true, nil
	}
	return types.TaskPullResult{}, false, nil
}

// directoryBlocked checks policy/settings/occupancy gates that apply
// before even looking for a ready task. The third return value reports
// whether the directory is in own-only focus mode, which the caller
// uses to skip the repository/global fan-out tiers entirely.
func (s *Store) directoryBlocked(ctx context.Context, scope types.Scope, directoryID string, occ OccupancyChecker) (bool, types.BlockedReason, bool) {
	settings, err := s.GetProjectSettings(ctx, directoryID)
	ownOnly := err == nil && settings.TaskFocusMode == types.FocusOwnOnly

	policy, err := s.GetPolicy(ctx, scope, "", directoryID)
	if err == nil {
		if policy.Frozen {
			return true, types.BlockedFrozen, ownOnly
		}
		if !policy.AutomationEnabled {
			return true, types.BlockedDisabled, ownOnly
		}
	}
	if occ.WorkingTreeDirty(directoryID) {
		return true, types.BlockedDirty, ownOnly
	}
	if occ.DirectoryOccupied(directoryID) {
		return true, types.BlockedOccupied, ownOnly
	}
	if branch, ok := occ.CurrentBranch(directoryID); ok && settings.PinnedBranch != "" && branch != settings.PinnedBranch {
		return true, types.BlockedPinnedBranch, ownOnly
	}
	return false, "", ownOnly
}

func isAlreadyClaimed(err error) bool {
	return errors.Is(err, ErrAlreadyClaimed)
}

func (s *Store) getTaskLocked(ctx context.Context, id string) (types.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, user_id, workspace_id, repository_id, project_id, title, body, status,
			order_index, claimed_by_controller_id, claimed_by_directory_id, branch_name, base_branch,
			linear_metadata, created_at, updated_at
		FROM tasks WHERE id = ?
	`, id)
	return scanTask(row)
}

func (s *Store) writeTaskLocked(ctx context.Context, t types.Task) error {
	linearJSON, err := marshalLinear(t.Linear)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE tasks SET title = ?, body = ?, status = ?, order_index = ?, claimed_by_controller_id = ?,
			claimed_by_directory_id = ?, branch_name = ?, base_branch = ?, linear_metadata = ?, updated_at = ?
		WHERE id = ?
	`, t.Title, t.Body, string(t.Status), t.OrderIndex, nullableString(t.ClaimedByControllerID),
		nullableString(t.ClaimedByDirectoryID), nullableString(t.BranchName), nullableString(t.BaseBranch),
		linearJSON, t.UpdatedAt.UnixMilli(), t.ID)
	return wrapDBError("write task", err)
}

func (s *Store) emitTaskEvent(kind types.StreamEventKind, scope types.Scope, t types.Task) error {
	payload, _ := json.Marshal(t)
	_, err := s.emit(types.Event{
		Kind: kind, Scope: scope, TaskID: t.ID, RepositoryID: t.RepositoryID,
		ObservedAt: t.UpdatedAt.UnixMilli(), Payload: payload,
	})
	return err
}

func scanTask(row rowScanner) (types.Task, error) {
	var t types.Task
	var repositoryID, projectID, claimedController, claimedDirectory, branchName, baseBranch, linearJSON sql.NullString
	var status string
	var createdAt, updatedAt int64

	err := row.Scan(&t.ID, &t.Scope.TenantID, &t.Scope.UserID, &t.Scope.WorkspaceID, &repositoryID, &projectID,
		&t.Title, &t.Body, &status, &t.OrderIndex, &claimedController, &claimedDirectory, &branchName, &baseBranch,
		&linearJSON, &createdAt, &updatedAt)
	if err != nil {
		return types.Task{}, wrapDBError("scan task", err)
	}

	t.RepositoryID = repositoryID.String
	t.ProjectID = projectID.String
	t.Status = types.TaskStatus(status)
	t.ClaimedByControllerID = claimedController.String
	t.ClaimedByDirectoryID = claimedDirectory.String
	t.BranchName = branchName.String
	t.BaseBranch = baseBranch.String
	if linearJSON.Valid && linearJSON.String != "" {
		var lm types.LinearMetadata
		if err := json.Unmarshal([]byte(linearJSON.String), &lm); err == nil {
			t.Linear = &lm
		}
	}
	t.CreatedAt = time.UnixMilli(createdAt)
	t.UpdatedAt = time.UnixMilli(updatedAt)
	return t, nil
}

func marshalLinear(lm *types.LinearMetadata) (interface{}, error) {
	if lm == nil {
		return nil, nil
	}
	b, err := json.Marshal(lm)
	if err != nil {
		return nil, fmt.Errorf("store: marshal linear metadata: %w", err)
	}
	return string(b), nil
}
