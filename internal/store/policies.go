package store

import (
	"context"
	"database/sql"

	"github.com/agentrails/agentrailsd/internal/types"
)

// GetPolicy resolves the effective AutomationPolicy for a directory's
// repository/project chain, applying repository > project > global
// precedence (spec.md section 3). Absent any row at a given level, that
// level is treated as "no opinion" and the search continues downward;
// if nothing is configured at all, automation defaults enabled and
// unfrozen.
func (s *Store) GetPolicy(ctx context.Context, scope types.Scope, repositoryID, projectID string) (types.AutomationPolicy, error) {
	if repositoryID != "" {
		if p, ok, err := s.lookupPolicy(ctx, scope, types.PolicyScopeRepository, repositoryID); err != nil {
			return types.AutomationPolicy{}, err
		} else if ok {
			return p, nil
		}
	}
	if projectID != "" {
		if p, ok, err := s.lookupPolicy(ctx, scope, types.PolicyScopeProject, projectID); err != nil {
			return types.AutomationPolicy{}, err
		} else if ok {
			return p, nil
		}
	}
	if p, ok, err := s.lookupPolicy(ctx, scope, types.PolicyScopeGlobal, ""); err != nil {
		return types.AutomationPolicy{}, err
	} else if ok {
		return p, nil
	}
	return types.AutomationPolicy{
		Scope: scope, ScopeKind: types.PolicyScopeGlobal, AutomationEnabled: true, Frozen: false,
	}, nil
}

func (s *Store) lookupPolicy(ctx context.Context, scope types.Scope, kind types.PolicyScopeKind, scopeID string) (types.AutomationPolicy, bool, error) {
	var enabled, frozen int
	err := s.db.QueryRowContext(ctx, `
		SELECT automation_enabled, frozen FROM automation_policies
		WHERE tenant_id = ? AND user_id = ? AND workspace_id = ? AND scope_kind = ? AND scope_id = ?
	`, scope.TenantID, scope.UserID, scope.WorkspaceID, string(kind), scopeID).Scan(&enabled, &frozen)
	if err == sql.ErrNoRows {
		return types.AutomationPolicy{}, false, nil
	}
	if err != nil {
		return types.AutomationPolicy{}, false, wrapDBError("lookup policy", err)
	}
	return types.AutomationPolicy{
		Scope: scope, ScopeKind: kind, ScopeID: scopeID,
		AutomationEnabled: enabled != 0, Frozen: frozen != 0,
	}, true, nil
}

// SetPolicy upserts a policy row at the given scope level.
func (s *Store) SetPolicy(ctx context.Context, p types.AutomationPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO automation_policies (tenant_id, user_id, workspace_id, scope_kind, scope_id, automation_enabled, frozen)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, user_id, workspace_id, scope_kind, scope_id)
		DO UPDATE SET automation_enabled = excluded.automation_enabled, frozen = excluded.frozen
	`, p.Scope.TenantID, p.Scope.UserID, p.Scope.WorkspaceID, string(p.ScopeKind), p.ScopeID, boolInt(p.AutomationEnabled), boolInt(p.Frozen))
	return wrapDBError("set policy", err)
}

// GetProjectSettings returns a directory's settings, or the balanced
// defaults if none have been configured.
func (s *Store) GetProjectSettings(ctx context.Context, directoryID string) (types.ProjectSettings, error) {
	var pinned sql.NullString
	var focusMode, spawnMode string
	err := s.db.QueryRowContext(ctx, `
		SELECT pinned_branch, task_focus_mode, thread_spawn_mode FROM project_settings WHERE directory_id = ?
	`, directoryID).Scan(&pinned, &focusMode, &spawnMode)
	if err == sql.ErrNoRows {
		return types.ProjectSettings{
			DirectoryID: directoryID, TaskFocusMode: types.FocusBalanced, ThreadSpawnMode: types.SpawnNewThread,
		}, nil
	}
	if err != nil {
		return types.ProjectSettings{}, wrapDBError("get project settings", err)
	}
	return types.ProjectSettings{
		DirectoryID: directoryID, PinnedBranch: pinned.String,
		TaskFocusMode: types.TaskFocusMode(focusMode), ThreadSpawnMode: types.ThreadSpawnMode(spawnMode),
	}, nil
}

// SetProjectSettings upserts a directory's settings.
func (s *Store) SetProjectSettings(ctx context.Context, settings types.ProjectSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO project_settings (directory_id, pinned_branch, task_focus_mode, thread_spawn_mode)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (directory_id) DO UPDATE SET
			pinned_branch = excluded.pinned_branch,
			task_focus_mode = excluded.task_focus_mode,
			thread_spawn_mode = excluded.thread_spawn_mode
	`, settings.DirectoryID, nullableString(settings.PinnedBranch), string(settings.TaskFocusMode), string(settings.ThreadSpawnMode))
	return wrapDBError("set project settings", err)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
