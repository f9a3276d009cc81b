package types

// Scope identifies the tenant/user/workspace triple every entity and
// subscription filter carries. Worktree is optional, used by automations
// that shard further within a workspace.
type Scope struct {
	TenantID    string `json:"tenantId"`
	UserID      string `json:"userId"`
	WorkspaceID string `json:"workspaceId"`
	WorktreeID  string `json:"worktreeId,omitempty"`
}

// Matches reports whether a filter scope matches a concrete event scope.
// Unspecified filter fields match all values, per spec.md section 4.E.
func (f Scope) Matches(s Scope) bool {
	if f.TenantID != "" && f.TenantID != s.TenantID {
		return false
	}
	if f.UserID != "" && f.UserID != s.UserID {
		return false
	}
	if f.WorkspaceID != "" && f.WorkspaceID != s.WorkspaceID {
		return false
	}
	if f.WorktreeID != "" && f.WorktreeID != s.WorktreeID {
		return false
	}
	return true
}
