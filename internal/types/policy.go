package types

// PolicyScopeKind is the level an AutomationPolicy applies at. Precedence
// when resolving the effective policy for a directory is repository >
// project > global (spec.md section 3).
type PolicyScopeKind string

const (
	PolicyScopeGlobal     PolicyScopeKind = "global"
	PolicyScopeProject    PolicyScopeKind = "project"
	PolicyScopeRepository PolicyScopeKind = "repository"
)

// AutomationPolicy gates whether automation may act, and whether the gate
// itself is frozen (temporarily un-overridable).
type AutomationPolicy struct {
	Scope             Scope
	ScopeKind         PolicyScopeKind
	ScopeID           string
	AutomationEnabled bool
	Frozen            bool
}

// ThreadSpawnMode controls whether a directory's automation reuses the
// existing PTY session for a new task or opens a fresh one.
type ThreadSpawnMode string

const (
	SpawnNewThread   ThreadSpawnMode = "new-thread"
	SpawnReuseThread ThreadSpawnMode = "reuse-thread"
)

// TaskFocusMode controls whether a directory's task.pull considers tasks
// beyond the ones it already owns.
type TaskFocusMode string

const (
	FocusBalanced TaskFocusMode = "balanced"
	FocusOwnOnly  TaskFocusMode = "own-only"
)

// ProjectSettings is per-directory configuration.
type ProjectSettings struct {
	DirectoryID     string
	PinnedBranch    string
	TaskFocusMode   TaskFocusMode
	ThreadSpawnMode ThreadSpawnMode
}
