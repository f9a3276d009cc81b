package store

// schema is applied with CREATE TABLE IF NOT EXISTS on every Open, so it
// doubles as the only "migration" a fresh database needs. Column names
// are snake_case to match the teacher's sqlite convention; Go-side
// structs use the camelCase json tags the wire protocol expects.
const schema = `
CREATE TABLE IF NOT EXISTS directories (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	workspace_id TEXT NOT NULL,
	path TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	archived_at INTEGER
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_directories_scope_path
	ON directories(tenant_id, user_id, workspace_id, path)
	WHERE archived_at IS NULL;

CREATE TABLE IF NOT EXISTS repositories (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	workspace_id TEXT NOT NULL,
	name TEXT NOT NULL,
	remote_url TEXT NOT NULL,
	default_branch TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at INTEGER NOT NULL,
	archived_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_repositories_scope ON repositories(tenant_id, user_id, workspace_id);

CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	workspace_id TEXT NOT NULL,
	worktree_id TEXT NOT NULL DEFAULT '',
	directory_id TEXT,
	title TEXT NOT NULL DEFAULT '',
	agent_type TEXT NOT NULL,
	adapter_state TEXT NOT NULL DEFAULT '{}',
	runtime_status TEXT NOT NULL DEFAULT 'idle',
	runtime_live INTEGER NOT NULL DEFAULT 0,
	attention_reason TEXT,
	runtime_process_id INTEGER,
	runtime_last_event_at INTEGER,
	runtime_last_exit_code INTEGER,
	runtime_last_exit_signal TEXT,
	created_at INTEGER NOT NULL,
	archived_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_conversations_directory ON conversations(directory_id);
CREATE INDEX IF NOT EXISTS idx_conversations_scope ON conversations(tenant_id, user_id, workspace_id);

CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	workspace_id TEXT NOT NULL,
	repository_id TEXT,
	project_id TEXT,
	title TEXT NOT NULL,
	body TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'draft',
	order_index INTEGER NOT NULL DEFAULT 0,
	claimed_by_controller_id TEXT,
	claimed_by_directory_id TEXT,
	branch_name TEXT,
	base_branch TEXT,
	linear_metadata TEXT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	completed_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_tasks_scope_status ON tasks(tenant_id, user_id, workspace_id, status, order_index);
CREATE INDEX IF NOT EXISTS idx_tasks_repository ON tasks(repository_id, status, order_index);
CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project_id, status, order_index);

CREATE TABLE IF NOT EXISTS automation_policies (
	scope_kind TEXT NOT NULL,
	scope_id TEXT NOT NULL DEFAULT '',
	tenant_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	workspace_id TEXT NOT NULL,
	automation_enabled INTEGER NOT NULL DEFAULT 1,
	frozen INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (tenant_id, user_id, workspace_id, scope_kind, scope_id)
);

CREATE TABLE IF NOT EXISTS project_settings (
	directory_id TEXT PRIMARY KEY,
	pinned_branch TEXT,
	task_focus_mode TEXT NOT NULL DEFAULT 'balanced',
	thread_spawn_mode TEXT NOT NULL DEFAULT 'new-thread'
);
`
