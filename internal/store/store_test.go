package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/agentrails/agentrailsd/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agentrailsd.db")
	st, err := Open(context.Background(), path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func testScope() types.Scope {
	return types.Scope{TenantID: "t1", UserID: "u1", WorkspaceID: "w1"}
}

func TestUpsertDirectoryIsIdempotent(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	scope := testScope()

	d1, err := st.UpsertDirectory(ctx, scope, "/repo/a")
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	d2, err := st.UpsertDirectory(ctx, scope, "/repo/a")
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if d1.ID != d2.ID {
		t.Fatalf("expected same directory id, got %s and %s", d1.ID, d2.ID)
	}

	dirs, err := st.ListDirectories(ctx, types.DirectoryFilter{Scope: scope})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(dirs) != 1 {
		t.Fatalf("expected 1 directory, got %d", len(dirs))
	}
}

func TestArchiveDirectoryNotFound(t *testing.T) {
	st := openTestStore(t)
	err := st.ArchiveDirectory(context.Background(), testScope(), "dir-missing")
	if !isNotFound(err) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTaskClaimRaceYieldsSingleWinner(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	scope := testScope()

	task, err := st.CreateTask(ctx, scope, types.Task{Title: "do the thing"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if _, err := st.ReadyTask(ctx, scope, task.ID); err != nil {
		t.Fatalf("ready task: %v", err)
	}

	if _, err := st.ClaimTask(ctx, scope, task.ID, "controller-a", "", "", ""); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if _, err := st.ClaimTask(ctx, scope, task.ID, "controller-b", "", "", ""); !isAlreadyClaimed(err) {
		t.Fatalf("expected AlreadyClaimed, got %v", err)
	}
}

type fakeOccupancy struct {
	tracked, occupied, dirty map[string]bool
	branch                   map[string]string
	repository               map[string]string
}

func (f fakeOccupancy) DirectoryTracked(id string) bool  { return f.tracked[id] }
func (f fakeOccupancy) DirectoryOccupied(id string) bool { return f.occupied[id] }
func (f fakeOccupancy) WorkingTreeDirty(id string) bool  { return f.dirty[id] }

func (f fakeOccupancy) CurrentBranch(id string) (string, bool) {
	b, ok := f.branch[id]
	return b, ok
}

func (f fakeOccupancy) DirectoryRepository(id string) (string, bool) {
	r, ok := f.repository[id]
	return r, ok
}

func TestPullTaskUntrackedDirectory(t *testing.T) {
	st := openTestStore(t)
	occ := fakeOccupancy{tracked: map[string]bool{}}
	res, err := st.PullTask(context.Background(), types.TaskPullRequest{
		Scope: testScope(), ControllerID: "c1", DirectoryID: "dir-unknown",
	}, occ)
	if err != nil {
		t.Fatalf("PullTask: %v", err)
	}
	if res.Availability != types.BlockedUntracked {
		t.Fatalf("availability = %q, want %q", res.Availability, types.BlockedUntracked)
	}
}

func TestPullTaskPriorityOrder(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	scope := testScope()

	dir, err := st.UpsertDirectory(ctx, scope, "/repo/a")
	if err != nil {
		t.Fatalf("upsert directory: %v", err)
	}

	projectTask, _ := st.CreateTask(ctx, scope, types.Task{Title: "project", ProjectID: dir.ID})
	st.ReadyTask(ctx, scope, projectTask.ID)
	globalTask, _ := st.CreateTask(ctx, scope, types.Task{Title: "global"})
	st.ReadyTask(ctx, scope, globalTask.ID)

	occ := fakeOccupancy{tracked: map[string]bool{dir.ID: true}}
	res, err := st.PullTask(ctx, types.TaskPullRequest{
		Scope: scope, ControllerID: "c1", DirectoryID: dir.ID,
	}, occ)
	if err != nil {
		t.Fatalf("PullTask: %v", err)
	}
	if res.Task == nil || res.Task.ID != projectTask.ID {
		t.Fatalf("expected project-scoped task to win, got %+v", res.Task)
	}
}

func TestPullTaskScopeMismatchFails(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	scope := testScope()

	dir, err := st.UpsertDirectory(ctx, scope, "/repo/a")
	if err != nil {
		t.Fatalf("upsert directory: %v", err)
	}

	other := types.Scope{TenantID: "t2", UserID: "u2", WorkspaceID: "w2"}
	occ := fakeOccupancy{tracked: map[string]bool{dir.ID: true}}
	_, err = st.PullTask(ctx, types.TaskPullRequest{
		Scope: other, ControllerID: "c1", DirectoryID: dir.ID,
	}, occ)
	if !errors.Is(err, ErrScopeMismatch) {
		t.Fatalf("expected ErrScopeMismatch, got %v", err)
	}
}

func TestPullTaskBlockedPinnedBranch(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	scope := testScope()

	dir, err := st.UpsertDirectory(ctx, scope, "/repo/a")
	if err != nil {
		t.Fatalf("upsert directory: %v", err)
	}
	if err := st.SetProjectSettings(ctx, types.ProjectSettings{DirectoryID: dir.ID, PinnedBranch: "main"}); err != nil {
		t.Fatalf("set project settings: %v", err)
	}

	task, _ := st.CreateTask(ctx, scope, types.Task{Title: "project", ProjectID: dir.ID})
	st.ReadyTask(ctx, scope, task.ID)

	occ := fakeOccupancy{
		tracked: map[string]bool{dir.ID: true},
		branch:  map[string]string{dir.ID: "feature-x"},
	}
	res, err := st.PullTask(ctx, types.TaskPullRequest{
		Scope: scope, ControllerID: "c1", DirectoryID: dir.ID,
	}, occ)
	if err != nil {
		t.Fatalf("PullTask: %v", err)
	}
	if res.Availability != types.BlockedPinnedBranch {
		t.Fatalf("availability = %q, want %q", res.Availability, types.BlockedPinnedBranch)
	}
}

func TestPullTaskBlockedRepositoryMismatch(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	scope := testScope()

	dir, err := st.UpsertDirectory(ctx, scope, "/repo/a")
	if err != nil {
		t.Fatalf("upsert directory: %v", err)
	}

	repoTask, _ := st.CreateTask(ctx, scope, types.Task{Title: "repo-scoped", RepositoryID: "repo-1"})
	st.ReadyTask(ctx, scope, repoTask.ID)

	occ := fakeOccupancy{
		tracked:    map[string]bool{dir.ID: true},
		repository: map[string]string{dir.ID: "repo-other"},
	}
	res, err := st.PullTask(ctx, types.TaskPullRequest{
		Scope: scope, ControllerID: "c1", DirectoryID: dir.ID, RepositoryID: "repo-1",
	}, occ)
	if err != nil {
		t.Fatalf("PullTask: %v", err)
	}
	if res.Availability != types.BlockedRepositoryMismatch {
		t.Fatalf("availability = %q, want %q", res.Availability, types.BlockedRepositoryMismatch)
	}
}

func TestPolicyPrecedenceRepositoryOverGlobal(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	scope := testScope()

	if err := st.SetPolicy(ctx, types.AutomationPolicy{Scope: scope, ScopeKind: types.PolicyScopeGlobal, AutomationEnabled: true}); err != nil {
		t.Fatalf("set global policy: %v", err)
	}
	if err := st.SetPolicy(ctx, types.AutomationPolicy{Scope: scope, ScopeKind: types.PolicyScopeRepository, ScopeID: "repo-1", AutomationEnabled: false}); err != nil {
		t.Fatalf("set repo policy: %v", err)
	}

	p, err := st.GetPolicy(ctx, scope, "repo-1", "")
	if err != nil {
		t.Fatalf("get policy: %v", err)
	}
	if p.AutomationEnabled {
		t.Fatal("expected repository-scoped policy (disabled) to win over global")
	}
}
