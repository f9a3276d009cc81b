package dispatch

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentrails/agentrailsd/internal/router"
	"github.com/agentrails/agentrailsd/internal/store"
	"github.com/agentrails/agentrailsd/internal/supervisor"
	"github.com/agentrails/agentrailsd/internal/types"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agentrailsd.db")
	st, err := store.Open(context.Background(), path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	rt := router.New()
	sv := supervisor.New(st, rt, supervisor.Config{})
	st.SetSink(rt.Publish)

	return New(st, sv, rt, nil)
}

func testScope() types.Scope {
	return types.Scope{TenantID: "t1", UserID: "u1", WorkspaceID: "w1"}
}

func mustRaw(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestDirectoryUpsertIsIdempotentThroughDispatch(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	req := mustRaw(t, directoryUpsertRequest{Type: CmdDirectoryUpsert, Scoped: Scoped{Scope: testScope()}, Path: "/repo/a"})

	raw1, err := d.Dispatch(ctx, "conn-1", nil, CmdDirectoryUpsert, req)
	require.NoError(t, err)
	raw2, err := d.Dispatch(ctx, "conn-1", nil, CmdDirectoryUpsert, req)
	require.NoError(t, err)

	var dir1, dir2 types.Directory
	require.NoError(t, json.Unmarshal(raw1, &dir1))
	require.NoError(t, json.Unmarshal(raw2, &dir2))
	require.Equal(t, dir1.ID, dir2.ID)
}

func TestDirectoryArchiveUnknownIDReturnsNotFound(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	req := mustRaw(t, directoryArchiveRequest{Type: CmdDirectoryArchive, Scoped: Scoped{Scope: testScope()}, DirectoryID: "dir-missing"})
	_, err := d.Dispatch(ctx, "conn-1", nil, CmdDirectoryArchive, req)
	require.ErrorContains(t, err, "directory not found")
}

func TestTaskClaimConflictReturnsExactSubstring(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()
	scope := testScope()

	dir, err := d.Store.UpsertDirectory(ctx, scope, "/repo/a")
	require.NoError(t, err)

	task, err := d.Store.CreateTask(ctx, scope, types.Task{ProjectID: dir.ID, Title: "do the thing"})
	require.NoError(t, err)
	_, err = d.Store.ReadyTask(ctx, scope, task.ID)
	require.NoError(t, err)

	claimReq := mustRaw(t, taskClaimRequest{
		Type: CmdTaskClaim, Scoped: Scoped{Scope: scope}, TaskID: task.ID,
		ControllerID: "controller-a", DirectoryID: dir.ID,
	})
	_, err = d.Dispatch(ctx, "conn-1", nil, CmdTaskClaim, claimReq)
	require.NoError(t, err)

	claimReq2 := mustRaw(t, taskClaimRequest{
		Type: CmdTaskClaim, Scoped: Scoped{Scope: scope}, TaskID: task.ID,
		ControllerID: "controller-b", DirectoryID: dir.ID,
	})
	_, err = d.Dispatch(ctx, "conn-1", nil, CmdTaskClaim, claimReq2)
	require.ErrorContains(t, err, "task already claimed: "+task.ID)
}

// TestTaskPullPrefersProjectOverGlobal exercises spec.md's task pull
// priority tiers: a task scoped to the requesting directory (project
// tier) is claimed ahead of an otherwise-eligible global task.
func TestTaskPullPrefersProjectOverGlobal(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()
	scope := testScope()

	dir, err := d.Store.UpsertDirectory(ctx, scope, "/repo/a")
	require.NoError(t, err)

	globalTask, err := d.Store.CreateTask(ctx, scope, types.Task{Title: "global task"})
	require.NoError(t, err)
	_, err = d.Store.ReadyTask(ctx, scope, globalTask.ID)
	require.NoError(t, err)

	projectTask, err := d.Store.CreateTask(ctx, scope, types.Task{ProjectID: dir.ID, Title: "project task"})
	require.NoError(t, err)
	_, err = d.Store.ReadyTask(ctx, scope, projectTask.ID)
	require.NoError(t, err)

	pullReq := mustRaw(t, taskPullRequest{
		Type: CmdTaskPull, Scoped: Scoped{Scope: scope}, ControllerID: "controller-a", DirectoryID: dir.ID,
	})
	raw, err := d.Dispatch(ctx, "conn-1", nil, CmdTaskPull, pullReq)
	require.NoError(t, err)

	var result types.TaskPullResult
	require.NoError(t, json.Unmarshal(raw, &result))
	require.NotNil(t, result.Task)
	require.Equal(t, projectTask.ID, result.Task.ID)
}

func TestTaskPullMissingScopeIsRejected(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	pullReq := mustRaw(t, taskPullRequest{Type: CmdTaskPull, Scoped: Scoped{Scope: testScope()}, ControllerID: "controller-a"})
	_, err := d.Dispatch(ctx, "conn-1", nil, CmdTaskPull, pullReq)
	require.ErrorContains(t, err, "requires directoryId or repositoryId")
}

func TestConversationCreateAndList(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()
	scope := testScope()

	createReq := mustRaw(t, conversationCreateRequest{
		Type: CmdConversationCreate, Scoped: Scoped{Scope: scope}, Title: "session one", AgentType: types.AgentCodex,
	})
	raw, err := d.Dispatch(ctx, "conn-1", nil, CmdConversationCreate, createReq)
	require.NoError(t, err)
	var conv types.Conversation
	require.NoError(t, json.Unmarshal(raw, &conv))
	require.NotEmpty(t, conv.ID)

	listReq := mustRaw(t, conversationListRequest{Type: CmdConversationList, Scoped: Scoped{Scope: scope}})
	raw, err = d.Dispatch(ctx, "conn-1", nil, CmdConversationList, listReq)
	require.NoError(t, err)

	var list struct {
		Conversations []types.Conversation `json:"conversations"`
	}
	require.NoError(t, json.Unmarshal(raw, &list))
	require.Len(t, list.Conversations, 1)
	require.Equal(t, conv.ID, list.Conversations[0].ID)
}

func TestSessionClaimConflictMatchesWireSubstring(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()
	scope := testScope()

	conv, err := d.Store.CreateConversation(ctx, scope, "", "shell", types.AgentTerminal)
	require.NoError(t, err)

	startReq := mustRaw(t, ptyStartRequest{
		Type: CmdPTYStart, Scoped: Scoped{Scope: scope}, SessionID: conv.ID,
		AgentType: types.AgentTerminal, Args: []string{"-c", "sleep 5"}, InitialCols: 80, InitialRows: 24,
	})
	_, err = d.Dispatch(ctx, "conn-1", nil, CmdPTYStart, startReq)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Supervisor.Close(conv.ID) })

	claimReq := mustRaw(t, sessionClaimRequest{
		Type: CmdSessionClaim, SessionID: conv.ID, ControllerID: "ctl-a", ControllerType: "human", ControllerLabel: "operator-a",
	})
	_, err = d.Dispatch(ctx, "conn-1", nil, CmdSessionClaim, claimReq)
	require.NoError(t, err)

	claimReq2 := mustRaw(t, sessionClaimRequest{
		Type: CmdSessionClaim, SessionID: conv.ID, ControllerID: "ctl-b", ControllerType: "human", ControllerLabel: "operator-b",
	})
	_, err = d.Dispatch(ctx, "conn-1", nil, CmdSessionClaim, claimReq2)
	require.ErrorContains(t, err, "session is already claimed by operator-a")
}

func TestStreamSubscribeRequiresConnectionSink(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	req := mustRaw(t, streamSubscribeRequest{Type: CmdStreamSubscribe, Filter: types.SubscriptionFilter{}})
	_, err := d.Dispatch(ctx, "conn-1", nil, CmdStreamSubscribe, req)
	require.Error(t, err)
}

func TestStreamUnsubscribeMalformedID(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	req := mustRaw(t, streamUnsubscribeRequest{Type: CmdStreamUnsubscribe, SubscriptionID: "not-a-real-id"})
	_, err := d.Dispatch(ctx, "conn-1", nil, CmdStreamUnsubscribe, req)
	require.ErrorContains(t, err, "malformed subscription id")
}

func TestGitHubCommandsReportNotConfiguredByDefault(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	req := mustRaw(t, githubPRCreateRequest{Type: CmdGitHubPRCreate, RepositoryID: "repo-1", Title: "t", Head: "feature", Base: "main"})
	raw, err := d.Dispatch(ctx, "conn-1", nil, CmdGitHubPRCreate, req)
	require.NoError(t, err)

	var result GitHubPRResult
	require.NoError(t, json.Unmarshal(raw, &result))
	require.Equal(t, "not-configured", result.Status)
}

func TestDaemonStatusReportsStoreAndNATSHealth(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	raw, err := d.Dispatch(ctx, "conn-1", nil, CmdDaemonStatus, json.RawMessage(`{}`))
	require.NoError(t, err)

	var result daemonStatusResult
	require.NoError(t, json.Unmarshal(raw, &result))
	require.Equal(t, "ok", result.Store.Status)
	require.Equal(t, "stopped", result.NATS.Status)
	require.Equal(t, 0, result.Sessions)
	require.Equal(t, 0, result.Subscriptions)
}
