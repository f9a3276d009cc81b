package supervisor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentrails/agentrailsd/internal/types"
)

func TestIngestKeyEventTransitionsRuntimeStatus(t *testing.T) {
	sv, st := newTestSupervisor(t)
	ctx := context.Background()

	dir, err := st.UpsertDirectory(ctx, types.Scope{TenantID: "t1", UserID: "u1", WorkspaceID: "w1"}, "/repo/ingest")
	require.NoError(t, err)
	conv, err := st.CreateConversation(ctx, types.Scope{TenantID: "t1", UserID: "u1", WorkspaceID: "w1"}, dir.ID, "ingest-test", types.AgentCodex)
	require.NoError(t, err)

	plantRuntime(sv, conv.ID)

	err = sv.IngestKeyEvent(ctx, conv.ID, types.KeyEvent{
		EventName: "codex.user_prompt", ObservedAt: 1000, StatusHint: types.StatusRunning,
	})
	require.NoError(t, err)

	updated, err := st.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Equal(t, types.StatusRunning, updated.RuntimeStatus)
	require.True(t, updated.RuntimeLive)
}

func TestIngestKeyEventCompletedFollowsRunning(t *testing.T) {
	sv, st := newTestSupervisor(t)
	ctx := context.Background()

	dir, err := st.UpsertDirectory(ctx, types.Scope{TenantID: "t1", UserID: "u1", WorkspaceID: "w1"}, "/repo/ingest2")
	require.NoError(t, err)
	conv, err := st.CreateConversation(ctx, types.Scope{TenantID: "t1", UserID: "u1", WorkspaceID: "w1"}, dir.ID, "ingest-test-2", types.AgentCodex)
	require.NoError(t, err)
	plantRuntime(sv, conv.ID)

	require.NoError(t, sv.IngestKeyEvent(ctx, conv.ID, types.KeyEvent{
		EventName: "codex.user_prompt", ObservedAt: 1000, StatusHint: types.StatusRunning,
	}))
	require.NoError(t, sv.IngestKeyEvent(ctx, conv.ID, types.KeyEvent{
		EventName: "codex.turn.e2e_duration_ms", ObservedAt: 1500, StatusHint: types.StatusCompleted,
	}))

	updated, err := st.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Equal(t, types.StatusCompleted, updated.RuntimeStatus)
}

func TestIngestKeyEventDedupesRepeatedEvent(t *testing.T) {
	sv, st := newTestSupervisor(t)
	ctx := context.Background()

	dir, err := st.UpsertDirectory(ctx, types.Scope{TenantID: "t1", UserID: "u1", WorkspaceID: "w1"}, "/repo/ingest3")
	require.NoError(t, err)
	conv, err := st.CreateConversation(ctx, types.Scope{TenantID: "t1", UserID: "u1", WorkspaceID: "w1"}, dir.ID, "ingest-test-3", types.AgentCodex)
	require.NoError(t, err)
	plantRuntime(sv, conv.ID)

	ev := types.KeyEvent{EventName: "codex.user_prompt", ObservedAt: 1000, StatusHint: types.StatusRunning}
	require.NoError(t, sv.IngestKeyEvent(ctx, conv.ID, ev))
	// identical (sessionId, eventName, observedAt) triple: a no-op, not
	// an error and not a second status transition.
	require.NoError(t, sv.IngestKeyEvent(ctx, conv.ID, ev))
}

func TestIngestKeyEventOnUnknownSessionIsNoop(t *testing.T) {
	sv, _ := newTestSupervisor(t)
	err := sv.IngestKeyEvent(context.Background(), "no-such-session", types.KeyEvent{EventName: "x", StatusHint: types.StatusRunning})
	require.NoError(t, err)
}

func TestIngestKeyEventOnArchivedConversationIsInert(t *testing.T) {
	sv, st := newTestSupervisor(t)
	ctx := context.Background()
	scope := types.Scope{TenantID: "t1", UserID: "u1", WorkspaceID: "w1"}

	dir, err := st.UpsertDirectory(ctx, scope, "/repo/archived")
	require.NoError(t, err)
	conv, err := st.CreateConversation(ctx, scope, dir.ID, "archived-test", types.AgentCodex)
	require.NoError(t, err)
	require.NoError(t, st.ArchiveConversation(ctx, scope, conv.ID))
	plantRuntime(sv, conv.ID)

	err = sv.IngestKeyEvent(ctx, conv.ID, types.KeyEvent{EventName: "codex.user_prompt", ObservedAt: 1000, StatusHint: types.StatusRunning})
	require.NoError(t, err)

	after, err := st.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Equal(t, types.RuntimeStatus("idle"), after.RuntimeStatus)
}

func TestIngestKeyEventMergesCodexAdapterState(t *testing.T) {
	sv, st := newTestSupervisor(t)
	ctx := context.Background()
	scope := types.Scope{TenantID: "t1", UserID: "u1", WorkspaceID: "w1"}

	dir, err := st.UpsertDirectory(ctx, scope, "/repo/adapter")
	require.NoError(t, err)
	conv, err := st.CreateConversation(ctx, scope, dir.ID, "adapter-test", types.AgentCodex)
	require.NoError(t, err)
	plantRuntime(sv, conv.ID)

	require.NoError(t, sv.IngestKeyEvent(ctx, conv.ID, types.KeyEvent{
		EventName: "codex.sse_event", ObservedAt: 2000, StatusHint: types.StatusRunning, ProviderThreadID: "thread-77",
	}))

	updated, err := st.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.AdapterState.Codex)
	require.Equal(t, "thread-77", updated.AdapterState.Codex.ResumeSessionID)
}

func TestIngestPromptIncrementsIndexAndInvokesOnPrompt(t *testing.T) {
	sv, _ := newTestSupervisor(t)
	plantRuntime(sv, "conv-prompt")

	var got []types.PromptEvent
	sv.OnPrompt = func(conversationID string, prompt types.PromptEvent) {
		require.Equal(t, "conv-prompt", conversationID)
		got = append(got, prompt)
	}

	sv.IngestPrompt("conv-prompt", "first prompt", 100)
	sv.IngestPrompt("conv-prompt", "second prompt", 200)

	require.Len(t, got, 2)
	require.Equal(t, 1, got[0].Index)
	require.Equal(t, 2, got[1].Index)
}

func TestIngestPromptOnUnknownSessionIsNoop(t *testing.T) {
	sv, _ := newTestSupervisor(t)
	called := false
	sv.OnPrompt = func(string, types.PromptEvent) { called = true }
	sv.IngestPrompt("ghost", "hi", 1)
	require.False(t, called)
}

func TestApplyClaudeAdapterStateMergesResumeSessionID(t *testing.T) {
	sv, st := newTestSupervisor(t)
	ctx := context.Background()
	scope := types.Scope{TenantID: "t1", UserID: "u1", WorkspaceID: "w1"}

	dir, err := st.UpsertDirectory(ctx, scope, "/repo/claude-adapter")
	require.NoError(t, err)
	conv, err := st.CreateConversation(ctx, scope, dir.ID, "claude-adapter-test", types.AgentClaude)
	require.NoError(t, err)

	require.NoError(t, sv.ApplyClaudeAdapterState(ctx, conv.ID, "claude-session-123"))

	updated, err := st.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.AdapterState.Claude)
	require.Equal(t, "claude-session-123", updated.AdapterState.Claude.ResumeSessionID)
}
