package hookbridge

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentrails/agentrailsd/internal/router"
	"github.com/agentrails/agentrailsd/internal/store"
	"github.com/agentrails/agentrailsd/internal/supervisor"
	"github.com/agentrails/agentrailsd/internal/types"
)

func newTestSupervisor(t *testing.T) (*supervisor.Supervisor, *store.Store, string) {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "agentrailsd.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	rt := router.New()
	sv := supervisor.New(st, rt, supervisor.Config{})
	st.SetSink(rt.Publish)

	scope := types.Scope{TenantID: "t1", UserID: "u1", WorkspaceID: "w1"}
	dir, err := st.UpsertDirectory(ctx, scope, "/repo/hookbridge")
	require.NoError(t, err)
	conv, err := st.CreateConversation(ctx, scope, dir.ID, "hookbridge-test", types.AgentClaude)
	require.NoError(t, err)

	// IngestKeyEvent/IngestPrompt only act on a live, registered session;
	// the agentType passed to StartSession doesn't need to match the one
	// tests pass to tail.poll, which only governs hook-name mapping.
	_, err = sv.StartSession(ctx, supervisor.StartRequest{
		ConversationID: conv.ID, Scope: scope, AgentType: types.AgentTerminal,
		Args: []string{"-c", "sleep 5"}, Cols: 80, Rows: 24,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sv.Close(conv.ID) })

	return sv, st, conv.ID
}

func writeLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	defer f.Close()
	for _, l := range lines {
		_, err := f.WriteString(l + "\n")
		require.NoError(t, err)
	}
}

func TestTailPollParsesAppendedRecordsAndAdvancesOffset(t *testing.T) {
	sv, st, convID := newTestSupervisor(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "conv.jsonl")
	writeLines(t, path, `{"hook_event_name":"UserPromptSubmit","prompt":"fix it","session_id":"sess-1"}`)

	tl := &tail{path: path}
	n := tl.poll(ctx, sv, convID, types.AgentClaude)
	require.Equal(t, 1, n)
	require.Positive(t, tl.offset)

	updated, err := st.GetConversation(ctx, convID)
	require.NoError(t, err)
	require.Equal(t, types.StatusRunning, updated.RuntimeStatus)
	require.NotNil(t, updated.AdapterState.Claude)
	require.Equal(t, "sess-1", updated.AdapterState.Claude.ResumeSessionID)

	// nothing new appended: a second poll at the same offset is a no-op
	n2 := tl.poll(ctx, sv, convID, types.AgentClaude)
	require.Equal(t, 0, n2)
}

func TestTailPollSkipsUnknownAndMalformedLines(t *testing.T) {
	sv, _, convID := newTestSupervisor(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "conv.jsonl")
	writeLines(t, path, "not json at all", `{"hook_event_name":"SomethingUnknown"}`)

	tl := &tail{path: path}
	n := tl.poll(ctx, sv, convID, types.AgentClaude)
	require.Equal(t, 0, n)
}

func TestTailPollMissingFileIsNoop(t *testing.T) {
	sv, _, convID := newTestSupervisor(t)
	tl := &tail{path: filepath.Join(t.TempDir(), "does-not-exist.jsonl")}
	n := tl.poll(context.Background(), sv, convID, types.AgentClaude)
	require.Equal(t, 0, n)
}

func TestTailPollResetsOffsetOnTruncation(t *testing.T) {
	sv, _, convID := newTestSupervisor(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "conv.jsonl")
	writeLines(t, path, `{"hook_event_name":"UserPromptSubmit","prompt":"one"}`, `{"hook_event_name":"UserPromptSubmit","prompt":"two"}`)

	tl := &tail{path: path}
	require.Equal(t, 2, tl.poll(ctx, sv, convID, types.AgentClaude))

	require.NoError(t, os.Truncate(path, 0))
	writeLines(t, path, `{"hook_event_name":"UserPromptSubmit","prompt":"fresh"}`)

	n := tl.poll(ctx, sv, convID, types.AgentClaude)
	require.Equal(t, 1, n)
}

func TestBridgeTrackAndStopSession(t *testing.T) {
	sv, _, convID := newTestSupervisor(t)
	dir := t.TempDir()

	b, err := New(sv, dir)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx)

	path := filepath.Join(dir, "conv.jsonl")
	b.TrackSession(ctx, convID, path, types.AgentClaude)

	b.mu.Lock()
	_, tracked := b.sessions[convID]
	b.mu.Unlock()
	require.True(t, tracked)

	b.StopSession(convID)

	b.mu.Lock()
	_, stillTracked := b.sessions[convID]
	b.mu.Unlock()
	require.False(t, stillTracked)
}

func TestNewBridgeFailsOnMissingDirectory(t *testing.T) {
	sv, _, _ := newTestSupervisor(t)
	_, err := New(sv, filepath.Join(t.TempDir(), "does-not-exist"))
	require.Error(t, err)
}
