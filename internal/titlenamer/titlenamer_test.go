package titlenamer

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentrails/agentrailsd/internal/store"
	"github.com/agentrails/agentrailsd/internal/types"
)

type fakeProvider struct {
	title string
	calls int
}

func (f *fakeProvider) Name(ctx context.Context, prompts []types.PromptEvent) (string, error) {
	f.calls++
	return f.title, nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agentrailsd.db")
	st, err := store.Open(context.Background(), path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func testScope() types.Scope {
	return types.Scope{TenantID: "t1", UserID: "u1", WorkspaceID: "w1"}
}

func TestRefreshTitleSkipsTerminalSessions(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	conv, err := st.CreateConversation(ctx, testScope(), "", "shell", types.AgentTerminal)
	require.NoError(t, err)

	n := New(st, &fakeProvider{title: "ignored"})
	status, reason, _, err := n.RefreshTitle(ctx, conv.ID)
	require.NoError(t, err)
	require.Equal(t, "skipped", status)
	require.Equal(t, "non-agent-thread", reason)
}

func TestRefreshTitleSkipsWhenNoPromptsObserved(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	conv, err := st.CreateConversation(ctx, testScope(), "", "working", types.AgentCodex)
	require.NoError(t, err)

	n := New(st, &fakeProvider{title: "ignored"})
	status, reason, _, err := n.RefreshTitle(ctx, conv.ID)
	require.NoError(t, err)
	require.Equal(t, "skipped", status)
	require.Equal(t, "prompt-history-empty", reason)
}

func TestRefreshTitleUpdatesFromProviderAfterPrompt(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	conv, err := st.CreateConversation(ctx, testScope(), "", "working", types.AgentCodex)
	require.NoError(t, err)

	provider := &fakeProvider{title: "Fix flaky retry logic"}
	n := New(st, provider)
	n.OnPrompt(conv.ID, types.PromptEvent{Index: 1, Text: "please fix the flaky test", ObservedAt: 1})

	status, reason, title, err := n.RefreshTitle(ctx, conv.ID)
	require.NoError(t, err)
	require.Equal(t, "updated", status)
	require.Empty(t, reason)
	require.Equal(t, "Fix flaky retry logic", title)

	updated, err := st.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Equal(t, "Fix flaky retry logic", updated.Title)
}

func TestRefreshTitleUnchangedWhenProviderRepeatsCurrentTitle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	conv, err := st.CreateConversation(ctx, testScope(), "", "same title", types.AgentCodex)
	require.NoError(t, err)

	n := New(st, &fakeProvider{title: "same title"})
	n.OnPrompt(conv.ID, types.PromptEvent{Index: 1, Text: "do a thing", ObservedAt: 1})

	status, reason, _, err := n.RefreshTitle(ctx, conv.ID)
	require.NoError(t, err)
	require.Equal(t, "unchanged", status)
	require.Empty(t, reason)
}

func TestOnPromptDebounceFiresOnceAfterQuietPeriod(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	conv, err := st.CreateConversation(ctx, testScope(), "", "working", types.AgentCodex)
	require.NoError(t, err)

	provider := &fakeProvider{title: "Debounced title"}
	n := New(st, provider)
	n.DebounceDelay = 20 * time.Millisecond

	n.OnPrompt(conv.ID, types.PromptEvent{Index: 1, Text: "first", ObservedAt: 1})
	n.OnPrompt(conv.ID, types.PromptEvent{Index: 2, Text: "second", ObservedAt: 2})

	require.Eventually(t, func() bool {
		updated, err := st.GetConversation(ctx, conv.ID)
		return err == nil && updated.Title == "Debounced title"
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, provider.calls)
}
