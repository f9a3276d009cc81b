package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/agentrails/agentrailsd/internal/types"
)

func TestMemoryMirrorRoundTripsGitStatusAndTelemetry(t *testing.T) {
	m := NewMemoryMirror()
	ctx := context.Background()

	_, ok, err := m.GitStatus(ctx, "dir-1")
	require.NoError(t, err)
	require.False(t, ok)

	snap := types.GitStatusSnapshot{DirectoryID: "dir-1", Branch: "main", ChangedFiles: 2}
	require.NoError(t, m.SetGitStatus(ctx, snap))
	got, ok, err := m.GitStatus(ctx, "dir-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "main", got.Branch)

	summary := types.TelemetrySummary{LastEventName: "codex.user_prompt", LastWorkHint: "codex.user_prompt"}
	require.NoError(t, m.SetTelemetry(ctx, "conv-1", summary))
	gotSummary, ok, err := m.Telemetry(ctx, "conv-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "codex.user_prompt", gotSummary.LastEventName)

	require.NoError(t, m.Close())
}

func newTestRedisMirror(t *testing.T) (SessionMirror, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	m, err := NewRedisMirror("redis://"+srv.Addr(), WithNamespace("test"), WithTTL(time.Minute))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m, srv
}

func TestRedisMirrorRoundTripsGitStatus(t *testing.T) {
	m, _ := newTestRedisMirror(t)
	ctx := context.Background()

	_, ok, err := m.GitStatus(ctx, "dir-shared")
	require.NoError(t, err)
	require.False(t, ok)

	snap := types.GitStatusSnapshot{DirectoryID: "dir-shared", Branch: "feature/x", ChangedFiles: 5}
	require.NoError(t, m.SetGitStatus(ctx, snap))

	got, ok, err := m.GitStatus(ctx, "dir-shared")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "feature/x", got.Branch)
	require.Equal(t, 5, got.ChangedFiles)
}

func TestRedisMirrorRoundTripsTelemetry(t *testing.T) {
	m, _ := newTestRedisMirror(t)
	ctx := context.Background()

	summary := types.TelemetrySummary{LastEventName: "claude.stop", LastWorkHint: "claude.stop"}
	require.NoError(t, m.SetTelemetry(ctx, "conv-shared", summary))

	got, ok, err := m.Telemetry(ctx, "conv-shared")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "claude.stop", got.LastEventName)
}

func TestRedisMirrorRespectsTTL(t *testing.T) {
	srv := miniredis.RunT(t)
	m, err := NewRedisMirror("redis://"+srv.Addr(), WithTTL(time.Second))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	require.NoError(t, m.SetGitStatus(context.Background(), types.GitStatusSnapshot{DirectoryID: "dir-ttl"}))
	srv.FastForward(2 * time.Second)

	_, ok, err := m.GitStatus(context.Background(), "dir-ttl")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisMirrorOperationsFailAfterClose(t *testing.T) {
	m, _ := newTestRedisMirror(t)
	require.NoError(t, m.Close())

	err := m.SetGitStatus(context.Background(), types.GitStatusSnapshot{DirectoryID: "dir-x"})
	require.Error(t, err)

	_, _, err = m.GitStatus(context.Background(), "dir-x")
	require.Error(t, err)
}

func TestNewRedisMirrorRejectsInvalidURL(t *testing.T) {
	_, err := NewRedisMirror("not-a-redis-url")
	require.Error(t, err)
}

func TestNewRedisMirrorFailsWhenUnreachable(t *testing.T) {
	srv := miniredis.RunT(t)
	addr := srv.Addr()
	srv.Close()

	_, err := NewRedisMirror("redis://" + addr)
	require.Error(t, err)
}
