package ptysession

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentrails/agentrailsd/internal/types"
)

func TestAttachReplaysBufferedOutput(t *testing.T) {
	s, err := Start(StartParams{Name: "/bin/sh", Args: []string{"-c", "echo hello"}, Cols: 80, Rows: 24})
	require.NoError(t, err)
	defer s.Close()

	deadline := time.Now().Add(2 * time.Second)
	for s.LatestCursorValue() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	var got strings.Builder
	s.Attach(0, func(c Chunk) {
		got.Write(c.Data)
	}, func(p types.SessionEventPayload) {})
	require.Contains(t, got.String(), "hello")
}

func TestCloseEscalatesToKill(t *testing.T) {
	s, err := Start(StartParams{Name: "/bin/sh", Args: []string{"-c", "trap '' TERM; sleep 30"}, Cols: 80, Rows: 24})
	require.NoError(t, err)
	s.closeGrace = 50 * time.Millisecond

	done := make(chan error, 1)
	go func() { done <- s.Close() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Close did not escalate to SIGKILL in time")
	}
}

func TestResizeDoesNotError(t *testing.T) {
	s, err := Start(StartParams{Name: "/bin/sh", Args: []string{"-c", "sleep 1"}, Cols: 80, Rows: 24})
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Resize(100, 30))
}
