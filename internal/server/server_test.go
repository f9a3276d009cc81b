package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentrails/agentrailsd/internal/dispatch"
	"github.com/agentrails/agentrailsd/internal/router"
	"github.com/agentrails/agentrailsd/internal/store"
	"github.com/agentrails/agentrailsd/internal/supervisor"
	"github.com/agentrails/agentrailsd/internal/types"
)

func newTestServer(t *testing.T, authToken string) (*Server, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agentrailsd.db")
	st, err := store.Open(context.Background(), path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	rt := router.New()
	sv := supervisor.New(st, rt, supervisor.Config{})
	st.SetSink(rt.Publish)

	d := dispatch.New(st, sv, rt, nil)
	srv := New(d, Options{AuthToken: authToken})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	ready := make(chan struct{})
	go func() {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		go func() {
			<-ctx.Done()
			_ = ln.Close()
		}()
		srv.mu.Lock()
		srv.listener = ln
		srv.mu.Unlock()
		close(ready)
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go srv.handleConn(ctx, conn)
		}
	}()
	<-ready
	return srv, srv.Addr()
}

func dial(t *testing.T, addr string) (net.Conn, *bufio.Scanner) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	return conn, scanner
}

func writeLine(t *testing.T, conn net.Conn, v interface{}) {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	b = append(b, '\n')
	_, err = conn.Write(b)
	require.NoError(t, err)
}

func readEnvelope(t *testing.T, scanner *bufio.Scanner) map[string]interface{} {
	t.Helper()
	require.True(t, scanner.Scan(), "expected a line, got: %v", scanner.Err())
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &m))
	return m
}

func TestAuthHandshake(t *testing.T) {
	_, addr := newTestServer(t, "secret-token")
	conn, scanner := dial(t, addr)

	writeLine(t, conn, map[string]string{"kind": "auth", "token": "secret-token"})
	env := readEnvelope(t, scanner)
	require.Equal(t, "auth.ok", env["kind"])
}

func TestAuthHandshakeRejectsBadToken(t *testing.T) {
	_, addr := newTestServer(t, "secret-token")
	conn, scanner := dial(t, addr)

	writeLine(t, conn, map[string]string{"kind": "auth", "token": "wrong"})
	env := readEnvelope(t, scanner)
	require.Equal(t, "command.failed", env["kind"])
	require.Contains(t, env["error"], "invalid auth token")
}

func TestCommandAcceptedThenCompleted(t *testing.T) {
	_, addr := newTestServer(t, "")
	conn, scanner := dial(t, addr)

	writeLine(t, conn, map[string]string{"kind": "auth", "token": ""})
	require.Equal(t, "auth.ok", readEnvelope(t, scanner)["kind"])

	writeLine(t, conn, map[string]interface{}{
		"kind":      "command",
		"commandId": "command-1",
		"command": map[string]interface{}{
			"type":  "directory.upsert",
			"scope": types.Scope{TenantID: "t1", UserID: "u1", WorkspaceID: "w1"},
			"path":  "/repo/a",
		},
	})

	accepted := readEnvelope(t, scanner)
	require.Equal(t, "command.accepted", accepted["kind"])
	require.Equal(t, "command-1", accepted["commandId"])

	completed := readEnvelope(t, scanner)
	require.Equal(t, "command.completed", completed["kind"])
	require.Equal(t, "command-1", completed["commandId"])
}

func TestMalformedFrameIsDroppedNotFatal(t *testing.T) {
	_, addr := newTestServer(t, "")
	conn, scanner := dial(t, addr)

	writeLine(t, conn, map[string]string{"kind": "auth", "token": ""})
	require.Equal(t, "auth.ok", readEnvelope(t, scanner)["kind"])

	_, err := conn.Write([]byte("{not json}\n"))
	require.NoError(t, err)

	writeLine(t, conn, map[string]interface{}{
		"kind":      "command",
		"commandId": "command-2",
		"command": map[string]interface{}{
			"type":  "directory.list",
			"scope": types.Scope{TenantID: "t1", UserID: "u1", WorkspaceID: "w1"},
		},
	})
	accepted := readEnvelope(t, scanner)
	require.Equal(t, "command.accepted", accepted["kind"])
}

func TestStreamSubscribeReceivesPublishedEvent(t *testing.T) {
	_, addr := newTestServer(t, "")
	conn, scanner := dial(t, addr)

	writeLine(t, conn, map[string]string{"kind": "auth", "token": ""})
	require.Equal(t, "auth.ok", readEnvelope(t, scanner)["kind"])

	writeLine(t, conn, map[string]interface{}{
		"kind":      "command",
		"commandId": "command-1",
		"command": map[string]interface{}{
			"type":   "stream.subscribe",
			"filter": map[string]interface{}{},
		},
	})
	require.Equal(t, "command.accepted", readEnvelope(t, scanner)["kind"])
	require.Equal(t, "command.completed", readEnvelope(t, scanner)["kind"])

	writeLine(t, conn, map[string]interface{}{
		"kind":      "command",
		"commandId": "command-2",
		"command": map[string]interface{}{
			"type":  "directory.upsert",
			"scope": types.Scope{TenantID: "t1", UserID: "u1", WorkspaceID: "w1"},
			"path":  "/repo/b",
		},
	})
	// The subscription's fan-out and the command.completed reply travel
	// through independent goroutines sharing the same connection
	// write path, so their relative order isn't guaranteed; scan until
	// both expected envelopes have been seen.
	seenCompleted, seenStreamEvent := false, false
	for i := 0; i < 5 && !(seenCompleted && seenStreamEvent); i++ {
		env := readEnvelope(t, scanner)
		switch env["kind"] {
		case "command.completed":
			seenCompleted = true
		case "stream.event":
			seenStreamEvent = true
		}
	}
	require.True(t, seenCompleted, "expected command.completed")
	require.True(t, seenStreamEvent, "expected stream.event")
}
