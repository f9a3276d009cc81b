package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentrails/agentrailsd/internal/config"
)

func TestHealthAddrBindsNextPortUp(t *testing.T) {
	require.Equal(t, "127.0.0.1:7172", healthAddr("127.0.0.1:7171"))
	require.Equal(t, "0.0.0.0:9001", healthAddr("0.0.0.0:9000"))
}

func TestHealthAddrFallsBackOnUnparsableAddr(t *testing.T) {
	require.Equal(t, "127.0.0.1:7172", healthAddr("not-a-host-port"))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.StorePath = filepath.Join(t.TempDir(), "agentrailsd.db")
	// NATS.Embed defaults true; turning it off (ExternalURL already
	// defaults empty) makes bootstrap skip the durable event log
	// entirely for this test.
	cfg.NATS.Embed = false
	return cfg
}

func TestBootstrapWiresComponentsWithoutNATSOrMirror(t *testing.T) {
	log := slog.New(slog.DiscardHandler)
	comps, cleanup, err := bootstrap(context.Background(), testConfig(t), log)
	require.NoError(t, err)
	defer cleanup()

	require.NotNil(t, comps.store)
	require.NotNil(t, comps.supervisor)
	require.NotNil(t, comps.dispatcher)
	require.NotNil(t, comps.telemetry)
	require.Nil(t, comps.nats)
	require.Nil(t, comps.mirror)
	require.Nil(t, comps.hooks) // cfg.HooksDir is empty by default
}

func TestBootstrapDisablesHookBridgeWhenHooksDirEmpty(t *testing.T) {
	cfg := testConfig(t)
	cfg.HooksDir = ""
	comps, cleanup, err := bootstrap(context.Background(), cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	defer cleanup()
	require.Nil(t, comps.hooks)
}

func TestHealthzHandlerReturnsDaemonStatus(t *testing.T) {
	comps, cleanup, err := bootstrap(context.Background(), testConfig(t), slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	defer cleanup()

	handler := healthzHandler(comps.dispatcher)
	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/healthz", nil)
	handler(w, r)

	require.Equal(t, 200, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
}

func TestHealthzHandlerReturns500OnDispatchError(t *testing.T) {
	comps, cleanup, err := bootstrap(context.Background(), testConfig(t), slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	defer cleanup()

	// force the dispatcher down an unknown-command path by reaching it
	// through the same handler shape, using a dispatcher with a closed store.
	_ = comps.store.Close()
	handler := healthzHandler(comps.dispatcher)
	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/healthz", nil)
	handler(w, r)

	require.Equal(t, 500, w.Code)
}
