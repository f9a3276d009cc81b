package lifecyclehooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWebhookConnectorSignsBody(t *testing.T) {
	secret := "test-secret"
	var gotSig, gotEvent string
	var gotBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Agentrailsd-Signature")
		gotEvent = r.Header.Get("X-Agentrailsd-Event")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewWebhookConnector(srv.URL, secret, true)
	ev := LifecycleEvent{Type: "turn.started", SessionID: "conversation-1", ObservedAt: 1}
	require.NoError(t, c.Deliver(context.Background(), ev))

	require.Equal(t, "turn.started", gotEvent)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(gotBody)
	require.Equal(t, hex.EncodeToString(mac.Sum(nil)), gotSig)
}

func TestWebhookConnectorStrictModeRequiresSecret(t *testing.T) {
	c := NewWebhookConnector("http://example.invalid/hook", "", true)
	err := c.Deliver(context.Background(), LifecycleEvent{Type: "turn.started"})
	require.ErrorContains(t, err, "strict mode requires a webhook secret")
}

func TestWebhookConnectorErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	c := NewWebhookConnector(srv.URL, "", false)
	err := c.Deliver(context.Background(), LifecycleEvent{Type: "turn.failed"})
	require.ErrorContains(t, err, "status 500")
}

func TestPingConnectorCategorizesEvent(t *testing.T) {
	var gotCategory string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload pingPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		gotCategory = payload.Category
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewPingConnector(srv.URL)
	require.NoError(t, p.Deliver(context.Background(), LifecycleEvent{Type: "tool.failed", SessionID: "conversation-2"}))
	require.Equal(t, "failure", gotCategory)
}
