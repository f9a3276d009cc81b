package telemetry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokenFromPath(t *testing.T) {
	require.Equal(t, "tok_abc", tokenFromPath("/v1/logs/", "/v1/logs/tok_abc"))
}

func TestIsConnReset(t *testing.T) {
	require.True(t, isConnReset(errors.New("read tcp 127.0.0.1:443: connection reset by peer")))
	require.True(t, isConnReset(errors.New("write: broken pipe")))
	require.False(t, isConnReset(errors.New("unexpected EOF")))
}
