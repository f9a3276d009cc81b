package main

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMergeTypeInjectsTypeField(t *testing.T) {
	raw, err := mergeType("directory.list", json.RawMessage(`{"scope":"ws"}`))
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &m))
	require.Equal(t, "directory.list", m["type"])
	require.Equal(t, "ws", m["scope"])
}

func TestMergeTypeRejectsMalformedBody(t *testing.T) {
	_, err := mergeType("daemon.status", json.RawMessage(`{not json`))
	require.Error(t, err)
}

func TestMergeTypeOverwritesExistingTypeField(t *testing.T) {
	raw, err := mergeType("daemon.status", json.RawMessage(`{"type":"stale"}`))
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &m))
	require.Equal(t, "daemon.status", m["type"])
}
