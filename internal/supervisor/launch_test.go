package supervisor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentrails/agentrailsd/internal/types"
)

func TestComposeCodexInjectsOtelExporterWhenTelemetryEnabled(t *testing.T) {
	sv := &Supervisor{cfg: Config{TelemetryBaseURL: "http://127.0.0.1:4319", HistoryPersistenceEnabled: true}}
	req := StartRequest{ConversationID: "c1", AgentType: types.AgentCodex, Args: []string{"exec", "say hi"}}

	spec := sv.composeLaunch(req, types.Conversation{}, "tok-123", "")

	require.Equal(t, "codex", spec.name)
	require.Contains(t, spec.args, "-c")
	joined := strings.Join(spec.args, " ")
	require.Contains(t, joined, "otel.exporter=http://127.0.0.1:4319/v1/logs/tok-123")
	require.Contains(t, joined, "history.persistence=save-all")
}

func TestComposeCodexHistoryPersistenceNoneWhenDisabled(t *testing.T) {
	sv := &Supervisor{cfg: Config{TelemetryBaseURL: "http://127.0.0.1:4319", HistoryPersistenceEnabled: false}}
	req := StartRequest{ConversationID: "c1", AgentType: types.AgentCodex}

	spec := sv.composeLaunch(req, types.Conversation{}, "tok-1", "")
	require.Contains(t, strings.Join(spec.args, " "), "history.persistence=none")
}

func TestComposeCodexOmitsOtelArgsWhenTelemetryDisabled(t *testing.T) {
	sv := &Supervisor{cfg: Config{TelemetryBaseURL: ""}}
	req := StartRequest{ConversationID: "c1", AgentType: types.AgentCodex, Args: []string{"exec"}}

	spec := sv.composeLaunch(req, types.Conversation{}, "tok-1", "")
	require.NotContains(t, strings.Join(spec.args, " "), "otel.exporter")
}

func TestComposeCodexInjectsYoloWhenNoSubcommandPresent(t *testing.T) {
	sv := &Supervisor{cfg: Config{LaunchMode: LaunchModeYolo}}
	req := StartRequest{ConversationID: "c1", AgentType: types.AgentCodex, Args: []string{"--model", "x"}}

	spec := sv.composeLaunch(req, types.Conversation{}, "tok-1", "")
	require.Equal(t, "--yolo", spec.args[0])
}

func TestComposeCodexSkipsYoloWhenSubcommandPresent(t *testing.T) {
	sv := &Supervisor{cfg: Config{LaunchMode: LaunchModeYolo}}
	req := StartRequest{ConversationID: "c1", AgentType: types.AgentCodex, Args: []string{"exec", "say hi"}}

	spec := sv.composeLaunch(req, types.Conversation{}, "tok-1", "")
	require.NotContains(t, spec.args, "--yolo")
}

func TestComposeCodexPrependsResumeFromAdapterState(t *testing.T) {
	sv := &Supervisor{cfg: Config{}}
	conv := types.Conversation{AdapterState: types.AdapterState{Codex: &types.CodexAdapterState{ResumeSessionID: "sess-abc"}}}
	req := StartRequest{ConversationID: "c1", AgentType: types.AgentCodex, Args: []string{"exec"}}

	spec := sv.composeLaunch(req, conv, "tok-1", "")
	require.Equal(t, []string{"resume", "sess-abc", "exec"}, spec.args)
}

func TestComposeCodexDoesNotDoubleResumeWhenUserSuppliedIt(t *testing.T) {
	sv := &Supervisor{cfg: Config{}}
	conv := types.Conversation{AdapterState: types.AdapterState{Codex: &types.CodexAdapterState{ResumeSessionID: "sess-abc"}}}
	req := StartRequest{ConversationID: "c1", AgentType: types.AgentCodex, Args: []string{"resume", "sess-other"}}

	spec := sv.composeLaunch(req, conv, "tok-1", "")
	require.Equal(t, []string{"resume", "sess-other"}, spec.args)
}

func TestComposeCodexRequestResumeTakesPrecedenceOverAdapterState(t *testing.T) {
	sv := &Supervisor{cfg: Config{}}
	conv := types.Conversation{AdapterState: types.AdapterState{Codex: &types.CodexAdapterState{ResumeSessionID: "sess-stale"}}}
	req := StartRequest{ConversationID: "c1", AgentType: types.AgentCodex, ResumeSessionID: "sess-fresh"}

	spec := sv.composeLaunch(req, conv, "tok-1", "")
	require.Equal(t, []string{"resume", "sess-fresh"}, spec.args)
}

func TestComposeClaudeRegistersAllFiveHooks(t *testing.T) {
	sv := &Supervisor{}
	req := StartRequest{ConversationID: "c1", AgentType: types.AgentClaude, Args: []string{"--model", "sonnet"}}

	spec := sv.composeLaunch(req, types.Conversation{}, "tok-1", "/tmp/hooks/c1.jsonl")

	require.Equal(t, "claude", spec.name)
	require.Equal(t, "--settings", spec.args[0])
	settingsJSON := spec.args[1]
	for _, hook := range []string{"UserPromptSubmit", "PreToolUse", "PostToolUse", "Stop", "Notification"} {
		require.Contains(t, settingsJSON, hook)
	}
	require.Contains(t, settingsJSON, "/tmp/hooks/c1.jsonl")
	require.Equal(t, []string{"--settings", settingsJSON, "--model", "sonnet"}, spec.args)
}

func TestComposeCursorSetsHookEnvVars(t *testing.T) {
	sv := &Supervisor{}
	req := StartRequest{ConversationID: "conv-cursor", AgentType: types.AgentCursor, Args: []string{"--x"}}

	spec := sv.composeLaunch(req, types.Conversation{}, "tok-1", "/tmp/hooks/conv-cursor.jsonl")

	require.Equal(t, "cursor-agent", spec.name)
	require.Equal(t, []string{"--x"}, spec.args)
	require.Contains(t, spec.env, "CURSOR_HOOK_NOTIFY_FILE=/tmp/hooks/conv-cursor.jsonl")
	require.Contains(t, spec.env, "CURSOR_HOOK_SESSION_ID=conv-cursor")
}

func TestComposeTerminalUsesShellEnvOverride(t *testing.T) {
	t.Setenv("SHELL", "/bin/zsh")
	sv := &Supervisor{}
	req := StartRequest{ConversationID: "c1", AgentType: types.AgentTerminal, Args: []string{"-lc", "echo hi"}}

	spec := sv.composeLaunch(req, types.Conversation{}, "tok-1", "")
	require.Equal(t, "/bin/zsh", spec.name)
	require.Equal(t, []string{"-lc", "echo hi"}, spec.args)
}

func TestHasSubcommandDistinguishesFlagsFromPositionalArgs(t *testing.T) {
	require.False(t, hasSubcommand([]string{"--flag", "-x"}))
	require.True(t, hasSubcommand([]string{"--flag", "exec"}))
}

func TestHasResumeDetectsExistingResumeArg(t *testing.T) {
	require.True(t, hasResume([]string{"resume", "sess-1"}))
	require.False(t, hasResume([]string{"exec"}))
}

func TestEnvSliceLayersOverridesOntoProcessEnv(t *testing.T) {
	t.Setenv("AGENTRAILSD_TEST_MARKER", "base")
	out := envSlice(map[string]string{"AGENTRAILSD_TEST_MARKER": "override", "EXTRA": "1"})
	require.Contains(t, out, "AGENTRAILSD_TEST_MARKER=override")
	require.Contains(t, out, "EXTRA=1")
}
