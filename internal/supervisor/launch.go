package supervisor

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	"github.com/agentrails/agentrailsd/internal/types"
)

// launchSpec is the composed argv/env for a child process, per spec.md
// section 4.D's per-agentType rules.
type launchSpec struct {
	name string
	args []string
	env  []string
}

// claudeHookSettings mirrors the --settings JSON claude expects to
// register hook notifications, pointed at a notify-file sink.
type claudeHookSettings struct {
	Hooks map[string][]claudeHookEntry `json:"hooks"`
}

type claudeHookEntry struct {
	Matcher string           `json:"matcher,omitempty"`
	Hooks   []claudeHookCmd  `json:"hooks"`
}

type claudeHookCmd struct {
	Type    string `json:"type"`
	Command string `json:"command"`
}

// composeLaunch builds the argv/env for req, following spec.md section
// 4.D exactly per agentType.
func (sv *Supervisor) composeLaunch(req StartRequest, conv types.Conversation, token, notifyFile string) launchSpec {
	env := envSlice(req.Env)

	switch req.AgentType {
	case types.AgentCodex:
		return sv.composeCodex(req, conv, token, env)
	case types.AgentClaude:
		return sv.composeClaude(req, notifyFile, env)
	case types.AgentCursor:
		return sv.composeCursor(req, notifyFile, env)
	default:
		name, shellArgs := defaultShell()
		args := append(append([]string{}, shellArgs...), req.Args...)
		return launchSpec{name: name, args: args, env: env}
	}
}

func (sv *Supervisor) composeCodex(req StartRequest, conv types.Conversation, token string, env []string) launchSpec {
	args := append([]string{}, req.Args...)

	if sv.cfg.TelemetryBaseURL != "" {
		exporterURL := fmt.Sprintf("%s/v1/logs/%s", sv.cfg.TelemetryBaseURL, token)
		args = append(args, "-c", "otel.exporter="+exporterURL)
		persistence := "none"
		if sv.cfg.HistoryPersistenceEnabled {
			persistence = "save-all"
		}
		args = append(args, "-c", fmt.Sprintf(`history.persistence=%s`, persistence))
	}

	if sv.cfg.LaunchMode == LaunchModeYolo && !hasSubcommand(args) {
		args = append([]string{"--yolo"}, args...)
	}

	resumeID := req.ResumeSessionID
	if resumeID == "" && conv.AdapterState.Codex != nil {
		resumeID = conv.AdapterState.Codex.ResumeSessionID
	}
	if resumeID != "" && !hasResume(args) {
		args = append([]string{"resume", resumeID}, args...)
	}

	return launchSpec{name: "codex", args: args, env: env}
}

func (sv *Supervisor) composeClaude(req StartRequest, notifyFile string, env []string) launchSpec {
	settings := claudeHookSettings{Hooks: map[string][]claudeHookEntry{
		"UserPromptSubmit": {{Hooks: []claudeHookCmd{{Type: "command", Command: notifySinkCommand(notifyFile, "UserPromptSubmit")}}}},
		"PreToolUse":       {{Hooks: []claudeHookCmd{{Type: "command", Command: notifySinkCommand(notifyFile, "PreToolUse")}}}},
		"PostToolUse":      {{Hooks: []claudeHookCmd{{Type: "command", Command: notifySinkCommand(notifyFile, "PostToolUse")}}}},
		"Stop":             {{Hooks: []claudeHookCmd{{Type: "command", Command: notifySinkCommand(notifyFile, "Stop")}}}},
		"Notification":     {{Hooks: []claudeHookCmd{{Type: "command", Command: notifySinkCommand(notifyFile, "Notification")}}}},
	}}
	b, _ := json.Marshal(settings)
	args := append([]string{"--settings", string(b)}, req.Args...)
	return launchSpec{name: "claude", args: args, env: env}
}

func (sv *Supervisor) composeCursor(req StartRequest, notifyFile string, env []string) launchSpec {
	env = append(env,
		"CURSOR_HOOK_NOTIFY_FILE="+notifyFile,
		"CURSOR_HOOK_SESSION_ID="+req.ConversationID,
	)
	return launchSpec{name: "cursor-agent", args: append([]string{}, req.Args...), env: env}
}

func notifySinkCommand(notifyFile, hookName string) string {
	// A tiny POSIX-shell append: the hook program's stdin JSON is
	// tagged with the originating hook name and appended as one JSONL
	// line, the format internal/hookbridge's poller expects.
	return fmt.Sprintf(`sh -c 'jq -c ". + {hook_event_name: \"%s\"}" >> %q'`, hookName, notifyFile)
}

func hasSubcommand(args []string) bool {
	for _, a := range args {
		if len(a) > 0 && a[0] != '-' {
			return true
		}
	}
	return false
}

func hasResume(args []string) bool {
	for _, a := range args {
		if a == "resume" {
			return true
		}
	}
	return false
}

// envSlice starts from the daemon's own environment (so the child
// inherits PATH, HOME, etc.) and layers the command's requested
// overrides on top.
func envSlice(m map[string]string) []string {
	out := append([]string{}, os.Environ()...)
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out
}

func encodeChunk(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}
