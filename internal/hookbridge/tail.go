package hookbridge

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/agentrails/agentrailsd/internal/supervisor"
	"github.com/agentrails/agentrailsd/internal/telemetry"
	"github.com/agentrails/agentrailsd/internal/types"
)

// tail is the per-session poll state: a byte offset into path and the
// consecutive-empty-poll count driving the idle backoff.
type tail struct {
	path   string
	nudge  chan struct{}
	cancel context.CancelFunc

	offset    int64
	emptyRuns int
}

func (t *tail) run(ctx context.Context, sv *supervisor.Supervisor, conversationID string, agentType types.AgentType) {
	for {
		n := t.poll(ctx, sv, conversationID, agentType)

		var delay time.Duration
		if n > 0 {
			t.emptyRuns = 0
			delay = jitter(activeMinMs, activeMaxMs)
		} else {
			t.emptyRuns++
			if t.emptyRuns >= idleAfterN {
				delay = jitter(idleMinMs, idleMaxMs)
			} else {
				delay = jitter(activeMinMs, activeMaxMs)
			}
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-t.nudge:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// poll reads any lines appended to t.path since t.offset, resetting to
// offset 0 on truncation (file shrink), and returns the number of
// records parsed.
func (t *tail) poll(ctx context.Context, sv *supervisor.Supervisor, conversationID string, agentType types.AgentType) int {
	f, err := os.Open(t.path)
	if err != nil {
		return 0
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return 0
	}
	if info.Size() < t.offset {
		t.offset = 0
	}
	if info.Size() == t.offset {
		return 0
	}

	if _, err := f.Seek(t.offset, 0); err != nil {
		t.offset = 0
		return 0
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	n := 0
	var consumed int64
	for scanner.Scan() {
		line := scanner.Bytes()
		consumed += int64(len(line)) + 1
		if len(line) == 0 {
			continue
		}
		var rec hookRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		ev, prompt, ok := mapHookRecord(agentType, rec)
		if !ok {
			continue
		}
		n++
		_ = sv.IngestKeyEvent(ctx, conversationID, ev)
		if prompt != "" {
			sv.IngestPrompt(conversationID, prompt, ev.ObservedAt)
		}
		if rec.SessionID != "" {
			switch agentType {
			case types.AgentClaude:
				_ = sv.ApplyClaudeAdapterState(ctx, conversationID, rec.SessionID)
			case types.AgentCursor:
				_ = sv.ApplyCursorAdapterState(ctx, conversationID, rec.SessionID)
			}
		}
	}
	t.offset += consumed
	return n
}

// hookRecord is the JSONL shape internal/supervisor's notify sink
// appends, tagged with the originating hook name (see
// internal/supervisor/launch.go's notifySinkCommand).
type hookRecord struct {
	HookEventName    string `json:"hook_event_name"`
	Prompt           string `json:"prompt,omitempty"`
	ToolName         string `json:"tool_name,omitempty"`
	Message          string `json:"message,omitempty"`
	NotificationType string `json:"notification_type,omitempty"`
	FinalStatus      string `json:"final_status,omitempty"`
	SessionID        string `json:"session_id,omitempty"`
	TimestampMs      int64  `json:"timestamp_ms,omitempty"`
}

var claudeEventNames = map[string]string{
	"UserPromptSubmit": "claude.userpromptsubmit",
	"PreToolUse":       "claude.pretooluse",
	"PostToolUse":      "claude.posttooluse",
	"Stop":             "claude.stop",
	"Notification":     "claude.notification",
}

var cursorEventNames = map[string]string{
	"beforeSubmitPrompt": "cursor.beforesubmitprompt",
	"stop":               "cursor.stop",
}

// mapHookRecord translates one raw hook record into a normalized key
// event per spec.md section 4.G, returning ok=false for hook names this
// bridge does not recognize.
func mapHookRecord(agentType types.AgentType, rec hookRecord) (types.KeyEvent, string, bool) {
	var names map[string]string
	switch agentType {
	case types.AgentClaude:
		names = claudeEventNames
	case types.AgentCursor:
		names = cursorEventNames
	default:
		return types.KeyEvent{}, "", false
	}

	name, known := names[rec.HookEventName]
	if !known {
		return types.KeyEvent{}, "", false
	}

	observedAt := rec.TimestampMs
	if observedAt == 0 {
		observedAt = time.Now().UnixMilli()
	}

	hint := telemetry.StatusHint(name, "")
	if name == "claude.notification" {
		if rec.NotificationType == "approval" || rec.NotificationType == "permission-request" || rec.NotificationType == "permission_request" {
			hint = types.StatusNeedsInput
		}
	}

	ev := types.KeyEvent{
		Source:     "hook",
		ObservedAt: observedAt,
		EventName:  name,
		Summary:    rec.Message,
		StatusHint: hint,
	}

	var prompt string
	if name == "claude.userpromptsubmit" || name == "cursor.beforesubmitprompt" {
		prompt = telemetry.ExtractPrompt(rec.Prompt)
	}

	return ev, prompt, true
}
