package telemetry

import "github.com/agentrails/agentrailsd/internal/types"

// runningEvents, completedEvents, and needsInputEvents are the exact
// eventName sets spec.md section 4.F maps to each statusHint.
var runningEvents = map[string]bool{
	"codex.user_prompt":           true,
	"claude.userpromptsubmit":     true,
	"claude.pretooluse":           true,
	"cursor.beforesubmitprompt":   true,
	"cursor.beforeshellexecution": true,
	"cursor.beforemcptool":        true,
}

var completedEvents = map[string]bool{
	"codex.turn.e2e_duration_ms": true,
	"claude.stop":                true,
	"claude.subagentstop":        true,
	"claude.sessionend":          true,
	"cursor.stop":                true,
	"cursor.sessionend":          true,
}

// verboseOnlyEvents are dropped unless verbose mode is on: a dropped
// event is neither fanned out nor recorded as an active-working hint.
var verboseOnlyEvents = map[string]bool{
	"codex.response.in_progress":                    true,
	"codex.response.output_text.delta":              true,
	"codex.response.output_item.added":               true,
	"codex.response.function_call_arguments.delta":  true,
}

// StatusHint derives the runtime status hint for one normalized event,
// following the exact rules in spec.md section 4.F. Shared with
// internal/hookbridge, whose JSONL-derived events feed the same
// status-deriver pipeline (spec.md section 4.G).
func StatusHint(eventName, summary string) types.RuntimeStatus {
	if runningEvents[eventName] {
		return types.StatusRunning
	}
	if completedEvents[eventName] {
		return types.StatusCompleted
	}
	if eventName == "codex.sse_event" && containsCompletionMarker(summary) {
		return types.StatusCompleted
	}
	return ""
}

// isApprovalNotification reports whether a claude.notification event's
// notification_type attribute indicates an approval/permission request
// (statusHint needs-input per spec.md section 4.F).
func isApprovalNotification(eventName string, attrs []keyValue) bool {
	if eventName != "claude.notification" {
		return false
	}
	nt := attrString(attrs, "notification_type")
	return nt == "approval" || nt == "permission-request" || nt == "permission_request"
}
