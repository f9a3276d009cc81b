package types

import "time"

// AgentType enumerates the kinds of child process a Conversation's PTY
// session can be backed by.
type AgentType string

const (
	AgentCodex    AgentType = "codex"
	AgentClaude   AgentType = "claude"
	AgentCursor   AgentType = "cursor"
	AgentTerminal AgentType = "terminal"
)

// RuntimeStatus is the derived per-conversation status projection,
// produced by the Status Deriver from hook/OTLP/exit signals.
type RuntimeStatus string

const (
	StatusRunning    RuntimeStatus = "running"
	StatusCompleted  RuntimeStatus = "completed"
	StatusNeedsInput RuntimeStatus = "needs-input"
	StatusExited     RuntimeStatus = "exited"
)

// RuntimeExit captures a PTY child's terminal exit condition.
type RuntimeExit struct {
	Code   *int    `json:"code"`
	Signal *string `json:"signal"`
}

// CodexAdapterState is the Codex-specific extension of adapterState.
// Modeled as a tagged variant (see SPEC_FULL.md's re-architecture notes)
// rather than an untyped map.
type CodexAdapterState struct {
	ResumeSessionID string    `json:"resumeSessionId,omitempty"`
	LastObservedAt  time.Time `json:"lastObservedAt,omitempty"`
}

// ClaudeAdapterState is the Claude-specific extension of adapterState.
type ClaudeAdapterState struct {
	ResumeSessionID string    `json:"resumeSessionId,omitempty"`
	LastObservedAt  time.Time `json:"lastObservedAt,omitempty"`
}

// CursorAdapterState is the Cursor-specific extension of adapterState.
type CursorAdapterState struct {
	ResumeSessionID string    `json:"resumeSessionId,omitempty"`
	LastObservedAt  time.Time `json:"lastObservedAt,omitempty"`
}

// AdapterState is the per-agent extension metadata stored on a
// Conversation. Exactly one of the typed branches is populated for a
// given Conversation.AgentType; Unknown retains forward-compatible data
// for agent types this build doesn't recognize.
type AdapterState struct {
	Codex   *CodexAdapterState     `json:"codex,omitempty"`
	Claude  *ClaudeAdapterState    `json:"claude,omitempty"`
	Cursor  *CursorAdapterState    `json:"cursor,omitempty"`
	Unknown map[string]interface{} `json:"unknown,omitempty"`
}

// Conversation is an agent session record. directoryId is optional.
type Conversation struct {
	ID          string    `json:"id"`
	Scope       Scope     `json:"scope"`
	DirectoryID string    `json:"directoryId,omitempty"`
	Title       string    `json:"title"`
	AgentType   AgentType `json:"agentType"`

	AdapterState AdapterState `json:"adapterState"`

	CreatedAt  time.Time  `json:"createdAt"`
	ArchivedAt *time.Time `json:"archivedAt,omitempty"`

	// Derived runtime fields, maintained by the Status Deriver and
	// Session Supervisor rather than persisted transactionally with the
	// row above (they change far more often).
	RuntimeStatus      RuntimeStatus `json:"runtimeStatus,omitempty"`
	RuntimeLive        bool          `json:"runtimeLive"`
	AttentionReason    string        `json:"attentionReason,omitempty"`
	RuntimeProcessID   int           `json:"runtimeProcessId,omitempty"`
	RuntimeLastEventAt time.Time     `json:"runtimeLastEventAt,omitempty"`
	RuntimeLastExit    *RuntimeExit  `json:"runtimeLastExit,omitempty"`
}

// Archived reports whether the conversation has been archived.
func (c *Conversation) Archived() bool { return c != nil && c.ArchivedAt != nil }

// ConversationPatch carries the mutable subset of a Conversation for
// updateConversation; nil fields are left unchanged.
type ConversationPatch struct {
	Title       *string
	DirectoryID *string
}

// ConversationFilter narrows listConversations results.
type ConversationFilter struct {
	DirectoryID     string
	Scope           *Scope
	IncludeArchived bool
}
