package types

import "encoding/json"

// StreamEventKind discriminates the `event` payload carried inside a
// stream.event envelope (spec.md section 3 and 6).
type StreamEventKind string

const (
	EventSessionStatus      StreamEventKind = "session-status"
	EventSessionControl     StreamEventKind = "session-control"
	EventSessionKeyEvent    StreamEventKind = "session-key-event"
	EventSessionPromptEvent StreamEventKind = "session-prompt-event"
	EventSessionOutput      StreamEventKind = "session-output"
	EventSessionEvent       StreamEventKind = "session-event"
	EventSessionRemoved     StreamEventKind = "session-removed"

	EventConversationCreated  StreamEventKind = "conversation-created"
	EventConversationUpdated  StreamEventKind = "conversation-updated"
	EventConversationArchived StreamEventKind = "conversation-archived"
	EventConversationDeleted  StreamEventKind = "conversation-deleted"

	EventDirectoryCreated  StreamEventKind = "directory-created"
	EventDirectoryUpdated  StreamEventKind = "directory-updated"
	EventDirectoryArchived StreamEventKind = "directory-archived"

	EventRepositoryCreated  StreamEventKind = "repository-created"
	EventRepositoryUpdated  StreamEventKind = "repository-updated"
	EventRepositoryArchived StreamEventKind = "repository-archived"

	EventTaskCreated StreamEventKind = "task-created"
	EventTaskUpdated StreamEventKind = "task-updated"
	EventTaskDeleted StreamEventKind = "task-deleted"
)

// SessionEventType discriminates the typed payload of an
// EventSessionEvent envelope.
type SessionEventType string

const (
	SessionEventExit   SessionEventType = "session-exit"
	SessionEventNotify SessionEventType = "notify"
)

// Event is the typed payload carried by a StreamEvent. Exactly one
// scope-relevant entity id is usually populated alongside Kind; Payload
// carries the kind-specific body, already JSON-shaped for the wire.
type Event struct {
	Kind StreamEventKind `json:"kind"`

	Scope          Scope  `json:"scope"`
	ConversationID string `json:"conversationId,omitempty"`
	DirectoryID    string `json:"directoryId,omitempty"`
	RepositoryID   string `json:"repositoryId,omitempty"`
	TaskID         string `json:"taskId,omitempty"`

	ObservedAt int64 `json:"observedAt"`

	Payload json.RawMessage `json:"payload,omitempty"`
}

// StreamEvent is the fan-out envelope a Subscription receives: a cursor
// watermark plus the underlying Event.
type StreamEvent struct {
	SubscriptionID string `json:"subscriptionId"`
	Cursor         int64  `json:"cursor"`
	Event          Event  `json:"event"`
}

// SessionStatusPayload is Event.Payload for EventSessionStatus.
type SessionStatusPayload struct {
	Status          RuntimeStatus `json:"status"`
	AttentionReason string        `json:"attentionReason,omitempty"`
}

// SessionControlPayload is Event.Payload for EventSessionControl.
type SessionControlPayload struct {
	ControllerID string `json:"controllerId"`
	Type         string `json:"type"`
	Label        string `json:"label"`
	ClaimedAt    int64  `json:"claimedAt"`
}

// KeyEvent is the normalized telemetry/hook-notify record both the
// Telemetry Ingest and Hook Notify Bridge produce (spec.md sections 4.F
// and 4.G).
type KeyEvent struct {
	Source           string        `json:"source"`
	ObservedAt       int64         `json:"observedAt"`
	EventName        string        `json:"eventName"`
	Severity         string        `json:"severity,omitempty"`
	Summary          string        `json:"summary,omitempty"`
	ProviderThreadID string        `json:"providerThreadId,omitempty"`
	StatusHint       RuntimeStatus `json:"statusHint,omitempty"`
	Payload          interface{}   `json:"payload,omitempty"`
}

// PromptEvent is Event.Payload for EventSessionPromptEvent.
type PromptEvent struct {
	Index      int    `json:"index"`
	Text       string `json:"text"`
	ObservedAt int64  `json:"observedAt"`
}

// SessionEventPayload is Event.Payload for EventSessionEvent.
type SessionEventPayload struct {
	Type  SessionEventType `json:"type"`
	Exit  *RuntimeExit     `json:"exit,omitempty"`
	Notify json.RawMessage `json:"record,omitempty"`
}
