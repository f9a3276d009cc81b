package supervisor

import (
	"context"
	"time"

	"github.com/agentrails/agentrailsd/internal/store"
	"github.com/agentrails/agentrailsd/internal/types"
)

// IngestKeyEvent applies one normalized key event (from telemetry or
// the hook notify bridge) to sessionID's runtime status, fans out the
// session-key-event, merges adapter state, and dedupes repeats of the
// same (sessionId, eventName, observedAt) triple (spec.md sections 4.F
// and 4.H). A no-op if the session has no live runtime, or its
// conversation is archived.
func (sv *Supervisor) IngestKeyEvent(ctx context.Context, sessionID string, ev types.KeyEvent) error {
	sv.mu.Lock()
	rt, ok := sv.sessions[sessionID]
	if !ok {
		sv.mu.Unlock()
		return nil
	}
	if rt.lastKeyEvent.name == ev.EventName && rt.lastKeyEvent.observedAt == ev.ObservedAt {
		sv.mu.Unlock()
		return nil
	}
	rt.lastKeyEvent.name = ev.EventName
	rt.lastKeyEvent.observedAt = ev.ObservedAt
	rt.telemetry = types.TelemetrySummary{LastEventName: ev.EventName, LastObservedAt: time.UnixMilli(ev.ObservedAt), LastWorkHint: ev.EventName}
	scope := rt.scope
	sv.mu.Unlock()

	conv, err := sv.store.GetConversation(ctx, sessionID)
	if err != nil || conv.Archived() {
		return nil
	}

	result := sv.deriver.Apply(sessionID, conv.RuntimeStatus, ev)
	if result.Changed {
		status := result.Status
		live := status == types.StatusRunning
		now := time.Now()
		var attention *string
		if status == types.StatusNeedsInput {
			reason := ev.EventName
			attention = &reason
		} else {
			empty := ""
			attention = &empty
		}
		if _, _, err := sv.store.UpdateConversationRuntime(ctx, sessionID, store.RuntimeUpdate{
			Status: &status, Live: &live, AttentionReason: attention, LastEventAt: &now,
		}); err != nil {
			return err
		}
		sv.router.Publish(types.Event{
			Kind: types.EventSessionStatus, Scope: scope, ConversationID: sessionID,
			ObservedAt: now.UnixMilli(),
			Payload:    mustMarshal(types.SessionStatusPayload{Status: status}),
		})
	}

	sv.router.Publish(types.Event{
		Kind: types.EventSessionKeyEvent, Scope: scope, ConversationID: sessionID,
		ObservedAt: ev.ObservedAt, Payload: mustMarshal(ev),
	})

	if ev.ProviderThreadID != "" && conv.AgentType == types.AgentCodex {
		observedAt := time.UnixMilli(ev.ObservedAt)
		threadID := ev.ProviderThreadID
		_ = sv.store.ApplyAdapterState(ctx, sessionID, func(a *types.AdapterState) {
			a.Codex = &types.CodexAdapterState{ResumeSessionID: threadID, LastObservedAt: observedAt}
		})
	}

	return nil
}

// IngestPrompt records an extracted prompt, emits session-prompt-event,
// and forwards it to the Thread-Title Namer's debounce timer (spec.md
// section 4.F / 4.J).
func (sv *Supervisor) IngestPrompt(sessionID string, text string, observedAt int64) {
	sv.mu.Lock()
	rt, ok := sv.sessions[sessionID]
	if !ok {
		sv.mu.Unlock()
		return
	}
	rt.promptCount++
	index := rt.promptCount
	scope := rt.scope
	sv.mu.Unlock()

	prompt := types.PromptEvent{Index: index, Text: text, ObservedAt: observedAt}
	sv.router.Publish(types.Event{
		Kind: types.EventSessionPromptEvent, Scope: scope, ConversationID: sessionID,
		ObservedAt: observedAt, Payload: mustMarshal(prompt),
	})
	if sv.OnPrompt != nil {
		sv.OnPrompt(sessionID, prompt)
	}
}

// ApplyClaudeAdapterState merges a claude-observed resume session id
// into adapterState (hook bridge path; telemetry takes the codex path
// in IngestKeyEvent).
func (sv *Supervisor) ApplyClaudeAdapterState(ctx context.Context, sessionID, resumeSessionID string) error {
	now := time.Now()
	return sv.store.ApplyAdapterState(ctx, sessionID, func(a *types.AdapterState) {
		a.Claude = &types.ClaudeAdapterState{ResumeSessionID: resumeSessionID, LastObservedAt: now}
	})
}

// ApplyCursorAdapterState merges a cursor-observed resume session id
// into adapterState.
func (sv *Supervisor) ApplyCursorAdapterState(ctx context.Context, sessionID, resumeSessionID string) error {
	now := time.Now()
	return sv.store.ApplyAdapterState(ctx, sessionID, func(a *types.AdapterState) {
		a.Cursor = &types.CursorAdapterState{ResumeSessionID: resumeSessionID, LastObservedAt: now}
	})
}
