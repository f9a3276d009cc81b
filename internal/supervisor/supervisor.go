// Package supervisor implements the Session Supervisor (spec.md section
// 4.D): the session registry, launch-arg composition per agentType,
// controller arbitration, and exit handling, wired on top of
// internal/ptysession, internal/store, internal/router, and
// internal/status.
package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/agentrails/agentrailsd/internal/idgen"
	"github.com/agentrails/agentrailsd/internal/ptysession"
	"github.com/agentrails/agentrailsd/internal/router"
	"github.com/agentrails/agentrailsd/internal/status"
	"github.com/agentrails/agentrailsd/internal/store"
	"github.com/agentrails/agentrailsd/internal/types"
)

// LaunchMode controls the default approval posture codex sessions start
// with (spec.md section 4.D).
type LaunchMode string

const (
	LaunchModeApproval LaunchMode = "approval"
	LaunchModeYolo     LaunchMode = "yolo"
)

// Config holds daemon-wide supervisor settings, threaded explicitly
// rather than read from globals (SPEC_FULL.md's re-architecture notes:
// "pass explicit dependencies... through a context object").
type Config struct {
	// TelemetryBaseURL is the base the OTLP exporter arg is built
	// against, e.g. "http://127.0.0.1:4319". Empty disables telemetry
	// injection for codex sessions.
	TelemetryBaseURL string
	// LaunchMode is the default codex approval posture.
	LaunchMode LaunchMode
	// HooksDir is where per-session notify files are created for
	// claude/cursor launches; internal/hookbridge watches this
	// directory.
	HooksDir string
	// HistoryPersistenceEnabled selects codex's history.persistence
	// setting when telemetry is enabled: "save-all" when true, "none"
	// when false.
	HistoryPersistenceEnabled bool
}

// StartRequest composes a pty.start command (spec.md section 6).
type StartRequest struct {
	ConversationID string
	Scope          types.Scope
	AgentType      types.AgentType
	Args           []string
	Env            map[string]string
	Cols           int
	Rows           int
	// ResumeSessionID, if set, is the codex session id to resume; when
	// empty, adapterState.codex.resumeSessionId (observed via a prior
	// telemetry merge) is used. Other agents ignore it.
	ResumeSessionID string
}

type sessionRuntime struct {
	conversationID string
	scope          types.Scope
	directoryID    string
	agentType      types.AgentType
	session        *ptysession.Session
	attachID       string
	token          string
	notifyFile     string
	controller     *types.Controller
	telemetry      types.TelemetrySummary
	promptCount    int
	lastKeyEvent   struct {
		name       string
		observedAt int64
	}
}

// Supervisor owns every live SessionRuntime, keyed by sessionId (=
// conversationId).
type Supervisor struct {
	mu       sync.Mutex
	sessions map[string]*sessionRuntime
	tokens   map[string]string // telemetry token -> conversationID

	store    *store.Store
	router   *router.Router
	deriver  *status.Deriver
	cfg      Config
	gitCache *gitStatusCache

	// mirror is the optional cross-process SessionMirror (SPEC_FULL.md's
	// DOMAIN STACK); nil unless SetMirror is called. A nil mirror makes
	// RefreshGitStatus/GitStatus single-process, local-cache-only — the
	// behavior before SessionMirror existed.
	mirror SessionMirror
	log    *slog.Logger

	// OnPrompt, if set, is called for every extracted prompt so the
	// Thread-Title Namer can feed its debounce timer without
	// internal/supervisor importing internal/titlenamer directly.
	OnPrompt func(conversationID string, prompt types.PromptEvent)

	// OnHookSession, if set, is called after a claude/cursor session's
	// PTY starts so internal/hookbridge can start tailing its notify
	// file without internal/supervisor importing internal/hookbridge.
	OnHookSession func(conversationID, notifyFile string, agentType types.AgentType)

	// OnSessionExit, if set, is called when a session's child process
	// exits, so internal/hookbridge can stop tailing its notify file.
	OnSessionExit func(conversationID string)
}

// New creates a Supervisor.
func New(st *store.Store, rt *router.Router, cfg Config) *Supervisor {
	return &Supervisor{
		sessions: make(map[string]*sessionRuntime),
		tokens:   make(map[string]string),
		store:    st,
		router:   rt,
		deriver:  status.New(),
		cfg:      cfg,
		gitCache: newGitStatusCache(),
		log:      slog.Default(),
	}
}

// SetLogger overrides the Supervisor's logger (default slog.Default()).
func (sv *Supervisor) SetLogger(log *slog.Logger) {
	if log != nil {
		sv.log = log
	}
}

// SessionMirror is the subset of internal/daemon.SessionMirror the
// Supervisor needs, declared locally to avoid internal/supervisor
// importing internal/daemon for a single narrow capability.
type SessionMirror interface {
	SetGitStatus(ctx context.Context, snap types.GitStatusSnapshot) error
	GitStatus(ctx context.Context, directoryID string) (types.GitStatusSnapshot, bool, error)
}

// SetMirror attaches a cross-process SessionMirror (SPEC_FULL.md's
// DOMAIN STACK: optional Redis-backed sharing of ephemeral
// GitStatusSnapshot/TelemetrySummary state). Call once during bootstrap,
// before serving traffic; nil (the default) keeps RefreshGitStatus/
// GitStatus local-cache-only.
func (sv *Supervisor) SetMirror(m SessionMirror) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	sv.mirror = m
}

// ResolveToken maps a telemetry token back to its conversationId, for
// the Telemetry Ingest HTTP handlers.
func (sv *Supervisor) ResolveToken(token string) (string, bool) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	id, ok := sv.tokens[token]
	return id, ok
}

// Token returns the telemetry token minted for a live conversationId's
// session, for callers (e.g. hook bridges) that need to hand it to a
// spawned agent after the fact.
func (sv *Supervisor) Token(conversationID string) (string, bool) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	rt, ok := sv.sessions[conversationID]
	if !ok || rt.token == "" {
		return "", false
	}
	return rt.token, true
}

// StartSession spawns a new PTY session for req.ConversationID.
func (sv *Supervisor) StartSession(ctx context.Context, req StartRequest) (types.Conversation, error) {
	sv.mu.Lock()
	if _, exists := sv.sessions[req.ConversationID]; exists {
		sv.mu.Unlock()
		return types.Conversation{}, types.ErrSessionAlreadyExists
	}
	sv.mu.Unlock()

	conv, err := sv.store.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return types.Conversation{}, err
	}

	token := idgen.NewEntityID("tok")
	notifyFile := sv.notifyFilePath(req.ConversationID)
	launch := sv.composeLaunch(req, conv, token, notifyFile)

	sess, err := ptysession.Start(ptysession.StartParams{
		Name: launch.name, Args: launch.args, Env: launch.env, Cols: req.Cols, Rows: req.Rows,
	})
	if err != nil {
		return types.Conversation{}, fmt.Errorf("supervisor: start session %s: %w", req.ConversationID, err)
	}

	rt := &sessionRuntime{
		conversationID: req.ConversationID,
		scope:          req.Scope,
		directoryID:    conv.DirectoryID,
		agentType:      req.AgentType,
		session:        sess,
		token:          token,
		notifyFile:     notifyFile,
	}

	sv.mu.Lock()
	sv.sessions[req.ConversationID] = rt
	sv.tokens[token] = req.ConversationID
	sv.mu.Unlock()

	rt.attachID = sess.Attach(0, func(c ptysession.Chunk) {
		sv.router.Publish(types.Event{
			Kind: types.EventSessionOutput, Scope: req.Scope, ConversationID: req.ConversationID,
			ObservedAt: time.Now().UnixMilli(), Payload: mustMarshal(sessionOutputPayload{Cursor: c.Cursor, ChunkBase64: encodeChunk(c.Data)}),
		})
	}, func(ev types.SessionEventPayload) {
		sv.handleSessionEvent(req.ConversationID, ev)
	})

	live := true
	now := time.Now()
	pid := sess.Pid()
	updated, _, err := sv.store.UpdateConversationRuntime(ctx, req.ConversationID, store.RuntimeUpdate{
		Live: &live, ProcessID: &pid, LastEventAt: &now,
	})
	if err != nil {
		return types.Conversation{}, err
	}

	if sv.OnHookSession != nil && (req.AgentType == types.AgentClaude || req.AgentType == types.AgentCursor) {
		sv.OnHookSession(req.ConversationID, notifyFile, req.AgentType)
	}

	return updated, nil
}

type sessionOutputPayload struct {
	Cursor      int64  `json:"cursor"`
	ChunkBase64 string `json:"chunkBase64"`
}

func (sv *Supervisor) handleSessionEvent(conversationID string, ev types.SessionEventPayload) {
	switch ev.Type {
	case types.SessionEventExit:
		sv.onExit(conversationID, ev.Exit)
	case types.SessionEventNotify:
		sv.runtimeOf(conversationID, func(rt *sessionRuntime) {
			sv.router.Publish(types.Event{
				Kind: types.EventSessionEvent, Scope: rt.scope, ConversationID: conversationID,
				ObservedAt: time.Now().UnixMilli(), Payload: mustMarshal(ev),
			})
		})
	}
}

func (sv *Supervisor) onExit(conversationID string, exit *types.RuntimeExit) {
	ctx := context.Background()
	sv.deriver.ApplyExit(conversationID)
	if sv.OnSessionExit != nil {
		sv.OnSessionExit(conversationID)
	}

	sv.mu.Lock()
	rt, ok := sv.sessions[conversationID]
	if ok {
		delete(sv.tokens, rt.token)
	}
	sv.mu.Unlock()
	if !ok {
		return
	}

	live := false
	zero := 0
	status := types.StatusExited
	now := time.Now()
	_, _, err := sv.store.UpdateConversationRuntime(ctx, conversationID, store.RuntimeUpdate{
		Status: &status, Live: &live, ProcessID: &zero, LastEventAt: &now, Exit: exit,
	})
	if err != nil {
		return
	}

	sv.router.Publish(types.Event{
		Kind: types.EventSessionEvent, Scope: rt.scope, ConversationID: conversationID,
		ObservedAt: now.UnixMilli(),
		Payload:    mustMarshal(types.SessionEventPayload{Type: types.SessionEventExit, Exit: exit}),
	})
	sv.router.Publish(types.Event{
		Kind: types.EventSessionStatus, Scope: rt.scope, ConversationID: conversationID,
		ObservedAt: now.UnixMilli(),
		Payload:    mustMarshal(types.SessionStatusPayload{Status: types.StatusExited}),
	})
}

// Attach re-attaches a caller to a live session, replaying chunks after
// sinceCursor. onEvent receives every typed session-event the PTY
// emits (session-exit, notify) for as long as the attachment lives, so
// the connection layer can forward pty.exit/pty.event envelopes to the
// attached client directly rather than only through subscription
// fan-out. Returns an error if the session is not live.
func (sv *Supervisor) Attach(conversationID string, sinceCursor int64, onData func(ptysession.Chunk), onEvent func(types.SessionEventPayload)) (string, error) {
	sv.mu.Lock()
	rt, ok := sv.sessions[conversationID]
	sv.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("pty session %s: %w", conversationID, types.ErrConversationNotFound)
	}
	if onEvent == nil {
		onEvent = func(types.SessionEventPayload) {}
	}
	id := rt.session.Attach(sinceCursor, onData, onEvent)
	return id, nil
}

// Detach removes a caller's attachment from a live session.
func (sv *Supervisor) Detach(conversationID, attachmentID string) {
	sv.mu.Lock()
	rt, ok := sv.sessions[conversationID]
	sv.mu.Unlock()
	if ok {
		rt.session.Detach(attachmentID)
	}
}

// Write sends input bytes to a live session's PTY.
func (sv *Supervisor) Write(conversationID string, data []byte) error {
	sv.mu.Lock()
	rt, ok := sv.sessions[conversationID]
	sv.mu.Unlock()
	if !ok {
		return fmt.Errorf("pty session %s: %w", conversationID, types.ErrConversationNotFound)
	}
	return rt.session.Write(data)
}

// Resize adjusts a live session's terminal window.
func (sv *Supervisor) Resize(conversationID string, cols, rows int) error {
	sv.mu.Lock()
	rt, ok := sv.sessions[conversationID]
	sv.mu.Unlock()
	if !ok {
		return fmt.Errorf("pty session %s: %w", conversationID, types.ErrConversationNotFound)
	}
	return rt.session.Resize(cols, rows)
}

// Signal sends a named signal to a live session's child process.
func (sv *Supervisor) Signal(conversationID, kind string) error {
	sv.mu.Lock()
	rt, ok := sv.sessions[conversationID]
	sv.mu.Unlock()
	if !ok {
		return fmt.Errorf("pty session %s: %w", conversationID, types.ErrConversationNotFound)
	}
	return rt.session.Signal(kind)
}

// Close closes a live session's PTY (used by session.remove and daemon
// shutdown); it does not touch durable conversation state.
func (sv *Supervisor) Close(conversationID string) error {
	sv.mu.Lock()
	rt, ok := sv.sessions[conversationID]
	sv.mu.Unlock()
	if !ok {
		return nil
	}
	return rt.session.Close()
}

// SessionCount reports the number of live in-memory sessions, for the
// daemon's status/health surface.
func (sv *Supervisor) SessionCount() int {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return len(sv.sessions)
}

// Shutdown closes every live session's PTY concurrently (each one
// already runs its own SIGTERM-grace-SIGKILL sequence via
// ptysession.Session.Close) and returns once all of them have exited.
// Used by the daemon's shutdown sequence, after the listener has
// stopped accepting connections and in-flight replies have flushed.
func (sv *Supervisor) Shutdown() {
	sv.mu.Lock()
	runtimes := make([]*sessionRuntime, 0, len(sv.sessions))
	for _, rt := range sv.sessions {
		runtimes = append(runtimes, rt)
	}
	sv.mu.Unlock()

	var wg sync.WaitGroup
	for _, rt := range runtimes {
		wg.Add(1)
		go func(rt *sessionRuntime) {
			defer wg.Done()
			_ = rt.session.Close()
		}(rt)
	}
	wg.Wait()
}

// Remove deletes the in-memory runtime for conversationID and emits
// session-removed. It does not archive the durable conversation
// (spec.md section 4.D).
func (sv *Supervisor) Remove(conversationID string) {
	sv.mu.Lock()
	rt, ok := sv.sessions[conversationID]
	if ok {
		delete(sv.sessions, conversationID)
		delete(sv.tokens, rt.token)
	}
	sv.mu.Unlock()
	if !ok {
		return
	}
	_ = rt.session.Close()
	sv.deriver.Forget(conversationID)
	sv.router.Publish(types.Event{
		Kind: types.EventSessionRemoved, Scope: rt.scope, ConversationID: conversationID,
		ObservedAt: time.Now().UnixMilli(),
	})
}

// Claim records an exclusive controller lease. Fails with
// ErrAlreadyClaimed (wrapped with the claimant's label, per spec.md
// section 7's exact error substring) if another controller already
// holds the lease.
func (sv *Supervisor) Claim(conversationID, controllerID, ctype, label string) error {
	return sv.claim(conversationID, controllerID, ctype, label, false)
}

// Takeover replaces any existing lease unconditionally.
func (sv *Supervisor) Takeover(conversationID, controllerID, ctype, label string) error {
	return sv.claim(conversationID, controllerID, ctype, label, true)
}

func (sv *Supervisor) claim(conversationID, controllerID, ctype, label string, takeover bool) error {
	sv.mu.Lock()
	rt, ok := sv.sessions[conversationID]
	if !ok {
		sv.mu.Unlock()
		return fmt.Errorf("pty session %s: %w", conversationID, types.ErrConversationNotFound)
	}
	if !takeover && rt.controller != nil && rt.controller.ID != controllerID {
		existingLabel := rt.controller.Label
		sv.mu.Unlock()
		return fmt.Errorf("session is already claimed by %s: %w", existingLabel, types.ErrAlreadyClaimed)
	}
	ctrl := &types.Controller{ID: controllerID, Type: ctype, Label: label, ClaimedAt: time.Now()}
	rt.controller = ctrl
	scope := rt.scope
	sv.mu.Unlock()

	sv.router.Publish(types.Event{
		Kind: types.EventSessionControl, Scope: scope, ConversationID: conversationID,
		ObservedAt: ctrl.ClaimedAt.UnixMilli(),
		Payload: mustMarshal(types.SessionControlPayload{
			ControllerID: ctrl.ID, Type: ctrl.Type, Label: ctrl.Label, ClaimedAt: ctrl.ClaimedAt.UnixMilli(),
		}),
	})
	return nil
}

// Release clears a session's controller lease.
func (sv *Supervisor) Release(conversationID string) {
	sv.mu.Lock()
	rt, ok := sv.sessions[conversationID]
	if ok {
		rt.controller = nil
	}
	sv.mu.Unlock()
	_ = ok
}

// Controller returns the current lease holder for a session, if any.
func (sv *Supervisor) Controller(conversationID string) *types.Controller {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	rt, ok := sv.sessions[conversationID]
	if !ok {
		return nil
	}
	return rt.controller
}

// IsLive reports whether conversationID has an active in-memory
// runtime (used by internal/dispatch's session status and list replies).
func (sv *Supervisor) IsLive(conversationID string) bool {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	_, ok := sv.sessions[conversationID]
	return ok
}

// RecentOutput returns a scrollback snapshot for a live session, and
// the number of prompts observed on it so far, for callers (the
// Thread-Title Namer) that need something to summarize without
// attaching a live listener. ok is false if the session isn't live.
func (sv *Supervisor) RecentOutput(conversationID string) (output string, promptCount int, ok bool) {
	sv.mu.Lock()
	rt, found := sv.sessions[conversationID]
	sv.mu.Unlock()
	if !found {
		return "", 0, false
	}
	return rt.session.RecentOutput(), rt.promptCount, true
}

func (sv *Supervisor) runtimeOf(conversationID string, fn func(*sessionRuntime)) {
	sv.mu.Lock()
	rt, ok := sv.sessions[conversationID]
	sv.mu.Unlock()
	if ok {
		fn(rt)
	}
}

func (sv *Supervisor) notifyFilePath(conversationID string) string {
	dir := sv.cfg.HooksDir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "agentrailsd", "hooks")
	}
	return filepath.Join(dir, conversationID+".jsonl")
}

func mustMarshal(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

func defaultShell() (string, []string) {
	if runtime.GOOS == "windows" {
		if cs := os.Getenv("ComSpec"); cs != "" {
			return cs, nil
		}
		return "cmd.exe", nil
	}
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh, nil
	}
	return "sh", nil
}
