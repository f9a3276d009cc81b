// Package titlenamer implements the Thread-Title Namer: it watches a
// conversation's extracted prompts, debounces them, and asks a Provider
// to turn the running prompt history into a short thread title.
package titlenamer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/agentrails/agentrailsd/internal/store"
	"github.com/agentrails/agentrailsd/internal/types"
)

const (
	defaultDebounceDelay = 250 * time.Millisecond
	defaultCallTimeout   = 20 * time.Second
)

// Provider renders a title from a conversation's numbered prompt
// history. Implementations should strip non-text content before
// building their request (spec.md section 4.J).
type Provider interface {
	Name(ctx context.Context, prompts []types.PromptEvent) (string, error)
}

// history tracks one conversation's accumulated prompts and its
// pending debounce timer.
type history struct {
	mu      sync.Mutex
	prompts []types.PromptEvent
	hashes  map[string]struct{}
	timer   *time.Timer
}

// Namer is the default dispatch.TitleNamer implementation. It is wired
// to Supervisor.OnPrompt so every extracted prompt feeds its debounce
// timer, and it also answers conversation.title.refresh directly
// through RefreshTitle, sharing the same logic with the debounced path.
type Namer struct {
	Store    *store.Store
	Provider Provider

	// DebounceDelay overrides the 250ms default from spec.md section
	// 4.J; zero means use the default.
	DebounceDelay time.Duration
	// CallTimeout bounds a single Provider.Name call.
	CallTimeout time.Duration

	mu     sync.Mutex
	byConv map[string]*history
}

// New builds a Namer backed by st and provider.
func New(st *store.Store, provider Provider) *Namer {
	return &Namer{Store: st, Provider: provider, byConv: make(map[string]*history)}
}

func (n *Namer) debounceDelay() time.Duration {
	if n.DebounceDelay > 0 {
		return n.DebounceDelay
	}
	return defaultDebounceDelay
}

func (n *Namer) callTimeout() time.Duration {
	if n.CallTimeout > 0 {
		return n.CallTimeout
	}
	return defaultCallTimeout
}

func (n *Namer) historyFor(conversationID string) *history {
	n.mu.Lock()
	defer n.mu.Unlock()
	h, ok := n.byConv[conversationID]
	if !ok {
		h = &history{hashes: make(map[string]struct{})}
		n.byConv[conversationID] = h
	}
	return h
}

// OnPrompt records a newly observed prompt and (re)schedules the
// debounce timer, dropping whatever timer was already pending (spec.md
// section 9: "a cancel-and-reschedule timer; when a new prompt arrives,
// the pending timer is dropped"). Matches Supervisor.OnPrompt's shape
// so it can be assigned directly.
func (n *Namer) OnPrompt(conversationID string, prompt types.PromptEvent) {
	h := n.historyFor(conversationID)

	h.mu.Lock()
	defer h.mu.Unlock()

	sum := sha256.Sum256([]byte(prompt.Text))
	hash := hex.EncodeToString(sum[:])
	if _, dup := h.hashes[hash]; !dup {
		h.hashes[hash] = struct{}{}
		h.prompts = append(h.prompts, prompt)
	}
	if h.timer != nil {
		h.timer.Stop()
	}
	h.timer = time.AfterFunc(n.debounceDelay(), func() {
		_, _, _, _ = n.RefreshTitle(context.Background(), conversationID)
	})
}

// RefreshTitle implements dispatch.TitleNamer. It backs both the
// debounce timer's fire and the conversation.title.refresh command, so
// status/reason classification never drifts between the two call
// sites.
func (n *Namer) RefreshTitle(ctx context.Context, conversationID string) (status, reason, title string, err error) {
	conv, err := n.Store.GetConversation(ctx, conversationID)
	if err != nil {
		return "", "", "", err
	}
	if conv.AgentType == types.AgentTerminal {
		return "skipped", "non-agent-thread", conv.Title, nil
	}

	n.mu.Lock()
	h := n.byConv[conversationID]
	n.mu.Unlock()
	if h == nil {
		return "skipped", "prompt-history-empty", conv.Title, nil
	}

	h.mu.Lock()
	prompts := append([]types.PromptEvent(nil), h.prompts...)
	h.mu.Unlock()
	if len(prompts) == 0 {
		return "skipped", "prompt-history-empty", conv.Title, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, n.callTimeout())
	defer cancel()
	newTitle, err := n.Provider.Name(callCtx, prompts)
	if err != nil {
		return "", "", "", err
	}

	newTitle = strings.TrimSpace(newTitle)
	if newTitle == "" || newTitle == conv.Title {
		return "unchanged", "", conv.Title, nil
	}

	t := newTitle
	updated, err := n.Store.UpdateConversation(ctx, conv.Scope, conversationID, types.ConversationPatch{Title: &t})
	if err != nil {
		return "", "", "", err
	}
	return "updated", "", updated.Title, nil
}
