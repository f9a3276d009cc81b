package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agentrails/agentrailsd/internal/types"
)

// SessionMirror is a shared, TTL'd, non-durable cache of per-directory
// GitStatusSnapshot and per-session TelemetrySummary values (spec.md
// section 3: both are explicitly ephemeral). A Supervisor always keeps
// its own in-memory copy for single-process lookups (internal/supervisor's
// gitStatusCache); SessionMirror exists for the optional multi-process
// deployment SPEC_FULL.md's DOMAIN STACK calls for, where a second
// daemon process (e.g. a read-only status sidecar) wants the same
// ephemeral state without talking to the first daemon's supervisor
// directly.
type SessionMirror interface {
	SetGitStatus(ctx context.Context, snap types.GitStatusSnapshot) error
	GitStatus(ctx context.Context, directoryID string) (types.GitStatusSnapshot, bool, error)
	SetTelemetry(ctx context.Context, conversationID string, summary types.TelemetrySummary) error
	Telemetry(ctx context.Context, conversationID string) (types.TelemetrySummary, bool, error)
	Close() error
}

const (
	mirrorNamespace   = "agentrailsd"
	defaultMirrorTTL  = 24 * time.Hour
)

// memoryMirror is an in-process SessionMirror: a plain TTL-less map.
// It is not a cache fallback for the Redis-backed implementation; the
// daemon's bootstrap sets no mirror at all when no Redis URL is
// configured.
type memoryMirror struct {
	mu         sync.Mutex
	gitStatus  map[string]types.GitStatusSnapshot
	telemetry  map[string]types.TelemetrySummary
}

// NewMemoryMirror creates a SessionMirror backed by an in-process map,
// used by tests that don't need a real Redis instance.
func NewMemoryMirror() SessionMirror {
	return &memoryMirror{
		gitStatus: make(map[string]types.GitStatusSnapshot),
		telemetry: make(map[string]types.TelemetrySummary),
	}
}

func (m *memoryMirror) SetGitStatus(_ context.Context, snap types.GitStatusSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gitStatus[snap.DirectoryID] = snap
	return nil
}

func (m *memoryMirror) GitStatus(_ context.Context, directoryID string) (types.GitStatusSnapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.gitStatus[directoryID]
	return snap, ok, nil
}

func (m *memoryMirror) SetTelemetry(_ context.Context, conversationID string, summary types.TelemetrySummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.telemetry[conversationID] = summary
	return nil
}

func (m *memoryMirror) Telemetry(_ context.Context, conversationID string) (types.TelemetrySummary, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	summary, ok := m.telemetry[conversationID]
	return summary, ok, nil
}

func (m *memoryMirror) Close() error { return nil }

// redisMirror implements SessionMirror over Redis, adapted from the
// teacher's ephemeral-wisp Redis store (internal/daemon's prior
// redisWispStore): same namespace/TTL/JSON-blob shape, generalized from
// one entity kind (a transient issue) to two (git status, telemetry
// summary).
type redisMirror struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
	closed    atomic.Bool
}

// RedisMirrorOption configures a redisMirror.
type RedisMirrorOption func(*redisMirror)

// WithNamespace overrides the default Redis key namespace prefix.
func WithNamespace(ns string) RedisMirrorOption {
	return func(m *redisMirror) {
		if ns != "" {
			m.namespace = ns
		}
	}
}

// WithTTL overrides the default per-key expiry.
func WithTTL(ttl time.Duration) RedisMirrorOption {
	return func(m *redisMirror) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// NewRedisMirror connects to redisURL (e.g. "redis://localhost:6379/0")
// and returns a SessionMirror backed by it.
func NewRedisMirror(redisURL string, opts ...RedisMirrorOption) (SessionMirror, error) {
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("daemon: invalid redis URL: %w", err)
	}
	client := redis.NewClient(redisOpts)

	m := &redisMirror{client: client, namespace: mirrorNamespace, ttl: defaultMirrorTTL}
	for _, opt := range opts {
		opt(m)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("daemon: redis ping failed: %w", err)
	}
	return m, nil
}

func (m *redisMirror) gitKey(directoryID string) string  { return m.namespace + ":gitstatus:" + directoryID }
func (m *redisMirror) telemetryKey(conversationID string) string {
	return m.namespace + ":telemetry:" + conversationID
}

func (m *redisMirror) SetGitStatus(ctx context.Context, snap types.GitStatusSnapshot) error {
	if m.closed.Load() {
		return fmt.Errorf("daemon: session mirror is closed")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("daemon: marshal git status: %w", err)
	}
	return m.client.Set(ctx, m.gitKey(snap.DirectoryID), data, m.ttl).Err()
}

func (m *redisMirror) GitStatus(ctx context.Context, directoryID string) (types.GitStatusSnapshot, bool, error) {
	if m.closed.Load() {
		return types.GitStatusSnapshot{}, false, fmt.Errorf("daemon: session mirror is closed")
	}
	data, err := m.client.Get(ctx, m.gitKey(directoryID)).Bytes()
	if err == redis.Nil {
		return types.GitStatusSnapshot{}, false, nil
	}
	if err != nil {
		return types.GitStatusSnapshot{}, false, fmt.Errorf("daemon: get git status: %w", err)
	}
	var snap types.GitStatusSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return types.GitStatusSnapshot{}, false, fmt.Errorf("daemon: unmarshal git status: %w", err)
	}
	return snap, true, nil
}

func (m *redisMirror) SetTelemetry(ctx context.Context, conversationID string, summary types.TelemetrySummary) error {
	if m.closed.Load() {
		return fmt.Errorf("daemon: session mirror is closed")
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("daemon: marshal telemetry summary: %w", err)
	}
	return m.client.Set(ctx, m.telemetryKey(conversationID), data, m.ttl).Err()
}

func (m *redisMirror) Telemetry(ctx context.Context, conversationID string) (types.TelemetrySummary, bool, error) {
	if m.closed.Load() {
		return types.TelemetrySummary{}, false, fmt.Errorf("daemon: session mirror is closed")
	}
	data, err := m.client.Get(ctx, m.telemetryKey(conversationID)).Bytes()
	if err == redis.Nil {
		return types.TelemetrySummary{}, false, nil
	}
	if err != nil {
		return types.TelemetrySummary{}, false, fmt.Errorf("daemon: get telemetry summary: %w", err)
	}
	var summary types.TelemetrySummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return types.TelemetrySummary{}, false, fmt.Errorf("daemon: unmarshal telemetry summary: %w", err)
	}
	return summary, true, nil
}

func (m *redisMirror) Close() error {
	m.closed.Store(true)
	return m.client.Close()
}
