package types

import "time"

// Controller is an exclusive, transient lease identifying who is
// steering a session.
type Controller struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Label     string    `json:"label"`
	ClaimedAt time.Time `json:"claimedAt"`
}

// LaunchParams is the per-agentType launch composition the Session
// Supervisor derives (spec.md section 4.D). It is informational; the
// actual argv/env construction lives in internal/supervisor.
type LaunchParams struct {
	AgentType AgentType
	Args      []string
	Env       map[string]string
}

// TelemetrySummary is the last-known telemetry snapshot for a session,
// cached for quick session.status replies without replaying the event
// log.
type TelemetrySummary struct {
	LastEventName string
	LastObservedAt time.Time
	LastWorkHint   string
}
