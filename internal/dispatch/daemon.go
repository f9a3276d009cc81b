package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/agentrails/agentrailsd/internal/daemon"
)

// daemonStatusResult is daemon.status's payload (SPEC_FULL.md's
// supplemented daemon.status/healthz surface): store writer health,
// embedded NATS health, live session count, and subscription count,
// grounded on the teacher's internal/rpc health/metrics exposure.
type daemonStatusResult struct {
	Store         storeHealth   `json:"store"`
	NATS          daemon.Health `json:"nats"`
	Sessions      int           `json:"sessions"`
	Subscriptions int           `json:"subscriptions"`
	UptimeSeconds float64       `json:"uptimeSeconds"`
}

type storeHealth struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (d *Dispatcher) daemonStatus() (json.RawMessage, error) {
	sh := storeHealth{Status: "ok"}
	if err := d.Store.Ping(context.Background()); err != nil {
		sh.Status = "error"
		sh.Error = err.Error()
	}

	result := daemonStatusResult{
		Store:         sh,
		NATS:          d.NATS.Health(),
		Sessions:      d.Supervisor.SessionCount(),
		Subscriptions: d.Router.SubscriptionCount(),
		UptimeSeconds: time.Since(d.StartedAt).Seconds(),
	}
	return marshalResult(result)
}
