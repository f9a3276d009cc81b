package dispatch

import (
	"context"
	"encoding/json"
)

func (d *Dispatcher) automationPolicyGet(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var req automationPolicyGetRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	policy, err := d.Store.GetPolicy(ctx, req.Scope, req.RepositoryID, req.ProjectID)
	if err != nil {
		return nil, translate("project", err)
	}
	return marshalResult(policy)
}

func (d *Dispatcher) automationPolicySet(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var req automationPolicySetRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	if err := d.Store.SetPolicy(ctx, req.Policy); err != nil {
		return nil, translate("project", err)
	}
	return marshalResult(req.Policy)
}
