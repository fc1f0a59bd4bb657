package authz

import (
	"context"
	"errors"
)

// ExplainRequest is a minimal request for the Explain API used by admin
// tooling. Permission has the form "resource:action".
type ExplainRequest struct {
	Workspace  string `json:"workspace"`
	IdentityID string `json:"identity_id"`
	Permission string `json:"permission"`
}

func (e *Engine) ExplainRequest(ctx context.Context, req *ExplainRequest) (Decision, error) {
	if req == nil {
		return Decision{}, errors.New("explain request is required")
	}
	resource, action, err := ParsePermission(req.Permission)
	if err != nil {
		return Decision{}, err
	}
	return e.Explain(ctx, req.IdentityID, req.Workspace, resource, action), nil
}
