// Package gateway provides the model gateway: a uniform, role-typed
// interface over the remote text-generation endpoints the pipeline
// calls. One request, one response, one configurable timeout per role.
// Retry policy lives in the orchestrator, not here.
package gateway

import (
	"context"

	"github.com/Frank-Unlimited/Senior3-Tutorial-Backen/internal/domain"
)

// Request is a single model invocation.
type Request struct {
	Role      domain.Role
	System    string        // persona/system prompt, opaque to the gateway
	Prompt    string        // user-turn text
	History   []domain.Turn // prior conversation turns, oldest first
	Image     []byte        // optional image payload (vision role)
	ImageMIME string
	Override  *domain.ModelOverride // per-session model override, nil for defaults
}

// Gateway invokes one model call for the given role. Failures are one
// of domain.ErrUpstreamTimeout, *domain.UpstreamError or
// domain.ErrUpstreamMalformedResponse.
type Gateway interface {
	Invoke(ctx context.Context, req Request) (string, error)
}
