package domain

import (
	"errors"
	"fmt"
)

// Synchronous API errors, surfaced directly to the calling interface.
var (
	ErrSessionNotFound        = errors.New("session not found")
	ErrSessionClosed          = errors.New("session closed")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrUnsupportedMedia       = errors.New("unsupported media type")
)

// Upstream model-call errors. The gateway maps transport failures onto
// these; the orchestrator owns the retry policy.
var (
	ErrUpstreamTimeout           = errors.New("upstream timeout")
	ErrUpstreamMalformedResponse = errors.New("upstream returned malformed response")
	ErrDependencyFailed          = errors.New("dependency failed")
)

// UpstreamError is a non-timeout failure reported by a model endpoint.
type UpstreamError struct {
	Status int
	Detail string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error (status %d): %s", e.Status, e.Detail)
}

// IsRetryable reports whether a gateway error is worth retrying.
// Timeouts, rate limits and server-side failures are transient; auth
// failures and malformed responses are not.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrUpstreamTimeout) {
		return true
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Status == 429 || ue.Status >= 500
	}
	return false
}
