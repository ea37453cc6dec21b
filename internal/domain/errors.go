package domain

import "errors"

// Sentinel errors shared across the engine and its collaborators. Callers
// classify with errors.Is; raw upstream detail is wrapped behind these and
// never crosses the storefront boundary.
var (
	// ErrRateLimited is returned when admission control rejects a request.
	ErrRateLimited = errors.New("rate limited")

	// ErrUpstream is returned when the platform admin API cannot be reached
	// or answers with a non-success status.
	ErrUpstream = errors.New("upstream request failed")

	// ErrMalformedResponse is returned when the platform admin API answers
	// with a payload that cannot be interpreted.
	ErrMalformedResponse = errors.New("malformed upstream response")
)
