package domain

import "errors"

// Common errors surfaced by the core to its callers.
var (
	// ErrCapacityExceeded is returned when admission control refuses a new
	// session. No session state is created.
	ErrCapacityExceeded = errors.New("maximum concurrent sessions reached")

	// ErrSessionNotFound is returned by any session-scoped operation when
	// the id does not resolve.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionNotIndexed is returned when a search is attempted before
	// the session has indexed any content.
	ErrSessionNotIndexed = errors.New("session has no indexed content")
)
