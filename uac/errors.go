package uac

import "errors"

var (
	// ErrStall marks a protocol validation failure (unknown entity,
	// channel out of range, unsupported control selector, malformed
	// recipient). The dispatcher's caller must answer it with an EP0
	// stall; it is never retried internally.
	ErrStall = errors.New("uac: invalid class request")

	// ErrNotReady reports that the host has the zero-bandwidth
	// alternate setting selected for the direction, so the operation
	// cannot proceed right now. Callers may silently retry later.
	ErrNotReady = errors.New("uac: streaming interface not active")
)
