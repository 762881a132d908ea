package chatcore

import "errors"

// Common errors shared across the chatcore subsystems.
var (
	// ErrStoreUnavailable indicates the shared key-value store cannot be
	// reached right now. Callers treat this as a transient infra failure.
	ErrStoreUnavailable = errors.New("shared store unavailable")

	// ErrSessionBusy indicates another request for the same session is
	// still being processed in this process.
	ErrSessionBusy = errors.New("session request already in progress")

	// ErrInvalidConfig indicates a constructor received unusable options.
	ErrInvalidConfig = errors.New("invalid configuration")
)
