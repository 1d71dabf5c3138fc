package dispatch

import "errors"

var (
	// ErrInvalidInput rejects malformed tenant/date/job input before any
	// state is touched.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStaleState means the conditional update lost to a concurrent
	// writer. Retryable: re-fetch and re-validate before retrying.
	ErrStaleState = errors.New("stale state")

	// ErrQueueFull means too many commits are already queued for the
	// technician-date slot. Retryable after backoff.
	ErrQueueFull = errors.New("commit queue full")

	// ErrConfirmationRequired means advisory conflicts exist and the
	// caller has not supplied an override.
	ErrConfirmationRequired = errors.New("confirmation required")

	// ErrUnknownToken means the commit token does not reference a pending
	// proposal.
	ErrUnknownToken = errors.New("unknown commit token")

	// ErrTokenExpired means the pending proposal timed out awaiting
	// confirmation.
	ErrTokenExpired = errors.New("commit token expired")
)
