// Package rocket implements the job-level state machine: Job, SlicedJob,
// status projection, and the Sidekiq-compatible retry backoff.
package rocket

import "errors"

// Sentinel error kinds the core distinguishes, matching spec §7's
// concept-level taxonomy (names are concept-level, not external type
// names one layer up).
var (
	// ErrValidation marks a job or config field out of range: never
	// propagates to a running worker, always reported synchronously.
	ErrValidation = errors.New("rocket: validation error")

	// ErrNotFound marks a CAS precondition failure: the caller reloads the
	// job and re-evaluates rather than treating it as fatal.
	ErrNotFound = errors.New("rocket: job not found or state changed")

	// ErrCodec marks a malformed slice payload. Fails the slice; its
	// record number is unknown and recorded as 0.
	ErrCodec = errors.New("rocket: codec error")

	// ErrWorkerNotRegistered marks an unknown className at dispatch time.
	ErrWorkerNotRegistered = errors.New("rocket: worker not registered")
)
