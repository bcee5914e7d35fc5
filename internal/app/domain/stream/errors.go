package stream

import "errors"

// State and authorization errors surfaced by the lifecycle API. All of them
// are rejected before any mutation; ErrStreamLocked means "retry after the
// pending transfer settles", not a permanent failure.
var (
	ErrStreamLocked     = errors.New("another operation is pending on the stream")
	ErrNotAuthorized    = errors.New("caller is not authorized for this operation")
	ErrAlreadyPaused    = errors.New("stream is already paused")
	ErrNotPaused        = errors.New("stream is not paused")
	ErrAlreadyCancelled = errors.New("stream is already cancelled")
	ErrNotCancelled     = errors.New("stream is not cancelled")
	ErrAlreadyWithdrawn = errors.New("stream is already withdrawn")
	ErrNotStarted       = errors.New("stream has not started yet")
	ErrAlreadyStarted   = errors.New("stream has already started")
	ErrNotEnded         = errors.New("stream has not ended yet")
	ErrEnded            = errors.New("stream has already ended")
	ErrNothingDue       = errors.New("no balance to withdraw")
	ErrCannotPause      = errors.New("stream does not allow pausing")
	ErrCannotCancel     = errors.New("stream does not allow cancellation")
	ErrCannotUpdate     = errors.New("stream does not allow updates")

	// ErrInvariantViolation marks arithmetic that prior checks should have
	// made impossible. It indicates a ledger defect, never user error.
	ErrInvariantViolation = errors.New("stream invariant violation")
)
