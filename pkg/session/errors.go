package session

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when an operation addresses an unknown session.
// It is benign during cleanup races and silently absorbed there; everywhere
// else it surfaces as an error.
var ErrNotFound = errors.New("session: not found")

// ErrInactive is returned when a payload update addresses a session that is
// no longer accepting input.
var ErrInactive = errors.New("session: not accepting updates")

// ErrManagerClosed is returned by Create after the manager shut down.
var ErrManagerClosed = errors.New("session: manager is closed")

// Scope identifies which concurrency cap was hit.
type Scope string

const (
	// ScopeGlobal is the process-wide session cap.
	ScopeGlobal Scope = "global"

	// ScopeOwner is the per-owner session cap.
	ScopeOwner Scope = "owner"
)

// InvalidTransitionError reports an illegal state-machine edge. It is benign
// inside cleanup and an error elsewhere.
type InvalidTransitionError struct {
	From State
	To   State
}

// Error implements the error interface.
func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("session: invalid transition %s -> %s", e.From, e.To)
}

// LimitExceededError is fatal to a creation call: a cap was reached and
// eviction did not clear room. Its message is safe to show to the requester.
type LimitExceededError struct {
	Scope Scope
	cause error
}

// Error implements the error interface.
func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("too many active sessions (%s limit)", e.Scope)
}

// Unwrap returns the eviction failure that prevented admission, if any.
func (e *LimitExceededError) Unwrap() error {
	return e.cause
}

// CleanupFailedError wraps an unexpected error from cleanup's mandatory
// transition step. The benign NotFound and InvalidTransition outcomes are
// absorbed before this is ever constructed.
type CleanupFailedError struct {
	ID    string
	cause error
}

// Error implements the error interface.
func (e *CleanupFailedError) Error() string {
	return fmt.Sprintf("session: cleanup of %s failed: %v", e.ID, e.cause)
}

// Unwrap returns the underlying cause.
func (e *CleanupFailedError) Unwrap() error {
	return e.cause
}
