package types

import "errors"

// Affinity and transport errors. Every violation of the threading contract
// surfaces as one of these sentinel values, wrapped with the failing
// operation's name. Violations never panic and never silently succeed.
var (
	// ErrAffinityViolation reports that a handle operation ran on a
	// goroutine other than the one that opened the handle.
	ErrAffinityViolation = errors.New("handle used from non-owner goroutine")

	// ErrRefMisuse reports a thread-safe reference resolved more than once,
	// or resolved against a handle on a different locator.
	ErrRefMisuse = errors.New("thread-safe reference misused")
)

// Lifecycle errors.
var (
	// ErrHandleClosed is returned by operations on a closed handle.
	ErrHandleClosed = errors.New("handle is closed")

	// ErrLoopStopped is returned when scheduling work on a loop that has
	// already stopped.
	ErrLoopStopped = errors.New("loop is stopped")

	// ErrTxDone is returned by operations on a committed or rolled-back
	// transaction.
	ErrTxDone = errors.New("transaction already finished")

	// ErrTxOpen is returned by BeginWrite while the handle's previous write
	// transaction is still open.
	ErrTxOpen = errors.New("handle already has an open write transaction")
)
