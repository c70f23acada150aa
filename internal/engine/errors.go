// Package engine holds the action registry: the ordered action log, its state
// machine and the synchronous observer fan-out.
package engine

import "errors"

var (
	// ErrActionNotFound is returned when an update targets an id that is not in the log.
	ErrActionNotFound = errors.New("action not found")
	// ErrTerminalState is returned when an update targets a completed or failed action.
	ErrTerminalState = errors.New("action already in terminal state")
	// ErrInvalidTransition is returned when the requested status change is not an edge of the state machine.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrInvalidRequest is returned by Submit when a request cannot be turned into an action.
	ErrInvalidRequest = errors.New("invalid action request")
)
