package sdk

import (
	"github.com/llmos-dev/llmos-actions/internal/engine"
	"github.com/llmos-dev/llmos-actions/pkg/schema"
)

var (
	// ErrActionNotFound is returned when the id is not (or no longer) in the log.
	ErrActionNotFound = engine.ErrActionNotFound
	// ErrTerminalState is returned when the action already completed or failed.
	ErrTerminalState = engine.ErrTerminalState
	// ErrInvalidTransition is returned when the decision does not fit the current status.
	ErrInvalidTransition = engine.ErrInvalidTransition
	// ErrInvalidRequest is returned when an emit request is incomplete or malformed.
	ErrInvalidRequest = engine.ErrInvalidRequest
)

// Request describes an action to emit. See engine.Request.
type Request = engine.Request

// --- Functional Interfaces (Interface Segregation) ---

// ActionReader lists and fetches action records.
type ActionReader interface {
	List() ([]schema.ActionRecord, error)
	ListByStatus(status schema.Status) ([]schema.ActionRecord, error)
	Get(id string) (schema.ActionRecord, error)
}

// Decider applies human or executor decisions to actions.
type Decider interface {
	Approve(id string) (schema.ActionRecord, error)
	Reject(id, reason string) (schema.ActionRecord, error)
	Complete(id string, result any) (schema.ActionRecord, error)
	Fail(id, errMsg string) (schema.ActionRecord, error)
}

// Emitter proposes new actions through the producer helpers.
type Emitter interface {
	Emit(req Request) (schema.ActionRecord, error)
}

// Maintainer trims the action log.
type Maintainer interface {
	Cleanup(keepLast int) (int, error)
}

// --- Composite Interfaces ---

// ActionService is what both the embedded registry and the remote client offer.
type ActionService interface {
	ActionReader
	Emitter
	Decider
	Maintainer
	Close() error
}
