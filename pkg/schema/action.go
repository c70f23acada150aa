// Package schema defines the action records shared by the registry, its transports and its clients.
package schema

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind is the producer-declared category of an action.
type Kind string

const (
	KindCommand          Kind = "command"
	KindFile             Kind = "file"
	KindApp              Kind = "app"
	KindNetwork          Kind = "network"
	KindAI               Kind = "ai"
	KindApprovalRequired Kind = "approval_required"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindCommand, KindFile, KindApp, KindNetwork, KindAI, KindApprovalRequired:
		return true
	}
	return false
}

// Status is the lifecycle state of an action.
type Status string

const (
	// StatusPending is reserved; the producer helpers never emit it.
	StatusPending          Status = "pending"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusExecuting        Status = "executing"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAwaitingApproval, StatusExecuting, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Source records where an action came from.
type Source string

const (
	SourceTerminal Source = "terminal"
	SourceApp      Source = "app"
	SourceSystem   Source = "system"
)

// Valid reports whether s is one of the known sources.
func (s Source) Valid() bool {
	return s == SourceTerminal || s == SourceApp || s == SourceSystem
}

// ActionRecord is a single proposed or executed system operation.
type ActionRecord struct {
	ID               string        `json:"id"`
	Seq              uint64        `json:"seq"`
	Kind             Kind          `json:"kind"`
	Title            string        `json:"title"`
	Description      string        `json:"description"`
	Status           Status        `json:"status"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
	Payload          Payload       `json:"payload"`
	RequiresApproval bool          `json:"requires_approval"`
	AutonomyLevel    AutonomyLevel `json:"autonomy_level"`
	Source           Source        `json:"source"`
}

// Outcome returns the result/error extension carried by the payload.
func (r ActionRecord) Outcome() Outcome {
	if r.Payload == nil {
		return Outcome{}
	}
	return r.Payload.Extension()
}

// Clone returns a copy of r whose payload shares no memory with r.
func (r ActionRecord) Clone() ActionRecord {
	if r.Payload != nil {
		r.Payload = r.Payload.Clone()
	}
	return r
}

// UnmarshalJSON decodes the payload into the variant that matches the record kind.
func (r *ActionRecord) UnmarshalJSON(data []byte) error {
	type plain ActionRecord
	var aux struct {
		plain
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = ActionRecord(aux.plain)
	if !r.Kind.Valid() && (len(aux.Payload) == 0 || string(aux.Payload) == "null") {
		// unknown kinds are recorded without a payload
		r.Payload = nil
		return nil
	}
	p, err := DecodePayload(r.Kind, aux.Payload)
	if err != nil {
		return fmt.Errorf("decode %s payload: %w", r.Kind, err)
	}
	r.Payload = p
	return nil
}
