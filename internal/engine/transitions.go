package engine

import "github.com/llmos-dev/llmos-actions/pkg/schema"

// transitions lists the allowed status edges. Terminal states have none.
var transitions = map[schema.Status][]schema.Status{
	schema.StatusPending:          {schema.StatusExecuting, schema.StatusFailed},
	schema.StatusAwaitingApproval: {schema.StatusExecuting, schema.StatusFailed},
	schema.StatusExecuting:        {schema.StatusCompleted, schema.StatusFailed},
}

// CanTransition reports whether a record may move from one status to another.
func CanTransition(from, to schema.Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// initialStatus derives the status a freshly emitted record starts in.
func initialStatus(d Draft) schema.Status {
	if d.RequiresApproval {
		return schema.StatusAwaitingApproval
	}
	if d.Status == schema.StatusPending {
		return schema.StatusPending
	}
	return schema.StatusExecuting
}
