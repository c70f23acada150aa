package engine

import "github.com/llmos-dev/llmos-actions/pkg/schema"

// ApproveAction moves an action awaiting approval to executing.
func (r *Registry) ApproveAction(id string) (schema.ActionRecord, error) {
	return r.Update(id, Patch{
		From:   schema.StatusAwaitingApproval,
		Status: schema.StatusExecuting,
	})
}

// RejectAction fails an action awaiting approval and records why.
func (r *Registry) RejectAction(id, reason string) (schema.ActionRecord, error) {
	return r.Update(id, Patch{
		From:    schema.StatusAwaitingApproval,
		Status:  schema.StatusFailed,
		Outcome: schema.Outcome{RejectionReason: reason},
	})
}

// CompleteAction marks an executing action completed. result may be nil.
func (r *Registry) CompleteAction(id string, result any) (schema.ActionRecord, error) {
	return r.Update(id, Patch{
		From:    schema.StatusExecuting,
		Status:  schema.StatusCompleted,
		Outcome: schema.Outcome{Result: result},
	})
}

// FailAction marks an executing action failed with the given error text.
func (r *Registry) FailAction(id, errMsg string) (schema.ActionRecord, error) {
	return r.Update(id, Patch{
		From:    schema.StatusExecuting,
		Status:  schema.StatusFailed,
		Outcome: schema.Outcome{Error: errMsg},
	})
}
