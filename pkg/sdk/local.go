package sdk

import (
	"github.com/llmos-dev/llmos-actions/internal/engine"
	"github.com/llmos-dev/llmos-actions/pkg/schema"
)

// Local exposes an in-process registry through the ActionService interface.
type Local struct {
	Registry *engine.Registry
	// DefaultLevel is used for requests that carry no autonomy level.
	DefaultLevel schema.AutonomyLevel
}

// NewLocal wraps r. A nil r gets a fresh registry.
func NewLocal(r *engine.Registry) *Local {
	if r == nil {
		r = engine.NewRegistry()
	}
	return &Local{Registry: r, DefaultLevel: schema.LevelGuarded}
}

func (l *Local) Emit(req Request) (schema.ActionRecord, error) {
	return l.Registry.Submit(req, l.DefaultLevel)
}

func (l *Local) List() ([]schema.ActionRecord, error) {
	return l.Registry.GetActions(), nil
}

func (l *Local) ListByStatus(status schema.Status) ([]schema.ActionRecord, error) {
	return l.Registry.GetActionsByStatus(status), nil
}

func (l *Local) Get(id string) (schema.ActionRecord, error) {
	return l.Registry.Get(id)
}

func (l *Local) Approve(id string) (schema.ActionRecord, error) {
	return l.Registry.ApproveAction(id)
}

func (l *Local) Reject(id, reason string) (schema.ActionRecord, error) {
	return l.Registry.RejectAction(id, reason)
}

func (l *Local) Complete(id string, result any) (schema.ActionRecord, error) {
	return l.Registry.CompleteAction(id, result)
}

func (l *Local) Fail(id, errMsg string) (schema.ActionRecord, error) {
	return l.Registry.FailAction(id, errMsg)
}

func (l *Local) Cleanup(keepLast int) (int, error) {
	return l.Registry.Cleanup(keepLast), nil
}

// Close waits for pending archive writes.
func (l *Local) Close() error {
	l.Registry.Wait()
	return nil
}
