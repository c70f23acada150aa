package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/llmos-dev/llmos-actions/internal/metrics"
	"github.com/llmos-dev/llmos-actions/pkg/schema"
)

// Observer receives one record per creation or update.
type Observer func(schema.ActionRecord)

// Draft is everything a producer supplies to Emit. The registry assigns the
// id, sequence number, timestamps and initial status.
type Draft struct {
	Kind             schema.Kind
	Title            string
	Description      string
	Payload          schema.Payload
	RequiresApproval bool
	AutonomyLevel    schema.AutonomyLevel
	Source           schema.Source
	// Status may be set to StatusPending to park a record that needs no
	// approval; any other value is ignored.
	Status schema.Status
}

// Patch is a shallow update. Zero fields are left untouched; Outcome extends
// the payload instead of replacing it.
type Patch struct {
	Status      schema.Status
	Title       *string
	Description *string
	Outcome     schema.Outcome
	// From, when set, makes the patch conditional on the current status.
	From schema.Status
}

type subscriber struct {
	id uint64
	fn Observer
}

type event struct {
	record  schema.ActionRecord
	created bool
}

// Registry is the action log and event bus. One instance is created at the
// composition root and shared for the lifetime of the process.
//
// Mutations are serialized by mu. Notifications are delivered by whichever
// caller finds the registry idle: it drains the event queue outside the lock,
// so observers may call back into the registry. Such nested calls enqueue
// their event and return; it is delivered right after the current one.
type Registry struct {
	mu    sync.Mutex
	log   []*schema.ActionRecord
	index map[string]*schema.ActionRecord
	seq   uint64

	subs    []subscriber
	nextSub uint64

	queue       []event
	dispatching bool

	logger   *zap.Logger
	now      func() time.Time
	newID    func() string
	archiver *Archiver
	wg       sync.WaitGroup
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for observer failures and refused updates.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithArchiver hands records dropped by Cleanup to a.
func WithArchiver(a *Archiver) Option {
	return func(r *Registry) { r.archiver = a }
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		index:  make(map[string]*schema.ActionRecord),
		logger: zap.NewNop(),
		now:    time.Now,
		newID:  newActionID,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func newActionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Wait blocks until background archive writes have finished.
func (r *Registry) Wait() {
	r.wg.Wait()
}

// Subscribe registers fn and returns a function that removes it again.
// Removing twice is a no-op.
func (r *Registry) Subscribe(fn Observer) (unsubscribe func()) {
	r.mu.Lock()
	r.nextSub++
	id := r.nextSub
	r.subs = append(r.subs, subscriber{id: id, fn: fn})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			for i, s := range r.subs {
				if s.id == id {
					// copy so that snapshots taken by an in-flight dispatch stay intact
					next := make([]subscriber, 0, len(r.subs)-1)
					next = append(next, r.subs[:i]...)
					r.subs = append(next, r.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Emit records a new action and notifies every observer. It never fails.
func (r *Registry) Emit(d Draft) schema.ActionRecord {
	kind := d.Kind
	payload := d.Payload
	if payload != nil {
		if kind != payload.Kind() {
			if kind != "" {
				r.logger.Warn("draft kind does not match payload, using payload kind",
					zap.String("kind", string(kind)),
					zap.String("payload_kind", string(payload.Kind())),
				)
			}
			kind = payload.Kind()
		}
		payload = payload.Clone()
	} else {
		// unknown kinds keep a nil payload
		payload, _ = schema.DecodePayload(kind, nil)
	}

	r.mu.Lock()
	r.seq++
	now := r.now()
	rec := &schema.ActionRecord{
		ID:               r.newID(),
		Seq:              r.seq,
		Kind:             kind,
		Title:            d.Title,
		Description:      d.Description,
		Status:           initialStatus(d),
		CreatedAt:        now,
		UpdatedAt:        now,
		Payload:          payload,
		RequiresApproval: d.RequiresApproval,
		AutonomyLevel:    d.AutonomyLevel.Clamp(),
		Source:           d.Source,
	}
	r.log = append(r.log, rec)
	r.index[rec.ID] = rec
	out := rec.Clone()
	r.queue = append(r.queue, event{record: out.Clone(), created: true})
	size := len(r.log)
	r.mu.Unlock()

	metrics.IncEmitted(string(out.Kind), string(out.Source))
	metrics.SetLogSize(size)
	r.logger.Debug("action emitted",
		zap.String("action_id", out.ID),
		zap.String("kind", string(out.Kind)),
		zap.String("status", string(out.Status)),
		zap.Bool("requires_approval", out.RequiresApproval),
	)

	r.dispatch()
	return out
}

// Update merges p into the record with the given id and notifies observers.
// Refused updates leave the record untouched and notify nobody.
func (r *Registry) Update(id string, p Patch) (schema.ActionRecord, error) {
	r.mu.Lock()
	rec, ok := r.index[id]
	if !ok {
		r.mu.Unlock()
		metrics.IncRejectedUpdate("not_found")
		return schema.ActionRecord{}, ErrActionNotFound
	}
	from := rec.Status
	if from.Terminal() {
		r.mu.Unlock()
		metrics.IncRejectedUpdate("terminal")
		r.logger.Warn("update after terminal state ignored",
			zap.String("action_id", id),
			zap.String("status", string(from)),
			zap.String("requested", string(p.Status)),
		)
		return schema.ActionRecord{}, ErrTerminalState
	}
	if (p.From != "" && p.From != from) || (p.Status != "" && p.Status != from && !CanTransition(from, p.Status)) {
		r.mu.Unlock()
		metrics.IncRejectedUpdate("transition")
		r.logger.Warn("invalid status transition ignored",
			zap.String("action_id", id),
			zap.String("from", string(from)),
			zap.String("to", string(p.Status)),
		)
		return schema.ActionRecord{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, p.Status)
	}

	if p.Status != "" {
		rec.Status = p.Status
	}
	if p.Title != nil {
		rec.Title = *p.Title
	}
	if p.Description != nil {
		rec.Description = *p.Description
	}
	if !p.Outcome.IsZero() && rec.Payload != nil {
		rec.Payload = rec.Payload.Extend(p.Outcome).Clone()
	}
	rec.UpdatedAt = r.now()
	out := rec.Clone()
	r.queue = append(r.queue, event{record: out.Clone()})
	r.mu.Unlock()

	if out.Status != from {
		metrics.RecordTransition(string(from), string(out.Status))
	}
	r.logger.Debug("action updated",
		zap.String("action_id", out.ID),
		zap.String("from", string(from)),
		zap.String("to", string(out.Status)),
	)

	r.dispatch()
	return out, nil
}

// Get returns a copy of the record with the given id.
func (r *Registry) Get(id string) (schema.ActionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.index[id]
	if !ok {
		return schema.ActionRecord{}, ErrActionNotFound
	}
	return rec.Clone(), nil
}

// GetActions returns a copy of the log in emission order.
func (r *Registry) GetActions() []schema.ActionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]schema.ActionRecord, len(r.log))
	for i, rec := range r.log {
		out[i] = rec.Clone()
	}
	return out
}

// GetActionsByStatus returns the records whose status equals s, in emission order.
func (r *Registry) GetActionsByStatus(s schema.Status) []schema.ActionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]schema.ActionRecord, 0)
	for _, rec := range r.log {
		if rec.Status == s {
			out = append(out, rec.Clone())
		}
	}
	return out
}

// Len returns the number of records currently held.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.log)
}

// Cleanup keeps only the keepLast most recently emitted records and returns
// how many were dropped. Observers are not notified.
func (r *Registry) Cleanup(keepLast int) int {
	if keepLast < 0 {
		keepLast = 0
	}
	r.mu.Lock()
	n := len(r.log) - keepLast
	if n <= 0 {
		r.mu.Unlock()
		return 0
	}
	dropped := make([]schema.ActionRecord, n)
	for i, rec := range r.log[:n] {
		dropped[i] = *rec
		delete(r.index, rec.ID)
	}
	kept := make([]*schema.ActionRecord, keepLast)
	copy(kept, r.log[n:])
	r.log = kept
	size := len(r.log)
	var archiveName string
	if r.archiver != nil {
		// reserved under the lock so that files sort in trim order
		archiveName = r.archiver.nextName()
	}
	r.mu.Unlock()

	metrics.AddTrimmed(n)
	metrics.SetLogSize(size)
	r.logger.Info("action log trimmed", zap.Int("dropped", n), zap.Int("kept", size))

	if r.archiver != nil {
		r.wg.Add(1)
		go func(batch []schema.ActionRecord) {
			defer r.wg.Done()
			if err := r.archiver.saveAs(archiveName, batch); err != nil {
				r.logger.Error("archive trimmed actions", zap.Error(err), zap.Int("count", len(batch)))
			}
		}(dropped)
	}
	return n
}

// dispatch drains the event queue unless another call is already doing so.
func (r *Registry) dispatch() {
	r.mu.Lock()
	if r.dispatching {
		r.mu.Unlock()
		return
	}
	r.dispatching = true
	for len(r.queue) > 0 {
		ev := r.queue[0]
		r.queue[0] = event{}
		r.queue = r.queue[1:]
		subs := r.subs
		r.mu.Unlock()

		for _, s := range subs {
			r.notify(s, ev)
		}

		r.mu.Lock()
	}
	r.queue = nil
	r.dispatching = false
	r.mu.Unlock()
}

func (r *Registry) notify(s subscriber, ev event) {
	defer func() {
		if p := recover(); p != nil {
			metrics.IncObserverFailure()
			r.logger.Error("observer panicked during notification",
				zap.Uint64("observer", s.id),
				zap.String("action_id", ev.record.ID),
				zap.Bool("created", ev.created),
				zap.Any("panic", p),
			)
		}
	}()
	// each observer gets its own copy
	s.fn(ev.record.Clone())
}
