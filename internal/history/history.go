// Package history exports every action notification to an external sink so
// the transitions of an action can be audited after it leaves the live log.
package history

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/llmos-dev/llmos-actions/pkg/schema"
)

// Event is one observed state of an action.
type Event struct {
	OccurredAt time.Time           `json:"occurred_at"`
	Record     schema.ActionRecord `json:"record"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

const (
	recorderBuffer = 1024
	sendTimeout    = 5 * time.Second
)

// Recorder adapts a Sink into a registry observer. Observe only queues the
// record; a single worker forwards events in notification order.
type Recorder struct {
	sink   Sink
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	closed bool
	events chan Event
	wg     sync.WaitGroup
}

// NewRecorder starts the forwarding worker. Call Close to flush it.
func NewRecorder(sink Sink, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Recorder{
		sink:   sink,
		logger: logger,
		now:    time.Now,
		events: make(chan Event, recorderBuffer),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// Observe has the registry observer signature.
func (r *Recorder) Observe(rec schema.ActionRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.events <- Event{OccurredAt: r.now(), Record: rec}:
	default:
		r.logger.Warn("history buffer full, event dropped",
			zap.String("action_id", rec.ID),
			zap.String("status", string(rec.Status)))
	}
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for e := range r.events {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		if err := r.sink.Send(ctx, e); err != nil {
			r.logger.Warn("history send failed",
				zap.String("action_id", e.Record.ID),
				zap.Error(err))
		}
		cancel()
	}
}

// Close stops accepting events and waits until queued ones are sent.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.events)
	r.mu.Unlock()
	r.wg.Wait()
}
