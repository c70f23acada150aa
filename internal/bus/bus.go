// Package bus mirrors registry notifications onto NATS subjects so other
// processes (executors, dashboards) can follow the action log.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/llmos-dev/llmos-actions/pkg/schema"
)

// DefaultPrefix is used when no subject prefix is configured.
const DefaultPrefix = "llmos.actions"

// Bus wraps a core NATS connection.
type Bus struct {
	conn *nats.Conn
}

// New creates a Bus connected to the provided NATS endpoint.
func New(url string, opts ...nats.Option) (*Bus, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &Bus{conn: nc}, nil
}

// Close flushes pending messages and shuts down the connection.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
}

// Publish encodes v as JSON and publishes it to the given subject.
// Core NATS publishes are buffered, so this does not wait for the server.
func (b *Bus) Publish(ctx context.Context, subj string, v any) error {
	if b == nil {
		return errors.New("nil bus")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.conn.Publish(subj, data)
}

type subscription struct {
	sub    *nats.Subscription
	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func (s *subscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	return s.sub.Drain()
}

// SubscribeActions decodes every record published under prefix and hands it
// to fn until ctx is cancelled or the returned closer is closed.
func (b *Bus) SubscribeActions(ctx context.Context, prefix string, fn func(schema.ActionRecord)) (io.Closer, error) {
	if b == nil {
		return nil, errors.New("nil bus")
	}
	if fn == nil {
		return nil, errors.New("nil handler")
	}

	sub, err := b.conn.Subscribe(Wildcard(prefix), func(msg *nats.Msg) {
		var rec schema.ActionRecord
		if err := json.Unmarshal(msg.Data, &rec); err != nil {
			return
		}
		fn(rec)
	})
	if err != nil {
		return nil, err
	}

	s := &subscription{sub: sub, done: make(chan struct{})}

	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()

	return s, nil
}

// Subject returns the subject a record with the given status is published on.
func Subject(prefix string, status schema.Status) string {
	return normalize(prefix) + "." + string(status)
}

// Wildcard matches every status subject under prefix.
func Wildcard(prefix string) string {
	return normalize(prefix) + ".*"
}

func normalize(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		return DefaultPrefix
	}
	return prefix
}

// Forwarder returns a registry observer that publishes each notification to
// <prefix>.<status>. Publish failures are logged and otherwise ignored.
func (b *Bus) Forwarder(prefix string, logger *zap.Logger) func(schema.ActionRecord) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(rec schema.ActionRecord) {
		subj := Subject(prefix, rec.Status)
		if err := b.Publish(context.Background(), subj, rec); err != nil {
			logger.Warn("bus publish failed",
				zap.String("subject", subj),
				zap.String("action_id", rec.ID),
				zap.Error(err))
		}
	}
}
