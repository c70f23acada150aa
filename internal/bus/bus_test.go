package bus

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	natstest "github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/llmos-dev/llmos-actions/internal/engine"
	"github.com/llmos-dev/llmos-actions/pkg/schema"
)

func TestSubjectNaming(t *testing.T) {
	assert.Equal(t, "llmos.actions.awaiting_approval", Subject("", schema.StatusAwaitingApproval))
	assert.Equal(t, "os.events.failed", Subject(" os.events. ", schema.StatusFailed))
	assert.Equal(t, "os.events.*", Wildcard("os.events"))
	assert.Equal(t, DefaultPrefix+".*", Wildcard(""))
}

func TestNilBusGuards(t *testing.T) {
	var b *Bus

	assert.NotPanics(t, b.Close)
	assert.Error(t, b.Publish(context.Background(), "x", 1))
	_, err := b.SubscribeActions(context.Background(), "", func(schema.ActionRecord) {})
	assert.Error(t, err)
}

func TestForwarder_LogsPublishFailures(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	var b *Bus

	reg := engine.NewRegistry()
	reg.Subscribe(b.Forwarder("test", zap.New(core)))
	reg.EmitAIAction("hello", "", schema.LevelTrusted)

	entries := logs.FilterMessage("bus publish failed").All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, "test.executing", entries[0].ContextMap()["subject"])
	}
}

func TestNew_UnreachableServer(t *testing.T) {
	_, err := New("nats://127.0.0.1:1", nats.Timeout(200*time.Millisecond))
	assert.Error(t, err)
}

func TestForwarder_RoundTripThroughServer(t *testing.T) {
	srv := natstest.RunRandClientPortServer()
	defer srv.Shutdown()

	pub, err := New(srv.ClientURL())
	require.NoError(t, err)
	defer pub.Close()
	sub, err := New(srv.ClientURL())
	require.NoError(t, err)
	defer sub.Close()

	var mu sync.Mutex
	var got []schema.ActionRecord
	received := func() []schema.ActionRecord {
		mu.Lock()
		defer mu.Unlock()
		return append([]schema.ActionRecord(nil), got...)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	closer, err := sub.SubscribeActions(ctx, "test", func(rec schema.ActionRecord) {
		mu.Lock()
		got = append(got, rec)
		mu.Unlock()
	})
	require.NoError(t, err)
	failed, err := sub.conn.SubscribeSync("test.failed")
	require.NoError(t, err)
	require.NoError(t, sub.conn.Flush())

	reg := engine.NewRegistry()
	reg.Subscribe(pub.Forwarder("test", zap.NewNop()))
	rec := reg.EmitTerminalAction(schema.KindCommand, "rm -rf /tmp/x", schema.LevelGuarded)
	_, err = reg.RejectAction(rec.ID, "blocked")
	require.NoError(t, err)
	require.NoError(t, pub.conn.Flush())

	assert.Eventually(t, func() bool { return len(received()) == 2 }, 2*time.Second, 10*time.Millisecond)
	list := received()
	require.Len(t, list, 2)
	assert.Equal(t, schema.StatusAwaitingApproval, list[0].Status)
	assert.Equal(t, schema.StatusFailed, list[1].Status)
	cmd, ok := list[1].Payload.(schema.CommandPayload)
	require.True(t, ok, "payload decoded as %T", list[1].Payload)
	assert.Equal(t, []string{"-rf", "/tmp/x"}, cmd.Args)
	assert.Equal(t, "blocked", cmd.RejectionReason)

	// routed by status
	msg, err := failed.NextMsg(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "test.failed", msg.Subject)
	var back schema.ActionRecord
	require.NoError(t, json.Unmarshal(msg.Data, &back))
	assert.Equal(t, rec.ID, back.ID)

	// closing stops delivery; a later cancel is harmless
	require.NoError(t, closer.Close())
	require.NoError(t, sub.conn.Flush())
	reg.EmitAIAction("after close", "", schema.LevelTrusted)
	require.NoError(t, pub.conn.Flush())
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, received(), 2)

	cancel()
	assert.NoError(t, closer.Close())
}
