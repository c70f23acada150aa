package sdk_test

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmos-dev/llmos-actions/internal/engine"
	"github.com/llmos-dev/llmos-actions/internal/server"
	"github.com/llmos-dev/llmos-actions/pkg/schema"
	"github.com/llmos-dev/llmos-actions/pkg/sdk"
)

func TestLocal_DecisionsFollowStateMachine(t *testing.T) {
	reg := engine.NewRegistry()
	svc := sdk.NewLocal(reg)
	defer svc.Close()

	rec := reg.EmitFileAction("delete", "/etc/hosts", schema.SourceApp, schema.LevelSupervised)
	require.Equal(t, schema.StatusAwaitingApproval, rec.Status)

	approved, err := svc.Approve(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.StatusExecuting, approved.Status)

	_, err = svc.Approve(rec.ID)
	assert.ErrorIs(t, err, sdk.ErrInvalidTransition)

	done, err := svc.Complete(rec.ID, map[string]any{"removed": true})
	require.NoError(t, err)
	assert.Equal(t, schema.StatusCompleted, done.Status)

	_, err = svc.Fail(rec.ID, "late")
	assert.ErrorIs(t, err, sdk.ErrTerminalState)

	_, err = svc.Get("missing")
	assert.ErrorIs(t, err, sdk.ErrActionNotFound)
}

func TestLocal_ListAndCleanup(t *testing.T) {
	svc := sdk.NewLocal(nil)
	for i := 0; i < 4; i++ {
		svc.Registry.EmitAIAction(fmt.Sprintf("p%d", i), "", schema.LevelTrusted)
	}

	all, err := svc.List()
	require.NoError(t, err)
	assert.Len(t, all, 4)

	running, err := svc.ListByStatus(schema.StatusExecuting)
	require.NoError(t, err)
	assert.Len(t, running, 4)

	dropped, err := svc.Cleanup(1)
	require.NoError(t, err)
	assert.Equal(t, 3, dropped)

	all, _ = svc.List()
	require.Len(t, all, 1)
	assert.Equal(t, "p3", all[0].Payload.(schema.AIPayload).Prompt)
}

func TestNew_FallsBackToLocal(t *testing.T) {
	t.Setenv(sdk.AddrEnv, "")
	svc, err := sdk.New("")
	require.NoError(t, err)
	defer svc.Close()

	_, ok := svc.(*sdk.Local)
	assert.True(t, ok, "expected embedded registry, got %T", svc)
}

func TestNew_UnreachableAddrFallsBackToLocal(t *testing.T) {
	t.Setenv(sdk.DisableTLSEnv, "true")
	svc, err := sdk.New("127.0.0.1:1")
	require.NoError(t, err)
	defer svc.Close()

	_, ok := svc.(*sdk.Local)
	assert.True(t, ok)
}

func TestParseKeepLast(t *testing.T) {
	n, err := sdk.ParseKeepLast("25")
	require.NoError(t, err)
	assert.Equal(t, 25, n)

	_, err = sdk.ParseKeepLast("-1")
	assert.Error(t, err)
	_, err = sdk.ParseKeepLast("many")
	assert.Error(t, err)
}

func startDaemon(t *testing.T, reg *engine.Registry) string {
	t.Helper()
	router := server.NewRouter(sdk.NewLocal(reg), nil)
	go router.Listen("0")

	for i := 0; i < 20; i++ {
		time.Sleep(50 * time.Millisecond)
		if addr := router.Addr(); addr != nil {
			t.Cleanup(func() { router.Stop() })
			return fmt.Sprintf("127.0.0.1:%d", addr.(*net.TCPAddr).Port)
		}
	}
	t.Fatalf("Server did not start in time")
	return ""
}

func TestClient_AgainstRouter(t *testing.T) {
	t.Setenv(sdk.DisableTLSEnv, "true")

	reg := engine.NewRegistry()
	gated := reg.EmitTerminalAction(schema.KindCommand, "rm -rf build", schema.LevelGuarded)
	net1 := reg.EmitNetworkAction("GET", "https://example.com", schema.SourceSystem, schema.LevelSupervised)
	addr := startDaemon(t, reg)

	client, err := sdk.Connect(addr)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Ping())

	waiting, err := client.ListByStatus(schema.StatusAwaitingApproval)
	require.NoError(t, err)
	assert.Len(t, waiting, 2)

	got, err := client.Get(gated.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"-rf", "build"}, got.Payload.(schema.CommandPayload).Args)

	approved, err := client.Approve(gated.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.StatusExecuting, approved.Status)

	done, err := client.Complete(gated.ID, map[string]any{"exit": 0})
	require.NoError(t, err)
	assert.Equal(t, schema.StatusCompleted, done.Status)
	assert.NotNil(t, done.Outcome().Result)

	rejected, err := client.Reject(net1.ID, "no outbound\ntraffic")
	require.NoError(t, err)
	assert.Equal(t, schema.StatusFailed, rejected.Status)
	assert.Equal(t, "no outbound traffic", rejected.Outcome().RejectionReason)

	// The sentinels survive the wire.
	_, err = client.Get("missing")
	assert.True(t, errors.Is(err, sdk.ErrActionNotFound), "got %v", err)

	_, err = client.Fail(gated.ID, "late")
	assert.ErrorIs(t, err, sdk.ErrTerminalState)

	running := reg.EmitAIAction("think", "", schema.LevelAutonomous)
	_, err = client.Approve(running.ID)
	assert.ErrorIs(t, err, sdk.ErrInvalidTransition)

	emitted, err := client.Emit(sdk.Request{Kind: schema.KindApp, AppID: "calc", AppName: "Calculator"})
	require.NoError(t, err)
	assert.Equal(t, schema.SourceApp, emitted.Source)
	assert.Equal(t, schema.StatusExecuting, emitted.Status)

	_, err = client.Emit(sdk.Request{Kind: "teleport"})
	assert.ErrorIs(t, err, sdk.ErrInvalidRequest)

	dropped, err := client.Cleanup(2)
	require.NoError(t, err)
	assert.Equal(t, 2, dropped)

	all, err := client.List()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, running.ID, all[0].ID)
	assert.Equal(t, emitted.ID, all[1].ID)
}

// flakyDaemon speaks just enough of the line protocol to answer any command
// with a canned record. The first command of each verb in drop is read and
// then the connection is closed without a reply.
type flakyDaemon struct {
	mu      sync.Mutex
	counts  map[string]int
	drop    map[string]bool
	dropped map[string]bool
}

func startFlakyDaemon(t *testing.T, drop ...string) (string, *flakyDaemon) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	d := &flakyDaemon{counts: map[string]int{}, drop: map[string]bool{}, dropped: map[string]bool{}}
	for _, verb := range drop {
		d.drop[verb] = true
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go d.serve(conn)
		}
	}()
	return ln.Addr().String(), d
}

func (d *flakyDaemon) serve(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		verb, _, _ := strings.Cut(strings.TrimSpace(line), " ")

		d.mu.Lock()
		d.counts[verb]++
		hangUp := d.drop[verb] && !d.dropped[verb]
		if hangUp {
			d.dropped[verb] = true
		}
		d.mu.Unlock()

		switch {
		case hangUp, verb == "QUIT":
			return
		case verb == "PING":
			fmt.Fprintln(conn, "PONG")
		default:
			fmt.Fprintln(conn, `OK {"id":"a1","kind":"ai","status":"executing","payload":{"prompt":"p"}}`)
		}
	}
}

func (d *flakyDaemon) count(verb string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.counts[verb]
}

func TestClient_LostReplyIsNotResentForStateChanges(t *testing.T) {
	t.Setenv(sdk.DisableTLSEnv, "true")
	addr, d := startFlakyDaemon(t, "EMIT", "APPROVE", "GET")

	client, err := sdk.Connect(addr)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Emit(sdk.Request{Kind: schema.KindAI, Prompt: "p"})
	assert.ErrorIs(t, err, sdk.ErrReplyLost)
	assert.Equal(t, 1, d.count("EMIT"), "emit must not be sent twice")

	_, err = client.Approve("a1")
	assert.ErrorIs(t, err, sdk.ErrReplyLost)
	assert.Equal(t, 1, d.count("APPROVE"))

	// reads are resent on a fresh connection
	rec, err := client.Get("a1")
	require.NoError(t, err)
	assert.Equal(t, "a1", rec.ID)
	assert.Equal(t, 2, d.count("GET"))

	// the client reconnected after the lost replies
	rec, err = client.Emit(sdk.Request{Kind: schema.KindAI, Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, schema.KindAI, rec.Kind)
	assert.Equal(t, 2, d.count("EMIT"))
	require.NoError(t, client.Ping())
}
