package bus

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()

	ns, err := natsserver.NewServer(&natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	require.NoError(t, err)

	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats server did not start")
	}
	t.Cleanup(ns.Shutdown)
	return ns
}

func newNATSBus(t *testing.T, ns *natsserver.Server) *NATS {
	t.Helper()
	b, err := NewNATS(ns.ClientURL(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "chat.lobby", Subject("chat_lobby"))
	assert.Equal(t, "chat.odd key", Subject("odd key"))
}

func TestNATS_FansOutAcrossProcesses(t *testing.T) {
	ns := runNATSServer(t)
	first := newNATSBus(t, ns)
	second := newNATSBus(t, ns)
	ctx := context.Background()

	a, b, c := newRecorder("a"), newRecorder("b"), newRecorder("c")
	require.NoError(t, first.Subscribe(ctx, "chat_lobby", a))
	require.NoError(t, second.Subscribe(ctx, "chat_lobby", b))
	require.NoError(t, second.Subscribe(ctx, "chat_other", c))

	require.NoError(t, first.Publish(ctx, "chat_lobby", []byte("hi")))

	assert.Equal(t, []string{"hi"}, waitFor(t, a, 1))
	assert.Equal(t, []string{"hi"}, waitFor(t, b, 1))
	expectNothing(t, c)
}

func TestNATS_PreservesPublisherOrder(t *testing.T) {
	ns := runNATSServer(t)
	publisher := newNATSBus(t, ns)
	listener := newNATSBus(t, ns)
	ctx := context.Background()

	sub := newRecorder("sub")
	require.NoError(t, listener.Subscribe(ctx, "chat_lobby", sub))

	var want []string
	for i := 0; i < 25; i++ {
		msg := fmt.Sprintf("m%d", i)
		want = append(want, msg)
		require.NoError(t, publisher.Publish(ctx, "chat_lobby", []byte(msg)))
	}

	assert.Equal(t, want, waitFor(t, sub, len(want)))
}

func TestNATS_LastMemberClosesSubscription(t *testing.T) {
	ns := runNATSServer(t)
	b := newNATSBus(t, ns)
	ctx := context.Background()

	s1, s2 := newRecorder("s1"), newRecorder("s2")
	require.NoError(t, b.Subscribe(ctx, "chat_lobby", s1))
	require.NoError(t, b.Subscribe(ctx, "chat_lobby", s2))
	assert.Len(t, b.subs, 1)

	require.NoError(t, b.Unsubscribe(ctx, "chat_lobby", s1))
	assert.Len(t, b.subs, 1)

	require.NoError(t, b.Unsubscribe(ctx, "chat_lobby", s2))
	assert.Empty(t, b.subs)

	require.NoError(t, b.Publish(ctx, "chat_lobby", []byte("late")))
	expectNothing(t, s1)
	expectNothing(t, s2)
}

func TestNATS_PingAndClose(t *testing.T) {
	ns := runNATSServer(t)
	b := newNATSBus(t, ns)

	assert.NoError(t, b.Ping(context.Background()))

	require.NoError(t, b.Close())
	assert.Error(t, b.Ping(context.Background()))
	assert.ErrorIs(t, b.Subscribe(context.Background(), "chat_lobby", newRecorder("a")), ErrClosed)
	assert.Error(t, b.Publish(context.Background(), "chat_lobby", []byte("x")))
}

func TestNATS_OutageDoesNotSerializeRooms(t *testing.T) {
	ns := runNATSServer(t)
	b := newNATSBus(t, ns)
	b.flushTimeout = 500 * time.Millisecond
	ns.Shutdown()

	const rooms = 4
	errs := make([]error, rooms)
	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < rooms; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sub := newRecorder(fmt.Sprintf("s%d", i))
			errs[i] = b.Subscribe(context.Background(), fmt.Sprintf("chat_room%d", i), sub)
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)

	for i, err := range errs {
		assert.Error(t, err, "room %d", i)
	}
	assert.Less(t, elapsed, 2*b.flushTimeout, "rooms waited on each other")

	// Members stay registered and are resubscribed once the broker is back.
	for i := 0; i < rooms; i++ {
		assert.Equal(t, 1, b.Registry().Count(fmt.Sprintf("chat_room%d", i)))
	}
}

func TestNATS_FailedSubscribeIsRolledBack(t *testing.T) {
	ns := runNATSServer(t)
	b := newNATSBus(t, ns)
	ctx := context.Background()

	// Whitespace is not allowed in a subject.
	err := b.Subscribe(ctx, "odd key", newRecorder("a"))
	require.Error(t, err)
	assert.Zero(t, b.Registry().Count("odd key"))
	assert.Empty(t, b.subs)

	a := newRecorder("a")
	require.NoError(t, b.Subscribe(ctx, "chat_lobby", a))
	require.NoError(t, b.Publish(ctx, "chat_lobby", []byte("hi")))
	assert.Equal(t, []string{"hi"}, waitFor(t, a, 1))
}
