package bus

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisClient(t *testing.T, mr *miniredis.Miniredis) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func newRedisBus(t *testing.T, mr *miniredis.Miniredis) (*Redis, *redis.Client) {
	t.Helper()
	client := newRedisClient(t, mr)
	b := NewRedis(client, zerolog.Nop())
	t.Cleanup(func() { _ = b.Close() })
	return b, client
}

// waitForSubscribers blocks until Redis reports n subscribers on channel.
// SUBSCRIBE is acknowledged asynchronously on the pub/sub connection.
func waitForSubscribers(t *testing.T, client *redis.Client, channel string, n int64) {
	t.Helper()
	require.Eventually(t, func() bool {
		counts, err := client.PubSubNumSub(context.Background(), channel).Result()
		return err == nil && counts[channel] == n
	}, 2*time.Second, 5*time.Millisecond)
}

// silentListener accepts connections and never answers, like a store that
// hangs mid outage.
func silentListener(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var mu sync.Mutex
	var conns []net.Conn
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, conn := range conns {
			_ = conn.Close()
		}
	})
	return ln.Addr().String()
}

// newSilentRedisBus returns a bus whose store never answers. The short read
// timeout bounds the client's background reconnect attempts.
func newSilentRedisBus(t *testing.T, subscribeTimeout time.Duration) *Redis {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        silentListener(t),
		ReadTimeout: 200 * time.Millisecond,
	})
	t.Cleanup(func() { _ = client.Close() })
	b := NewRedis(client, zerolog.Nop())
	b.subscribeTimeout = subscribeTimeout
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestRedis_FansOutAcrossProcesses(t *testing.T) {
	mr := miniredis.RunT(t)
	first, client := newRedisBus(t, mr)
	second, _ := newRedisBus(t, mr)
	ctx := context.Background()

	a := newRecorder("a")
	b := newRecorder("b")
	c := newRecorder("c")
	require.NoError(t, first.Subscribe(ctx, "chat_lobby", a))
	require.NoError(t, second.Subscribe(ctx, "chat_lobby", b))
	require.NoError(t, second.Subscribe(ctx, "chat_other", c))
	waitForSubscribers(t, client, "chat_lobby", 2)
	waitForSubscribers(t, client, "chat_other", 1)

	require.NoError(t, first.Publish(ctx, "chat_lobby", []byte("hi")))

	assert.Equal(t, []string{"hi"}, waitFor(t, a, 1))
	assert.Equal(t, []string{"hi"}, waitFor(t, b, 1))
	expectNothing(t, c)
}

func TestRedis_OneChannelSubscriptionPerProcess(t *testing.T) {
	mr := miniredis.RunT(t)
	b, client := newRedisBus(t, mr)
	ctx := context.Background()

	s1, s2 := newRecorder("s1"), newRecorder("s2")
	require.NoError(t, b.Subscribe(ctx, "chat_lobby", s1))
	require.NoError(t, b.Subscribe(ctx, "chat_lobby", s2))
	waitForSubscribers(t, client, "chat_lobby", 1)

	require.NoError(t, b.Unsubscribe(ctx, "chat_lobby", s1))
	assert.Equal(t, 1, b.Registry().Count("chat_lobby"))

	require.NoError(t, b.Unsubscribe(ctx, "chat_lobby", s2))
	waitForSubscribers(t, client, "chat_lobby", 0)
	assert.Equal(t, 0, b.Registry().Count("chat_lobby"))
}

func TestRedis_PreservesPublisherOrder(t *testing.T) {
	mr := miniredis.RunT(t)
	publisher, client := newRedisBus(t, mr)
	listener, _ := newRedisBus(t, mr)
	ctx := context.Background()

	sub := newRecorder("sub")
	require.NoError(t, listener.Subscribe(ctx, "chat_lobby", sub))
	waitForSubscribers(t, client, "chat_lobby", 1)

	var want []string
	for i := 0; i < 25; i++ {
		msg := fmt.Sprintf("m%d", i)
		want = append(want, msg)
		require.NoError(t, publisher.Publish(ctx, "chat_lobby", []byte(msg)))
	}

	assert.Equal(t, want, waitFor(t, sub, len(want)))
}

func TestRedis_UnsubscribedNeverDelivered(t *testing.T) {
	mr := miniredis.RunT(t)
	b, client := newRedisBus(t, mr)
	ctx := context.Background()

	stay, leave := newRecorder("stay"), newRecorder("leave")
	require.NoError(t, b.Subscribe(ctx, "chat_lobby", stay))
	require.NoError(t, b.Subscribe(ctx, "chat_lobby", leave))
	waitForSubscribers(t, client, "chat_lobby", 1)
	require.NoError(t, b.Unsubscribe(ctx, "chat_lobby", leave))

	require.NoError(t, b.Publish(ctx, "chat_lobby", []byte("after")))

	assert.Equal(t, []string{"after"}, waitFor(t, stay, 1))
	assert.Empty(t, leave.messages())
}

func TestRedis_PublishToUnreachableStore(t *testing.T) {
	mr := miniredis.RunT(t)
	b, _ := newRedisBus(t, mr)
	mr.Close()

	err := b.Publish(context.Background(), "chat_lobby", []byte("lost"))
	assert.Error(t, err)
	assert.Error(t, b.Ping(context.Background()))
}

func TestRedis_CloseIsIdempotent(t *testing.T) {
	mr := miniredis.RunT(t)
	b := NewRedis(newRedisClient(t, mr), zerolog.Nop())

	assert.NoError(t, b.Close())
	assert.NoError(t, b.Close())
	assert.ErrorIs(t, b.Subscribe(context.Background(), "chat_lobby", newRecorder("a")), ErrClosed)
}

func TestRedis_OutageDoesNotSerializeRooms(t *testing.T) {
	b := newSilentRedisBus(t, 500*time.Millisecond)

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
	assert.Less(t, elapsed, 2*b.subscribeTimeout, "rooms waited on each other")
	for i := 0; i < rooms; i++ {
		assert.Equal(t, 1, b.Registry().Count(fmt.Sprintf("chat_room%d", i)))
	}
}

func TestRedis_UnsubscribeDuringOutage(t *testing.T) {
	b := newSilentRedisBus(t, 200*time.Millisecond)
	ctx := context.Background()

	sub := newRecorder("a")
	require.Error(t, b.Subscribe(ctx, "chat_lobby", sub))

	done := make(chan error, 1)
	go func() { done <- b.Unsubscribe(ctx, "chat_lobby", sub) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("unsubscribe blocked on the unreachable store")
	}
	assert.Zero(t, b.Registry().Count("chat_lobby"))
}
