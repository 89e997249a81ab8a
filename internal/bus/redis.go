package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const redisSubscribeTimeout = 2 * time.Second

// Redis fans out through Redis pub/sub, one channel per room key. A room's
// channel is subscribed on its own pub/sub connection while the process has
// at least one local member in it, so a slow or failing SUBSCRIBE for one
// room never holds up another.
type Redis struct {
	client           redis.UniversalClient
	registry         *Registry
	log              zerolog.Logger
	subscribeTimeout time.Duration

	rooms roomLocks

	// mu guards subs and closed only; it is never held across a round trip.
	mu     sync.Mutex
	subs   map[string]*redis.PubSub
	closed bool
	wg     sync.WaitGroup
}

// NewRedis creates a Redis bus.
func NewRedis(client redis.UniversalClient, log zerolog.Logger) *Redis {
	return &Redis{
		client:           client,
		registry:         NewRegistry(log),
		log:              log,
		subscribeTimeout: redisSubscribeTimeout,
		subs:             make(map[string]*redis.PubSub),
	}
}

// receive hands every message of one room to local subscribers. go-redis
// delivers a connection's messages on one channel in arrival order.
func (b *Redis) receive(messages <-chan *redis.Message) {
	defer b.wg.Done()

	for msg := range messages {
		delivered := b.registry.DeliverLocal(msg.Channel, []byte(msg.Payload))
		b.log.Debug().Str("room", msg.Channel).Int("delivered", delivered).Msg("broadcast received")
	}
}

func (b *Redis) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Redis) Subscribe(ctx context.Context, roomKey string, sub Subscriber) error {
	unlock := b.rooms.lock(roomKey)
	defer unlock()

	if b.isClosed() {
		return ErrClosed
	}
	if !b.registry.Add(roomKey, sub) {
		return nil
	}

	confirmCtx, cancel := context.WithTimeout(ctx, b.subscribeTimeout)
	defer cancel()

	pubsub := b.client.Subscribe(confirmCtx, roomKey)
	_, confirmErr := pubsub.Receive(confirmCtx)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = pubsub.Close()
		b.registry.Remove(roomKey, sub)
		return ErrClosed
	}
	b.subs[roomKey] = pubsub
	b.wg.Add(1)
	b.mu.Unlock()

	go b.receive(pubsub.Channel())

	// The pub/sub remembers the channel and resubscribes once the connection
	// comes back, so the member stays registered.
	if confirmErr != nil {
		return fmt.Errorf("subscribe %s: %w", roomKey, confirmErr)
	}
	return nil
}

func (b *Redis) Unsubscribe(_ context.Context, roomKey string, sub Subscriber) error {
	unlock := b.rooms.lock(roomKey)
	defer unlock()

	if !b.registry.Remove(roomKey, sub) {
		return nil
	}

	b.mu.Lock()
	pubsub, ok := b.subs[roomKey]
	delete(b.subs, roomKey)
	b.mu.Unlock()
	if !ok {
		return nil
	}

	// Closing the connection drops its subscription server side.
	if err := pubsub.Close(); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", roomKey, err)
	}
	return nil
}

// Publish sends payload to roomKey's channel. Local subscribers receive it
// back through the receive loop like any other process does.
func (b *Redis) Publish(ctx context.Context, roomKey string, payload []byte) error {
	if err := b.client.Publish(ctx, roomKey, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", roomKey, err)
	}
	return nil
}

func (b *Redis) Registry() *Registry {
	return b.registry
}

func (b *Redis) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis bus: %w", err)
	}
	return nil
}

// Close stops every receive loop. The Redis client itself is owned by the
// caller.
func (b *Redis) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[string]*redis.PubSub)
	b.mu.Unlock()

	var errs []error
	for roomKey, pubsub := range subs {
		if err := pubsub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", roomKey, err))
		}
	}
	b.wg.Wait()
	return errors.Join(errs...)
}
