package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomchat/internal/chat"
)

const (
	// SubjectPrefix is prepended to room names to form NATS subjects.
	SubjectPrefix = "chat."

	natsFlushTimeout = 2 * time.Second
)

// NATS fans out through core NATS subjects, one per room. Subscriptions are
// opened on a room's first local member and drained on its last.
type NATS struct {
	nc           *nats.Conn
	registry     *Registry
	log          zerolog.Logger
	flushTimeout time.Duration

	rooms roomLocks

	// mu guards subs only; it is never held across a broker round trip.
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NewNATS connects to url. The connection retries in the background, so a
// broker that is down at startup does not prevent the server from running.
func NewNATS(url string, log zerolog.Logger) (*NATS, error) {
	if url == "" {
		url = nats.DefaultURL
	}

	nc, err := nats.Connect(url,
		nats.Name("roomchat"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	return &NATS{
		nc:           nc,
		registry:     NewRegistry(log),
		log:          log,
		flushTimeout: natsFlushTimeout,
		subs:         make(map[string]*nats.Subscription),
	}, nil
}

// Subject returns the NATS subject carrying roomKey's messages.
func Subject(roomKey string) string {
	if room, ok := chat.RoomFromKey(roomKey); ok {
		return SubjectPrefix + room.Name()
	}
	return SubjectPrefix + roomKey
}

func (b *NATS) Subscribe(_ context.Context, roomKey string, sub Subscriber) error {
	unlock := b.rooms.lock(roomKey)
	defer unlock()

	if b.nc.IsClosed() {
		return ErrClosed
	}
	if !b.registry.Add(roomKey, sub) {
		return nil
	}

	// The handler runs on one goroutine per subscription, which keeps a
	// publisher's messages in order.
	s, err := b.nc.Subscribe(Subject(roomKey), func(msg *nats.Msg) {
		b.registry.DeliverLocal(roomKey, msg.Data)
	})
	if err != nil {
		b.registry.Remove(roomKey, sub)
		return fmt.Errorf("subscribe %s: %w", roomKey, err)
	}

	b.mu.Lock()
	b.subs[roomKey] = s
	b.mu.Unlock()

	// A disconnected client keeps the subscription and replays it on
	// reconnect, so a flush timeout leaves the member registered.
	if err := b.nc.FlushTimeout(b.flushTimeout); err != nil {
		return fmt.Errorf("flush subscription %s: %w", roomKey, err)
	}
	return nil
}

func (b *NATS) Unsubscribe(_ context.Context, roomKey string, sub Subscriber) error {
	unlock := b.rooms.lock(roomKey)
	defer unlock()

	if !b.registry.Remove(roomKey, sub) {
		return nil
	}

	b.mu.Lock()
	s, ok := b.subs[roomKey]
	delete(b.subs, roomKey)
	b.mu.Unlock()
	if !ok {
		return nil
	}

	if err := s.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("unsubscribe %s: %w", roomKey, err)
	}
	return nil
}

func (b *NATS) Publish(_ context.Context, roomKey string, payload []byte) error {
	if err := b.nc.Publish(Subject(roomKey), payload); err != nil {
		return fmt.Errorf("publish %s: %w", roomKey, err)
	}
	return nil
}

func (b *NATS) Registry() *Registry {
	return b.registry
}

func (b *NATS) Ping(context.Context) error {
	if status := b.nc.Status(); status != nats.CONNECTED {
		return fmt.Errorf("nats not connected: %s", status)
	}
	return nil
}

func (b *NATS) Close() error {
	b.nc.Close()
	return nil
}
