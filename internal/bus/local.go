package bus

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Local is an in-process bus. It is enough for a single server process and
// is the reference the networked drivers are tested against.
type Local struct {
	registry *Registry
	closed   atomic.Bool
}

// NewLocal creates an in-process bus.
func NewLocal(log zerolog.Logger) *Local {
	return &Local{registry: NewRegistry(log)}
}

func (b *Local) Subscribe(_ context.Context, roomKey string, sub Subscriber) error {
	if b.closed.Load() {
		return ErrClosed
	}
	b.registry.Add(roomKey, sub)
	return nil
}

func (b *Local) Unsubscribe(_ context.Context, roomKey string, sub Subscriber) error {
	b.registry.Remove(roomKey, sub)
	return nil
}

// Publish delivers synchronously on the caller's goroutine, which keeps one
// publisher's messages in order for every subscriber.
func (b *Local) Publish(_ context.Context, roomKey string, payload []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}
	b.registry.DeliverLocal(roomKey, payload)
	return nil
}

func (b *Local) Registry() *Registry {
	return b.registry
}

func (b *Local) Ping(context.Context) error {
	if b.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (b *Local) Close() error {
	b.closed.Store(true)
	return nil
}
