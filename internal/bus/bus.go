// Package bus fans chat messages out to every session subscribed to a room,
// in this process and in any other process attached to the same broker.
//
// Each driver keeps a process-local Registry. The first local subscriber of a
// room opens the driver's remote subscription for it and the last one closes
// it; messages arriving from the broker are handed to the Registry for local
// delivery. Delivery is best-effort and only reaches sessions subscribed at
// publish time.
package bus

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Supported drivers.
const (
	DriverLocal = "local"
	DriverRedis = "redis"
	DriverNATS  = "nats"
)

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("bus closed")

// Subscriber is a session as seen by the bus: an identity and a way to push
// an encoded frame to its client.
type Subscriber interface {
	ID() string
	Deliver(payload []byte) error
}

// Bus is a publish/subscribe fan-out keyed by room.
type Bus interface {
	// Subscribe starts delivering roomKey's messages to sub.
	Subscribe(ctx context.Context, roomKey string, sub Subscriber) error
	// Unsubscribe stops delivering roomKey's messages to sub.
	Unsubscribe(ctx context.Context, roomKey string, sub Subscriber) error
	// Publish sends payload to every subscriber of roomKey.
	Publish(ctx context.Context, roomKey string, payload []byte) error
	// Registry exposes the process-local subscriptions.
	Registry() *Registry
	// Ping reports whether the broker is reachable.
	Ping(ctx context.Context) error
	Close() error
}

// Config selects and configures a driver.
type Config struct {
	Driver  string `yaml:"driver"`
	NATSURL string `yaml:"nats_url"`
}

// Open creates the bus described by cfg. The Redis client is only used by
// the redis driver.
func Open(cfg Config, client redis.UniversalClient, log zerolog.Logger) (Bus, error) {
	log = log.With().Str("bus", cfg.Driver).Logger()

	switch cfg.Driver {
	case DriverLocal:
		return NewLocal(log), nil
	case DriverRedis:
		if client == nil {
			return nil, fmt.Errorf("redis bus requires a redis client")
		}
		return NewRedis(client, log), nil
	case DriverNATS:
		b, err := NewNATS(cfg.NATSURL, log)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown bus driver %q", cfg.Driver)
	}
}
