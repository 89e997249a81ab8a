// Package history keeps the most recent messages of every room in a bounded
// Redis list so clients can catch up when they join.
package history

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultSize is the number of messages retained per room.
const DefaultSize = 100

// Store appends to and replays per-room logs. Failures of the backing store
// are logged and absorbed: a message that cannot be retained is still
// delivered live, and a room whose log cannot be read replays as empty.
type Store struct {
	client redis.UniversalClient
	size   int64
	log    zerolog.Logger
}

// New creates a Store keeping the last size messages per room.
func New(client redis.UniversalClient, size int, log zerolog.Logger) *Store {
	if size <= 0 {
		size = DefaultSize
	}
	return &Store{
		client: client,
		size:   int64(size),
		log:    log,
	}
}

// Size returns the per-room cap.
func (s *Store) Size() int {
	return int(s.size)
}

// Append adds payload to the tail of roomKey's log and trims the log to the
// configured size in the same transaction.
func (s *Store) Append(ctx context.Context, roomKey string, payload []byte) {
	if err := s.append(ctx, roomKey, payload); err != nil {
		s.log.Warn().Err(err).Str("room", roomKey).Msg("history append failed, message not retained")
	}
}

func (s *Store) append(ctx context.Context, roomKey string, payload []byte) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, roomKey, payload)
		pipe.LTrim(ctx, roomKey, -s.size, -1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("append to %s: %w", roomKey, err)
	}
	return nil
}

// Replay returns roomKey's log oldest first. It never fails: a missing room
// or an unreachable store both yield an empty slice.
func (s *Store) Replay(ctx context.Context, roomKey string) [][]byte {
	entries, err := s.client.LRange(ctx, roomKey, 0, -1).Result()
	if err != nil {
		s.log.Warn().Err(err).Str("room", roomKey).Msg("history replay failed, sending none")
		return [][]byte{}
	}

	out := make([][]byte, 0, len(entries))
	for _, entry := range entries {
		out = append(out, []byte(entry))
	}
	return out
}

// Clear drops roomKey's log.
func (s *Store) Clear(ctx context.Context, roomKey string) error {
	if err := s.client.Del(ctx, roomKey).Err(); err != nil {
		return fmt.Errorf("clear %s: %w", roomKey, err)
	}
	return nil
}
