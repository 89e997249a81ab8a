package bus

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// Registry maps room keys to the sessions of this process subscribed to them.
// Bus drivers use it to resolve local deliveries once a message for a room
// reaches the process.
type Registry struct {
	rooms map[string]map[string]Subscriber
	mutex sync.RWMutex
	log   zerolog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		rooms: make(map[string]map[string]Subscriber),
		log:   log,
	}
}

// Add registers sub under roomKey and reports whether it is the room's first
// local subscriber. Adding the same subscriber twice is a no-op.
func (r *Registry) Add(roomKey string, sub Subscriber) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	members, ok := r.rooms[roomKey]
	if !ok {
		members = make(map[string]Subscriber)
		r.rooms[roomKey] = members
	}
	members[sub.ID()] = sub

	r.log.Debug().Str("room", roomKey).Str("session_id", sub.ID()).Int("members", len(members)).Msg("subscriber added")
	return !ok
}

// Remove unregisters sub from roomKey and reports whether the room has no
// local subscribers left. Removing an unknown subscriber reports false.
func (r *Registry) Remove(roomKey string, sub Subscriber) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	members, ok := r.rooms[roomKey]
	if !ok {
		return false
	}
	if _, exists := members[sub.ID()]; !exists {
		return false
	}

	delete(members, sub.ID())
	r.log.Debug().Str("room", roomKey).Str("session_id", sub.ID()).Int("members", len(members)).Msg("subscriber removed")

	if len(members) == 0 {
		delete(r.rooms, roomKey)
		return true
	}
	return false
}

// DeliverLocal pushes payload to every subscriber of roomKey and returns how
// many accepted it. A subscriber whose delivery fails is logged and skipped.
func (r *Registry) DeliverLocal(roomKey string, payload []byte) int {
	subs := r.snapshot(roomKey)

	delivered := 0
	for _, sub := range subs {
		if err := sub.Deliver(payload); err != nil {
			r.log.Warn().Err(err).Str("room", roomKey).Str("session_id", sub.ID()).Msg("delivery failed")
			continue
		}
		delivered++
	}
	return delivered
}

// snapshot copies the subscriber set so delivery runs without the lock held.
func (r *Registry) snapshot(roomKey string) []Subscriber {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	members := r.rooms[roomKey]
	subs := make([]Subscriber, 0, len(members))
	for _, sub := range members {
		subs = append(subs, sub)
	}
	return subs
}

// Count returns the number of local subscribers of roomKey.
func (r *Registry) Count(roomKey string) int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.rooms[roomKey])
}

// Has reports whether sub is registered under roomKey.
func (r *Registry) Has(roomKey string, sub Subscriber) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	_, ok := r.rooms[roomKey][sub.ID()]
	return ok
}

// Rooms returns the keys of rooms with at least one local subscriber, sorted.
func (r *Registry) Rooms() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	keys := make([]string, 0, len(r.rooms))
	for key := range r.rooms {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
