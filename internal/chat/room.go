package chat

import (
	"errors"
	"regexp"
	"strings"
)

// ErrInvalidRoom is returned for room names outside the accepted alphabet.
var ErrInvalidRoom = errors.New("invalid room name")

const roomKeyPrefix = "chat_"

var roomPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Room is a validated room name. Rooms have no lifecycle of their own; they
// exist while someone is subscribed or history is retained under their key.
type Room string

// ParseRoom validates name and returns it as a Room.
func ParseRoom(name string) (Room, error) {
	if !roomPattern.MatchString(name) {
		return "", ErrInvalidRoom
	}
	return Room(name), nil
}

// Name returns the room name as given by the client.
func (r Room) Name() string {
	return string(r)
}

// Key returns the group key under which the room's history and broadcast
// channel are stored.
func (r Room) Key() string {
	return roomKeyPrefix + string(r)
}

// RoomFromKey reverses Key. It reports false for keys without the room prefix.
func RoomFromKey(key string) (Room, bool) {
	name, ok := strings.CutPrefix(key, roomKeyPrefix)
	if !ok || !roomPattern.MatchString(name) {
		return "", false
	}
	return Room(name), true
}
