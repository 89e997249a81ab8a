// Package chat defines the message model and wire frames exchanged between
// chat clients and the server, plus the room naming rules.
package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Event kinds carried in the "type" field of outbound frames.
const (
	TypeNewMessage = "new_message"
)

var (
	// ErrMalformedFrame is returned when an inbound frame is not a JSON object
	// with a string "message" field.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrEmptyMessage is returned when a message body is empty after trimming.
	ErrEmptyMessage = errors.New("empty message")
)

// InboundFrame is the only frame a client sends after joining a room.
type InboundFrame struct {
	Message string `json:"message"`
}

// ParseInbound decodes a client frame and returns its trimmed body.
// Frames that trim to an empty body yield ErrEmptyMessage.
func ParseInbound(raw []byte) (string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	rawBody, ok := fields["message"]
	if !ok {
		return "", ErrEmptyMessage
	}

	var body string
	if err := json.Unmarshal(rawBody, &body); err != nil {
		return "", fmt.Errorf("%w: message is not a string", ErrMalformedFrame)
	}

	body = strings.TrimSpace(body)
	if body == "" {
		return "", ErrEmptyMessage
	}
	return body, nil
}

// Message is a chat message broadcast to a room. It is never mutated after
// creation; use Encode to obtain the bytes that are stored and transmitted.
type Message struct {
	User      string  `json:"user"`
	Body      string  `json:"message"`
	Timestamp float64 `json:"timestamp"`
	Type      string  `json:"type"`
}

// NewMessage builds a new_message event for user sent at t.
func NewMessage(user, body string, t time.Time) (Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return Message{}, ErrEmptyMessage
	}
	return Message{
		User:      user,
		Body:      body,
		Timestamp: float64(t.UnixMicro()) / 1e6,
		Type:      TypeNewMessage,
	}, nil
}

// Time returns the message timestamp as a time.Time.
func (m Message) Time() time.Time {
	return time.UnixMicro(int64(m.Timestamp * 1e6))
}

// Encode serializes the message into its wire form.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeMessage parses a stored or transmitted message.
func DecodeMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if m.Type != TypeNewMessage {
		return Message{}, fmt.Errorf("decode message: unknown type %q", m.Type)
	}
	return m, nil
}

// ErrorFrame is sent to a single client, currently only on rate-limit
// rejection.
type ErrorFrame struct {
	Error string `json:"error"`
}

// RateLimitError builds the rejection frame for the given limit.
func RateLimitError(limit int, window time.Duration) ErrorFrame {
	return ErrorFrame{
		Error: fmt.Sprintf("Too many messages. Limit: %d per %s.", limit, formatWindow(window)),
	}
}

// Encode serializes the error frame.
func (f ErrorFrame) Encode() ([]byte, error) {
	return json.Marshal(f)
}

func formatWindow(d time.Duration) string {
	if d%time.Second == 0 {
		return fmt.Sprintf("%ds", int64(d/time.Second))
	}
	return d.String()
}
