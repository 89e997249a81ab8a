package chat

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInbound(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr error
	}{
		{name: "plain", raw: `{"message":"hi"}`, want: "hi"},
		{name: "trimmed", raw: `{"message":"  hello there \n"}`, want: "hello there"},
		{name: "whitespace only", raw: `{"message":"   "}`, wantErr: ErrEmptyMessage},
		{name: "missing field", raw: `{"content":"hi"}`, wantErr: ErrEmptyMessage},
		{name: "null body", raw: `{"message":null}`, wantErr: ErrEmptyMessage},
		{name: "number body", raw: `{"message":42}`, wantErr: ErrMalformedFrame},
		{name: "not json", raw: `hi`, wantErr: ErrMalformedFrame},
		{name: "array", raw: `["hi"]`, wantErr: ErrMalformedFrame},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseInbound([]byte(tt.raw))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewMessage(t *testing.T) {
	sent := time.Date(2024, 5, 1, 12, 0, 0, 250_000_000, time.UTC)

	msg, err := NewMessage("alice", " hi ", sent)
	require.NoError(t, err)

	assert.Equal(t, "alice", msg.User)
	assert.Equal(t, "hi", msg.Body)
	assert.Equal(t, TypeNewMessage, msg.Type)
	assert.InDelta(t, float64(sent.Unix())+0.25, msg.Timestamp, 1e-6)
	assert.WithinDuration(t, sent, msg.Time(), time.Millisecond)

	_, err = NewMessage("alice", "\t", sent)
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestMessageWireFormat(t *testing.T) {
	msg, err := NewMessage("A", "hi", time.Unix(1700000000, 0))
	require.NoError(t, err)

	data, err := msg.Encode()
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Equal(t, "A", fields["user"])
	assert.Equal(t, "hi", fields["message"])
	assert.Equal(t, "new_message", fields["type"])
	assert.InDelta(t, 1700000000.0, fields["timestamp"], 1e-6)

	decoded, err := DecodeMessage(data)
	require.NoError(t, err)
	assert.Equal(t, msg, decoded)
}

func TestDecodeMessageRejectsUnknownType(t *testing.T) {
	_, err := DecodeMessage([]byte(`{"user":"a","message":"b","timestamp":1,"type":"typing"}`))
	assert.Error(t, err)

	_, err = DecodeMessage([]byte(`not json`))
	assert.Error(t, err)
}

func TestRateLimitError(t *testing.T) {
	frame := RateLimitError(5, 10*time.Second)
	assert.Equal(t, "Too many messages. Limit: 5 per 10s.", frame.Error)

	data, err := frame.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"Too many messages. Limit: 5 per 10s."}`, string(data))

	assert.Equal(t, "Too many messages. Limit: 3 per 1.5s.", RateLimitError(3, 1500*time.Millisecond).Error)
}
