package schema

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/eventsink/tools/loadgen/internal/event"
)

func TestValidator_ValidateBytes(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	tests := []struct {
		name    string
		body    string
		wantErr error
	}{
		{
			name: "init with sentinels",
			body: `{"sessionId":"s1","timestamp":-1,"playhead":-1,"duration":-1,"event":"init"}`,
		},
		{
			name: "heartbeat with shard",
			body: `{"sessionId":"s1","timestamp":1714564800000,"playhead":12,"duration":300,"event":"heartbeat","shardId":"shard-3"}`,
		},
		{
			name:    "init with real timestamp",
			body:    `{"sessionId":"s1","timestamp":1714564800000,"playhead":-1,"duration":-1,"event":"init"}`,
			wantErr: ErrInvalidEvent,
		},
		{
			name:    "heartbeat with sentinel playhead",
			body:    `{"sessionId":"s1","timestamp":1714564800000,"playhead":-1,"duration":300,"event":"heartbeat"}`,
			wantErr: ErrInvalidEvent,
		},
		{
			name:    "missing fields",
			body:    `{"event":"heartbeat"}`,
			wantErr: ErrInvalidEvent,
		},
		{
			name:    "unknown event",
			body:    `{"sessionId":"test-session","timestamp":1714564800000,"playhead":0,"duration":300,"event":"invalid_event_type"}`,
			wantErr: ErrInvalidEvent,
		},
		{
			name:    "stopped without payload",
			body:    `{"sessionId":"s1","timestamp":1714564800000,"playhead":10,"duration":300,"event":"stopped"}`,
			wantErr: ErrInvalidEvent,
		},
		{
			name:    "unknown property",
			body:    `{"sessionId":"s1","timestamp":1,"playhead":1,"duration":300,"event":"playing","extra":true}`,
			wantErr: ErrInvalidEvent,
		},
		{
			name:    "bad shard id",
			body:    `{"sessionId":"s1","timestamp":1,"playhead":1,"duration":300,"event":"playing","shardId":"east"}`,
			wantErr: ErrInvalidEvent,
		},
		{
			name:    "not json",
			body:    `invalid json`,
			wantErr: ErrMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateBytes([]byte(tt.body))
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestValidator_GeneratedEvents(t *testing.T) {
	v, err := Default()
	require.NoError(t, err)

	b := event.NewBuilder(event.NewSource(42), event.DefaultOptions())
	b.SetClock(func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) })

	events := b.Samples("load-test-1234-1714564800", 42, 300)

	for _, e := range events {
		body, err := json.Marshal(e)
		require.NoError(t, err)
		assert.NoError(t, v.ValidateBytes(body), string(body))
		assert.NoError(t, v.ValidateValue(e), string(e.Event))
	}
}

func TestValidator_RejectsNegativeBodies(t *testing.T) {
	v, err := Default()
	require.NoError(t, err)

	assert.ErrorIs(t, v.ValidateBytes(event.InvalidJSONBody), ErrMalformed)
	assert.ErrorIs(t, v.ValidateValue(event.MissingFieldsBody()), ErrInvalidEvent)
	assert.ErrorIs(t, v.ValidateValue(event.InvalidTypeEvent(time.Now())), ErrInvalidEvent)
}
