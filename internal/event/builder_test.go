package event

import (
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedSource returns the same draws every time.
type fixedSource struct {
	n int
	f float64
}

func (s fixedSource) Number(min, max int) int {
	if s.n < min {
		return min
	}
	if s.n > max {
		return max
	}
	return s.n
}

func (s fixedSource) Float64Range(min, max float64) float64 { return s.f }

func fixedClock() time.Time {
	return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
}

// TestNewSessionID tests the session identifier format.
func TestNewSessionID(t *testing.T) {
	src := NewSource(7)
	re := regexp.MustCompile(`^load-test-(\d{4})-(\d+)$`)

	for i := 0; i < 100; i++ {
		id := NewSessionID(src, fixedClock())
		m := re.FindStringSubmatch(id)
		require.NotNil(t, m, id)
		assert.Equal(t, "1714564800", m[2])
	}
}

// TestBuilder_Base tests the shared envelope fields.
func TestBuilder_Base(t *testing.T) {
	tests := []struct {
		name      string
		src       Source
		wantShard string
	}{
		{name: "below probability adds shard", src: fixedSource{n: 3, f: 0.1}, wantShard: "shard-3"},
		{name: "above probability omits shard", src: fixedSource{n: 3, f: 0.9}},
		{name: "shard number clamped to count", src: fixedSource{n: 99, f: 0}, wantShard: "shard-5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder(tt.src, DefaultOptions())
			b.SetClock(fixedClock)

			e := b.Base("s-1", 42, 300)
			assert.Equal(t, "s-1", e.SessionID)
			assert.Equal(t, fixedClock().UnixMilli(), e.Timestamp)
			assert.Equal(t, 42, e.Playhead)
			assert.Equal(t, 300, e.Duration)
			assert.Equal(t, tt.wantShard, e.ShardID)
		})
	}
}

// TestBuilder_ShardFrequency tests that about 30% of envelopes carry a shard.
func TestBuilder_ShardFrequency(t *testing.T) {
	b := NewBuilder(NewSource(12345), DefaultOptions())

	const n = 20000
	withShard := 0
	seen := map[string]bool{}
	for i := 0; i < n; i++ {
		e := b.Base("s", 0, 300)
		if e.ShardID != "" {
			withShard++
			seen[e.ShardID] = true
		}
	}

	ratio := float64(withShard) / n
	assert.InDelta(t, 0.3, ratio, 0.02)
	assert.Len(t, seen, 5)
	for _, id := range []string{"shard-1", "shard-2", "shard-3", "shard-4", "shard-5"} {
		assert.True(t, seen[id], id)
	}
}

// TestEvent_JSON tests the wire shape of the envelope.
func TestEvent_JSON(t *testing.T) {
	e := Event{SessionID: "s", Timestamp: 1, Playhead: 2, Duration: 300, Event: Heartbeat}
	data, err := json.Marshal(e)
	require.NoError(t, err)
	assert.JSONEq(t, `{"sessionId":"s","timestamp":1,"playhead":2,"duration":300,"event":"heartbeat"}`, string(data))

	e.ShardID = "shard-2"
	e.Payload = StoppedPayload{Reason: "ended"}
	data, err = json.Marshal(e.WithSentinels())
	require.NoError(t, err)
	assert.JSONEq(t, `{"sessionId":"s","timestamp":-1,"playhead":-1,"duration":-1,"event":"heartbeat",
		"shardId":"shard-2","payload":{"reason":"ended"}}`, string(data))
}

// TestBuilder_Metadata tests the metadata payload choice sets.
func TestBuilder_Metadata(t *testing.T) {
	b := NewBuilder(NewSource(1), DefaultOptions())

	for i := 0; i < 200; i++ {
		p := b.Metadata("load-test-1234-1")
		assert.False(t, p.Live)
		assert.Equal(t, "Load Test Content load-test-1234-1", p.ContentTitle)
		assert.Regexp(t, `^content-([1-9]\d?|100)$`, p.ContentID)
		assert.Regexp(t, `^user-\d{1,4}$`, p.UserID)
		assert.Regexp(t, `^device-\d{1,3}$`, p.DeviceID)
		assert.Equal(t, ContentURL, p.ContentURL)
		assert.Empty(t, p.DrmType)
		assert.Contains(t, DeviceModels, p.DeviceModel)
		assert.Contains(t, DeviceTypes, p.DeviceType)
	}

	data, err := json.Marshal(b.Metadata("x"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"drmType":""`)
}

// TestBuilder_Payloads tests that every payload draws from its choice set.
func TestBuilder_Payloads(t *testing.T) {
	b := NewBuilder(NewSource(99), DefaultOptions())

	for i := 0; i < 200; i++ {
		br := b.Bitrate()
		assert.Contains(t, Bitrates, br.Bitrate)
		assert.Contains(t, Widths, br.Width)
		assert.Contains(t, Heights, br.Height)
		assert.Contains(t, VideoBitrates, br.VideoBitrate)
		assert.Contains(t, AudioBitrates, br.AudioBitrate)

		er := b.ErrorIssue()
		assert.Contains(t, ErrorCategories, er.Category)
		assert.Contains(t, ErrorCodes, er.Code)
		assert.Contains(t, ErrorMessages, er.Message)
		assert.NotNil(t, er.Data)

		wr := b.WarningIssue()
		assert.Contains(t, WarningCategories, wr.Category)
		assert.Contains(t, WarningCodes, wr.Code)
		assert.Contains(t, WarningMessages, wr.Message)

		assert.Contains(t, StopReasons, b.Stopped().Reason)
		assert.Contains(t, PlaybackEvents, b.PlaybackEvent())
		assert.Contains(t, LoadingEvents, b.LoadingEvent())
		assert.Contains(t, InvalidPaths, b.InvalidPath())

		seek := b.SeekTarget(300)
		assert.GreaterOrEqual(t, seek, 0)
		assert.LessOrEqual(t, seek, 300)

		step := b.HeartbeatStep(1, 5)
		assert.GreaterOrEqual(t, step, 1)
		assert.LessOrEqual(t, step, 5)
	}
}

// TestInvalidBodies tests the negative-testing bodies.
func TestInvalidBodies(t *testing.T) {
	assert.Equal(t, "invalid json", string(InvalidJSONBody))
	assert.False(t, json.Valid(InvalidJSONBody))

	data, err := json.Marshal(MissingFieldsBody())
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"heartbeat"}`, string(data))

	e := InvalidTypeEvent(fixedClock())
	assert.Equal(t, "test-session", e.SessionID)
	assert.Equal(t, InvalidEventType, e.Event)
	assert.Equal(t, 300, e.Duration)
	assert.Equal(t, fixedClock().UnixMilli(), e.Timestamp)
}

// TestBuilder_Samples tests that every event kind is produced once.
func TestBuilder_Samples(t *testing.T) {
	b := NewBuilder(NewSource(3), DefaultOptions())
	b.SetClock(fixedClock)

	samples := b.Samples("sid", 42, 300)
	require.Len(t, samples, 15)

	seen := make(map[Name]bool)
	for _, e := range samples {
		assert.False(t, seen[e.Event], "duplicate %s", e.Event)
		seen[e.Event] = true
		assert.Equal(t, "sid", e.SessionID)

		switch e.Event {
		case Init, Metadata:
			assert.Equal(t, int64(Sentinel), e.Timestamp)
			assert.Equal(t, Sentinel, e.Playhead)
			assert.Equal(t, Sentinel, e.Duration)
		case Seeking, Seeked:
			assert.GreaterOrEqual(t, e.Playhead, 0)
			assert.LessOrEqual(t, e.Playhead, 300)
		default:
			assert.Equal(t, fixedClock().UnixMilli(), e.Timestamp)
			assert.Equal(t, 42, e.Playhead)
			assert.Equal(t, 300, e.Duration)
		}

		switch e.Event {
		case Metadata, BitrateChanged, Error, Warning, Stopped:
			assert.NotNil(t, e.Payload, e.Event)
		default:
			assert.Nil(t, e.Payload, e.Event)
		}
	}
}
