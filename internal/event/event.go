// Package event builds the telemetry events posted to the ingestion
// endpoint: the shared envelope, the payload choice sets and the malformed
// bodies used for negative testing.
package event

import (
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
)

// Name is the value of the envelope's "event" field.
type Name string

// Event names accepted by the ingestion endpoint.
const (
	Init           Name = "init"
	Metadata       Name = "metadata"
	Heartbeat      Name = "heartbeat"
	Playing        Name = "playing"
	Paused         Name = "paused"
	Buffering      Name = "buffering"
	Buffered       Name = "buffered"
	Seeking        Name = "seeking"
	Seeked         Name = "seeked"
	Loading        Name = "loading"
	Loaded         Name = "loaded"
	BitrateChanged Name = "bitrate_changed"
	Error          Name = "error"
	Warning        Name = "warning"
	Stopped        Name = "stopped"
)

// Sentinel replaces timestamp, playhead and duration on init and metadata.
const Sentinel = -1

// Event is the JSON envelope posted to the endpoint.
type Event struct {
	SessionID string `json:"sessionId"`
	Timestamp int64  `json:"timestamp"`
	Playhead  int    `json:"playhead"`
	Duration  int    `json:"duration"`
	Event     Name   `json:"event"`
	Payload   any    `json:"payload,omitempty"`
	ShardID   string `json:"shardId,omitempty"`
}

// WithSentinels returns a copy of e with timestamp, playhead and duration
// set to Sentinel.
func (e Event) WithSentinels() Event {
	e.Timestamp = Sentinel
	e.Playhead = Sentinel
	e.Duration = Sentinel
	return e
}

// MetadataPayload describes the content and device of a session.
type MetadataPayload struct {
	Live         bool   `json:"live"`
	ContentTitle string `json:"contentTitle"`
	ContentID    string `json:"contentId"`
	ContentURL   string `json:"contentUrl"`
	DrmType      string `json:"drmType"`
	UserID       string `json:"userId"`
	DeviceID     string `json:"deviceId"`
	DeviceModel  string `json:"deviceModel"`
	DeviceType   string `json:"deviceType"`
}

// BitratePayload is attached to bitrate_changed events.
type BitratePayload struct {
	Bitrate      int `json:"bitrate"`
	Width        int `json:"width"`
	Height       int `json:"height"`
	VideoBitrate int `json:"videoBitrate"`
	AudioBitrate int `json:"audioBitrate"`
}

// IssuePayload is attached to error and warning events.
type IssuePayload struct {
	Category string         `json:"category"`
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	Data     map[string]any `json:"data"`
}

// StoppedPayload is attached to stopped events.
type StoppedPayload struct {
	Reason string `json:"reason"`
}

// Source is the random source used by Builder. *gofakeit.Faker satisfies it.
type Source interface {
	Number(min, max int) int
	Float64Range(min, max float64) float64
}

// NewSource returns a gofakeit source. A zero seed picks a random seed.
func NewSource(seed uint64) *gofakeit.Faker {
	return gofakeit.New(seed)
}

// pick returns a uniformly chosen element of choices.
func pick[T any](src Source, choices []T) T {
	return choices[src.Number(0, len(choices)-1)]
}

// chance reports whether a uniform draw falls below p.
func chance(src Source, p float64) bool {
	return src.Float64Range(0, 1) < p
}

// NewSessionID returns an identifier of the form load-test-<1000..9999>-<unix seconds>.
func NewSessionID(src Source, now time.Time) string {
	return fmt.Sprintf("load-test-%d-%d", src.Number(1000, 9999), now.Unix())
}
