package event

import (
	"fmt"
	"time"
)

// Options controls the optional envelope fields.
type Options struct {
	ShardProbability float64
	ShardCount       int
}

// DefaultOptions tags 30% of events with one of five shards.
func DefaultOptions() Options {
	return Options{ShardProbability: 0.3, ShardCount: 5}
}

// Builder constructs events and payloads from a random source.
// A Builder is owned by a single simulated user and is not safe for
// concurrent use.
type Builder struct {
	src  Source
	opts Options
	now  func() time.Time
}

// NewBuilder creates a Builder. Zero option fields fall back to DefaultOptions.
func NewBuilder(src Source, opts Options) *Builder {
	def := DefaultOptions()
	if opts.ShardCount <= 0 {
		opts.ShardCount = def.ShardCount
	}
	if opts.ShardProbability < 0 {
		opts.ShardProbability = 0
	}
	return &Builder{src: src, opts: opts, now: time.Now}
}

// SetClock replaces the clock used for timestamps.
func (b *Builder) SetClock(now func() time.Time) {
	b.now = now
}

// Source returns the random source backing the builder.
func (b *Builder) Source() Source {
	return b.src
}

// Now returns the builder's current time.
func (b *Builder) Now() time.Time {
	return b.now()
}

// Base returns an envelope with the current wall clock in milliseconds and
// the given position. The shard tag is added with the configured probability.
func (b *Builder) Base(sessionID string, playhead, duration int) Event {
	e := Event{
		SessionID: sessionID,
		Timestamp: b.now().UnixMilli(),
		Playhead:  playhead,
		Duration:  duration,
	}
	if chance(b.src, b.opts.ShardProbability) {
		e.ShardID = fmt.Sprintf("shard-%d", b.src.Number(1, b.opts.ShardCount))
	}
	return e
}

// Metadata returns a content and device description for sessionID.
func (b *Builder) Metadata(sessionID string) MetadataPayload {
	return MetadataPayload{
		Live:         false,
		ContentTitle: "Load Test Content " + sessionID,
		ContentID:    fmt.Sprintf("content-%d", b.src.Number(1, 100)),
		ContentURL:   ContentURL,
		DrmType:      "",
		UserID:       fmt.Sprintf("user-%d", b.src.Number(1, 1000)),
		DeviceID:     fmt.Sprintf("device-%d", b.src.Number(1, 500)),
		DeviceModel:  pick(b.src, DeviceModels),
		DeviceType:   pick(b.src, DeviceTypes),
	}
}

// PlaybackEvent picks one of PlaybackEvents.
func (b *Builder) PlaybackEvent() Name {
	return pick(b.src, PlaybackEvents)
}

// LoadingEvent picks one of LoadingEvents.
func (b *Builder) LoadingEvent() Name {
	return pick(b.src, LoadingEvents)
}

// SeekTarget returns a playhead in [0, duration].
func (b *Builder) SeekTarget(duration int) int {
	if duration <= 0 {
		return 0
	}
	return b.src.Number(0, duration)
}

// HeartbeatStep returns an increment in [min, max].
func (b *Builder) HeartbeatStep(min, max int) int {
	if max < min {
		max = min
	}
	return b.src.Number(min, max)
}

// Bitrate returns a rendition change payload.
func (b *Builder) Bitrate() BitratePayload {
	return BitratePayload{
		Bitrate:      pick(b.src, Bitrates),
		Width:        pick(b.src, Widths),
		Height:       pick(b.src, Heights),
		VideoBitrate: pick(b.src, VideoBitrates),
		AudioBitrate: pick(b.src, AudioBitrates),
	}
}

// ErrorIssue returns a playback error payload.
func (b *Builder) ErrorIssue() IssuePayload {
	return IssuePayload{
		Category: pick(b.src, ErrorCategories),
		Code:     pick(b.src, ErrorCodes),
		Message:  pick(b.src, ErrorMessages),
		Data:     map[string]any{},
	}
}

// WarningIssue returns a playback warning payload.
func (b *Builder) WarningIssue() IssuePayload {
	return IssuePayload{
		Category: pick(b.src, WarningCategories),
		Code:     pick(b.src, WarningCodes),
		Message:  pick(b.src, WarningMessages),
		Data:     map[string]any{},
	}
}

// Stopped returns a stop payload with a random reason.
func (b *Builder) Stopped() StoppedPayload {
	return StoppedPayload{Reason: pick(b.src, StopReasons)}
}

// Chance reports whether a uniform draw falls below p.
func (b *Builder) Chance(p float64) bool {
	return chance(b.src, p)
}

// InvalidPath picks one of InvalidPaths.
func (b *Builder) InvalidPath() string {
	return pick(b.src, InvalidPaths)
}

// Samples returns one event of every kind for sessionID, with payloads
// and sentinels filled in as they would be sent.
func (b *Builder) Samples(sessionID string, playhead, duration int) []Event {
	names := []Name{Init, Metadata, Heartbeat}
	names = append(names, PlaybackEvents...)
	names = append(names, LoadingEvents...)
	names = append(names, BitrateChanged, Error, Warning, Stopped)

	out := make([]Event, 0, len(names))
	for _, n := range names {
		e := b.Base(sessionID, playhead, duration)
		e.Event = n
		switch n {
		case Init:
			e = e.WithSentinels()
		case Metadata:
			e = e.WithSentinels()
			e.Payload = b.Metadata(sessionID)
		case Seeking, Seeked:
			e.Playhead = b.SeekTarget(duration)
		case BitrateChanged:
			e.Payload = b.Bitrate()
		case Error:
			e.Payload = b.ErrorIssue()
		case Warning:
			e.Payload = b.WarningIssue()
		case Stopped:
			e.Payload = b.Stopped()
		}
		out = append(out, e)
	}
	return out
}
