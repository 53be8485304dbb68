// Package session simulates one playback session: it owns the per-user
// session state and the behaviors that post telemetry events for it.
package session

import (
	"github.com/example/eventsink/tools/loadgen/internal/config"
)

// State is the mutable state of one simulated session. It is owned by a
// single user goroutine.
type State struct {
	SessionID       string
	Initialized     bool
	Playhead        int
	ContentDuration int
}

// reset ends the session; the next successful init starts traffic again.
func (s *State) reset() {
	s.Initialized = false
	s.Playhead = 0
}

// Config tunes the simulated session.
type Config struct {
	ContentDuration  int
	StopProbability  float64
	ShardProbability float64
	ShardCount       int
	HeartbeatMin     int
	HeartbeatMax     int
}

// DefaultConfig returns the stock session parameters.
func DefaultConfig() Config {
	return Config{
		ContentDuration:  config.DefaultContentDuration,
		StopProbability:  config.DefaultStopProbability,
		ShardProbability: config.DefaultShardProbability,
		ShardCount:       config.DefaultShardCount,
		HeartbeatMin:     config.DefaultHeartbeatMin,
		HeartbeatMax:     config.DefaultHeartbeatMax,
	}
}

// ConfigFrom converts the file configuration. Unset fields keep their defaults.
func ConfigFrom(sc config.SessionConfig) Config {
	cfg := DefaultConfig()
	if sc.ContentDuration > 0 {
		cfg.ContentDuration = sc.ContentDuration
	}
	if sc.StopProbability != nil {
		cfg.StopProbability = *sc.StopProbability
	}
	if sc.ShardProbability != nil {
		cfg.ShardProbability = *sc.ShardProbability
	}
	if sc.ShardCount > 0 {
		cfg.ShardCount = sc.ShardCount
	}
	if sc.HeartbeatMin > 0 || sc.HeartbeatMax > 0 {
		cfg.HeartbeatMin = sc.HeartbeatMin
		cfg.HeartbeatMax = sc.HeartbeatMax
	}
	return cfg
}
