// Package user defines the simulated user classes and the loop that drives
// one user through its weighted behaviors.
package user

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/example/eventsink/tools/loadgen/internal/selector"
	"github.com/example/eventsink/tools/loadgen/internal/session"
)

// ErrUnknownClass is returned when a class name is not registered.
var ErrUnknownClass = errors.New("user: unknown class")

// Registered class names.
const (
	ClassBaseline     = "baseline"
	ClassHighVolume   = "high_volume"
	ClassInvalidEvent = "invalid_event"
)

// Behavior is one action a user can take against its session.
type Behavior func(*session.Simulator, context.Context) session.Outcome

// Class is a user type: a behavior mix and the pause between behaviors.
type Class struct {
	Name      string
	ThinkTime selector.ThinkTimeConfig
	Behaviors *selector.Table[Behavior]
}

// baselineEntries is the mixed-traffic mix. Heartbeats dominate; error,
// warning and stop are rare.
func baselineEntries() []selector.Entry[Behavior] {
	return []selector.Entry[Behavior]{
		{Name: "init", Weight: 1, Value: (*session.Simulator).SendInit},
		{Name: "metadata", Weight: 2, Value: (*session.Simulator).SendMetadata},
		{Name: "heartbeat", Weight: 5, Value: (*session.Simulator).SendHeartbeat},
		{Name: "playback", Weight: 3, Value: (*session.Simulator).SendPlaybackEvent},
		{Name: "loading", Weight: 2, Value: (*session.Simulator).SendLoadingEvent},
		{Name: "bitrate_changed", Weight: 1, Value: (*session.Simulator).SendBitrateChanged},
		{Name: "error", Weight: 1, Value: (*session.Simulator).SendError},
		{Name: "warning", Weight: 1, Value: (*session.Simulator).SendWarning},
		{Name: "stopped", Weight: 1, Value: (*session.Simulator).SendStopped},
		{Name: "options", Weight: 1, Value: (*session.Simulator).SendOptionsProbe},
		{Name: "invalid_endpoint", Weight: 1, Value: (*session.Simulator).SendInvalidEndpointProbe},
	}
}

// Baseline sends a realistic mix of session events.
func Baseline() Class {
	return Class{
		Name:      ClassBaseline,
		ThinkTime: selector.Between(1*time.Second, 3*time.Second),
		Behaviors: mustTable(baselineEntries()...),
	}
}

// HighVolume adds heavily weighted rapid heartbeats and shortens the pause.
func HighVolume() Class {
	entries := append(baselineEntries(),
		selector.Entry[Behavior]{Name: "rapid_heartbeat", Weight: 10, Value: (*session.Simulator).SendRapidHeartbeat})
	return Class{
		Name:      ClassHighVolume,
		ThinkTime: selector.Between(100*time.Millisecond, 500*time.Millisecond),
		Behaviors: mustTable(entries...),
	}
}

// InvalidEvent only sends malformed requests.
func InvalidEvent() Class {
	return Class{
		Name:      ClassInvalidEvent,
		ThinkTime: selector.Between(2*time.Second, 5*time.Second),
		Behaviors: mustTable(
			selector.Entry[Behavior]{Name: "invalid_json", Weight: 1, Value: (*session.Simulator).SendInvalidJSON},
			selector.Entry[Behavior]{Name: "missing_fields", Weight: 1, Value: (*session.Simulator).SendMissingFields},
			selector.Entry[Behavior]{Name: "invalid_event_type", Weight: 1, Value: (*session.Simulator).SendInvalidEventType},
		),
	}
}

var registry = map[string]func() Class{
	ClassBaseline:     Baseline,
	ClassHighVolume:   HighVolume,
	ClassInvalidEvent: InvalidEvent,
}

// Lookup returns the class registered under name.
func Lookup(name string) (Class, error) {
	ctor, ok := registry[name]
	if !ok {
		return Class{}, fmt.Errorf("%w: %q (known: %v)", ErrUnknownClass, name, Names())
	}
	return ctor(), nil
}

// Names returns the registered class names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// WithThinkTime returns a copy of c using tt, unless tt is zero.
func (c Class) WithThinkTime(tt selector.ThinkTimeConfig) Class {
	if !tt.IsZero() {
		c.ThinkTime = tt
	}
	return c
}

func mustTable(entries ...selector.Entry[Behavior]) *selector.Table[Behavior] {
	t, err := selector.NewTable(entries...)
	if err != nil {
		panic(fmt.Sprintf("user: building behavior table: %v", err))
	}
	return t
}
