package event

import "time"

// InvalidEventType is an event name the endpoint must reject.
const InvalidEventType Name = "invalid_event_type"

// InvalidJSONBody is sent verbatim with a JSON content type.
var InvalidJSONBody = []byte("invalid json")

// MissingFieldsBody omits every required field except event.
func MissingFieldsBody() map[string]any {
	return map[string]any{"event": string(Heartbeat)}
}

// InvalidTypeEvent returns a complete envelope whose event name is unknown.
func InvalidTypeEvent(now time.Time) Event {
	return Event{
		SessionID: "test-session",
		Timestamp: now.UnixMilli(),
		Playhead:  0,
		Duration:  300,
		Event:     InvalidEventType,
	}
}
