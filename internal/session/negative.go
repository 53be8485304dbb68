package session

import (
	"context"
	"net/http"

	"github.com/example/eventsink/tools/loadgen/internal/event"
)

// The malformed requests below do not touch the session state. Each one
// succeeds only when the endpoint answers 400.

// SendInvalidJSON posts a body that is not JSON.
func (s *Simulator) SendInvalidJSON(ctx context.Context) Outcome {
	resp, err := s.req.PostRaw(ctx, EventPath, event.InvalidJSONBody)
	return s.finish(ctx, Outcome{Name: "POST invalid_json", Method: http.MethodPost, Path: EventPath},
		resp, err, expectStatus(http.StatusBadRequest), "Expected 400 for invalid JSON")
}

// SendMissingFields posts an event carrying only its name.
func (s *Simulator) SendMissingFields(ctx context.Context) Outcome {
	resp, err := s.req.Post(ctx, EventPath, event.MissingFieldsBody())
	return s.finish(ctx, Outcome{Name: "POST missing_fields", Method: http.MethodPost, Path: EventPath},
		resp, err, expectStatus(http.StatusBadRequest), "Expected 400 for missing fields")
}

// SendInvalidEventType posts a complete event with an unknown name.
func (s *Simulator) SendInvalidEventType(ctx context.Context) Outcome {
	resp, err := s.req.Post(ctx, EventPath, event.InvalidTypeEvent(s.builder.Now()))
	return s.finish(ctx, Outcome{Name: "POST invalid_event_type", Method: http.MethodPost, Path: EventPath},
		resp, err, expectStatus(http.StatusBadRequest), "Expected 400 for invalid event type")
}
