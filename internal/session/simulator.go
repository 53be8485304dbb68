package session

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/example/eventsink/tools/loadgen/internal/client"
	"github.com/example/eventsink/tools/loadgen/internal/event"
	"github.com/example/eventsink/tools/loadgen/internal/metrics"
)

// EventPath is where events and the CORS preflight are sent.
const EventPath = "/"

// Requester is the subset of *client.Client the simulator needs.
type Requester interface {
	Post(ctx context.Context, path string, body any) (*client.Response, error)
	PostRaw(ctx context.Context, path string, body []byte) (*client.Response, error)
	Options(ctx context.Context, path string) (*client.Response, error)
	Get(ctx context.Context, path string, queryParams map[string]string) (*client.Response, error)
}

// Recorder receives one result per executed behavior.
// *metrics.Collector satisfies it.
type Recorder interface {
	Record(result metrics.Result)
}

// Outcome describes one behavior invocation.
type Outcome struct {
	Name       string
	Method     string
	Path       string
	StatusCode int
	Success    bool
	Failure    string
	Latency    time.Duration
	Bytes      int64

	// Skipped is set when a precondition was not met and nothing was sent.
	Skipped bool
	// Canceled is set when the run ended while the request was in flight.
	// Canceled outcomes are not recorded.
	Canceled bool
}

// Simulator drives one session against the endpoint. It is not safe for
// concurrent use; each simulated user owns one.
type Simulator struct {
	req     Requester
	rec     Recorder
	builder *event.Builder
	cfg     Config
	state   State
	logger  *zap.Logger
}

// New creates a simulator with a fresh, uninitialized session.
func New(req Requester, rec Recorder, src event.Source, cfg Config, logger *zap.Logger) *Simulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ContentDuration <= 0 {
		cfg.ContentDuration = DefaultConfig().ContentDuration
	}
	b := event.NewBuilder(src, event.Options{
		ShardProbability: cfg.ShardProbability,
		ShardCount:       cfg.ShardCount,
	})
	return &Simulator{
		req:     req,
		rec:     rec,
		builder: b,
		cfg:     cfg,
		state: State{
			SessionID:       event.NewSessionID(src, b.Now()),
			ContentDuration: cfg.ContentDuration,
		},
		logger: logger,
	}
}

// State returns a copy of the session state.
func (s *Simulator) State() State {
	return s.state
}

// Builder exposes the event builder, mainly so tests can fix the clock.
func (s *Simulator) Builder() *event.Builder {
	return s.builder
}

// SendInit starts the session. It is skipped when already initialized.
func (s *Simulator) SendInit(ctx context.Context) Outcome {
	if s.state.Initialized {
		return skipped("POST init")
	}
	e := s.base(event.Init).WithSentinels()
	out := s.postEvent(ctx, "POST init", e, "Init failed")
	if out.Success {
		s.state.Initialized = true
	}
	return out
}

// SendMetadata describes the content and device of an initialized session.
func (s *Simulator) SendMetadata(ctx context.Context) Outcome {
	if !s.state.Initialized {
		return skipped("POST metadata")
	}
	e := s.base(event.Metadata).WithSentinels()
	e.Payload = s.builder.Metadata(s.state.SessionID)
	return s.postEvent(ctx, "POST metadata", e, "Metadata failed")
}

// SendHeartbeat advances the playhead by a random step on success.
func (s *Simulator) SendHeartbeat(ctx context.Context) Outcome {
	if !s.state.Initialized {
		return skipped("POST heartbeat")
	}
	out := s.postEvent(ctx, "POST heartbeat", s.base(event.Heartbeat), "Heartbeat failed")
	if out.Success {
		s.state.Playhead += s.builder.HeartbeatStep(s.cfg.HeartbeatMin, s.cfg.HeartbeatMax)
	}
	return out
}

// SendRapidHeartbeat advances the playhead by exactly one on success.
func (s *Simulator) SendRapidHeartbeat(ctx context.Context) Outcome {
	if !s.state.Initialized {
		return skipped("POST rapid_heartbeat")
	}
	out := s.postEvent(ctx, "POST rapid_heartbeat", s.base(event.Heartbeat), "Rapid heartbeat failed")
	if out.Success {
		s.state.Playhead++
	}
	return out
}

// SendPlaybackEvent posts a random playback state change. Seeks move the
// playhead before the event is built, whatever the response.
func (s *Simulator) SendPlaybackEvent(ctx context.Context) Outcome {
	if !s.state.Initialized {
		return skipped("POST playback")
	}
	name := s.builder.PlaybackEvent()
	if event.IsSeek(name) {
		s.state.Playhead = s.builder.SeekTarget(s.state.ContentDuration)
	}
	return s.postEvent(ctx, "POST "+string(name), s.base(name), string(name)+" event failed")
}

// SendLoadingEvent posts loading or loaded.
func (s *Simulator) SendLoadingEvent(ctx context.Context) Outcome {
	if !s.state.Initialized {
		return skipped("POST loading")
	}
	name := s.builder.LoadingEvent()
	return s.postEvent(ctx, "POST "+string(name), s.base(name), string(name)+" event failed")
}

// SendBitrateChanged posts a rendition switch.
func (s *Simulator) SendBitrateChanged(ctx context.Context) Outcome {
	if !s.state.Initialized {
		return skipped("POST bitrate_changed")
	}
	e := s.base(event.BitrateChanged)
	e.Payload = s.builder.Bitrate()
	return s.postEvent(ctx, "POST bitrate_changed", e, "Bitrate changed failed")
}

// SendError posts a playback error.
func (s *Simulator) SendError(ctx context.Context) Outcome {
	if !s.state.Initialized {
		return skipped("POST error")
	}
	e := s.base(event.Error)
	e.Payload = s.builder.ErrorIssue()
	return s.postEvent(ctx, "POST error", e, "Error event failed")
}

// SendWarning posts a playback warning.
func (s *Simulator) SendWarning(ctx context.Context) Outcome {
	if !s.state.Initialized {
		return skipped("POST warning")
	}
	e := s.base(event.Warning)
	e.Payload = s.builder.WarningIssue()
	return s.postEvent(ctx, "POST warning", e, "Warning event failed")
}

// SendStopped ends the session with the configured probability. A
// successful stop resets the session state.
func (s *Simulator) SendStopped(ctx context.Context) Outcome {
	if !s.state.Initialized || !s.builder.Chance(s.cfg.StopProbability) {
		return skipped("POST stopped")
	}
	e := s.base(event.Stopped)
	e.Payload = s.builder.Stopped()
	out := s.postEvent(ctx, "POST stopped", e, "Stopped event failed")
	if out.Success {
		s.state.reset()
	}
	return out
}

// SendOptionsProbe checks the CORS preflight answers 200.
func (s *Simulator) SendOptionsProbe(ctx context.Context) Outcome {
	resp, err := s.req.Options(ctx, EventPath)
	return s.finish(ctx, Outcome{Name: "OPTIONS " + EventPath, Method: http.MethodOptions, Path: EventPath},
		resp, err, expectStatus(http.StatusOK), "OPTIONS failed")
}

// SendInvalidEndpointProbe checks an unknown path answers 404 or 405.
func (s *Simulator) SendInvalidEndpointProbe(ctx context.Context) Outcome {
	path := s.builder.InvalidPath()
	resp, err := s.req.Get(ctx, path, nil)
	return s.finish(ctx, Outcome{Name: "GET " + path, Method: http.MethodGet, Path: path},
		resp, err, expectStatus(http.StatusNotFound, http.StatusMethodNotAllowed),
		"Unexpected response for "+path)
}

func (s *Simulator) base(name event.Name) event.Event {
	e := s.builder.Base(s.state.SessionID, s.state.Playhead, s.state.ContentDuration)
	e.Event = name
	return e
}

func (s *Simulator) postEvent(ctx context.Context, name string, e event.Event, failure string) Outcome {
	resp, err := s.req.Post(ctx, EventPath, e)
	return s.finish(ctx, Outcome{Name: name, Method: http.MethodPost, Path: EventPath},
		resp, err, expectStatus(http.StatusOK), failure)
}

// finish classifies the response, records it and logs failures.
func (s *Simulator) finish(ctx context.Context, out Outcome, resp *client.Response, err error,
	ok func(int) bool, failure string) Outcome {
	if resp != nil {
		out.StatusCode = resp.StatusCode
		out.Latency = resp.Duration
		out.Bytes = int64(len(resp.Body))
	}

	switch {
	case err != nil && ctx.Err() != nil:
		out.Canceled = true
		return out
	case err != nil:
		out.StatusCode = 0
		out.Failure = fmt.Sprintf("%s: %v", failure, err)
	case ok(out.StatusCode):
		out.Success = true
	default:
		out.Failure = fmt.Sprintf("%s: %d", failure, out.StatusCode)
	}

	if !out.Success {
		s.logger.Debug("behavior failed",
			zap.String("session_id", s.state.SessionID),
			zap.String("behavior", out.Name),
			zap.Int("status", out.StatusCode),
			zap.String("failure", out.Failure),
		)
	}

	if s.rec != nil {
		s.rec.Record(metrics.Result{
			Name:         out.Name,
			Method:       out.Method,
			Path:         out.Path,
			StatusCode:   out.StatusCode,
			Latency:      out.Latency,
			Success:      out.Success,
			ResponseSize: out.Bytes,
			Timestamp:    time.Now(),
			Failure:      out.Failure,
		})
	}
	return out
}

func skipped(name string) Outcome {
	return Outcome{Name: name, Skipped: true}
}

func expectStatus(codes ...int) func(int) bool {
	return func(status int) bool {
		for _, c := range codes {
			if status == c {
				return true
			}
		}
		return false
	}
}
