package user

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/eventsink/tools/loadgen/internal/selector"
	"github.com/example/eventsink/tools/loadgen/internal/session"
)

// User is one simulated user. Run must be called from a single goroutine;
// the counters may be read concurrently.
type User struct {
	id     string
	class  Class
	sim    *session.Simulator
	src    selector.Source
	logger *zap.Logger

	executed atomic.Int64
	skipped  atomic.Int64
	failed   atomic.Int64
}

// New creates a user of class c driving sim, drawing behaviors and think
// times from src.
func New(c Class, sim *session.Simulator, src selector.Source, logger *zap.Logger) *User {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()
	return &User{
		id:     id,
		class:  c,
		sim:    sim,
		src:    src,
		logger: logger.With(zap.String("user_id", id), zap.String("class", c.Name)),
	}
}

// ClassName returns the name of the user's class.
func (u *User) ClassName() string { return u.class.Name }

// Step picks one behavior by weight and runs it.
func (u *User) Step(ctx context.Context) session.Outcome {
	entry := u.class.Behaviors.Pick(u.src)
	out := entry.Value(u.sim, ctx)

	switch {
	case out.Skipped:
		u.skipped.Add(1)
	case out.Canceled:
	default:
		u.executed.Add(1)
		if !out.Success {
			u.failed.Add(1)
		}
	}
	return out
}

// Run executes behaviors separated by think time until ctx is done.
func (u *User) Run(ctx context.Context) {
	u.logger.Debug("user started", zap.String("session_id", u.sim.State().SessionID))

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for ctx.Err() == nil {
		u.Step(ctx)

		timer.Reset(u.class.ThinkTime.Next(u.src))
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
	}

	u.logger.Debug("user stopped",
		zap.Int64("executed", u.executed.Load()),
		zap.Int64("skipped", u.skipped.Load()),
		zap.Int64("failed", u.failed.Load()),
	)
}

// Stats reports how many behaviors ran, were skipped, and failed.
func (u *User) Stats() (executed, skipped, failed int64) {
	return u.executed.Load(), u.skipped.Load(), u.failed.Load()
}
