package runner

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/tensorflight/chisel/internal/flow"
)

// Executor abstracts running a single flow to a terminal state.
// Implementations must never return a nil trace.
type Executor interface {
	Execute(ctx context.Context, req flow.Request) *flow.Trace
}

// Options configure the Runner.
type Options struct {
	Executor Executor // flow executor (required)

	// MaxInFlight caps concurrently executing flows (0 means unbounded).
	// Flows past the cap still wait out their own offsets; the semaphore
	// gates only the execution that follows.
	MaxInFlight int

	// LaunchRate caps flow launches per second on top of offsets
	// (0 means none).
	LaunchRate int

	LimiterFactory func(rps int) *rate.Limiter // optional injection for tests
}

func (o *Options) normalize() {
	if o.MaxInFlight < 0 {
		o.MaxInFlight = 0
	}
	if o.LaunchRate < 0 {
		o.LaunchRate = 0
	}
	if o.LimiterFactory == nil {
		o.LimiterFactory = func(rps int) *rate.Limiter {
			if rps <= 0 {
				return rate.NewLimiter(rate.Inf, 0)
			}
			return rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}
