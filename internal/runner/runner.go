// Package runner launches every scheduled flow concurrently and aggregates
// the per-flow traces once the slowest flow finishes.
package runner

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/tensorflight/chisel/internal/flow"
)

// FlowResult pairs a scheduled flow with its completed trace.
type FlowResult struct {
	Request flow.Request
	Trace   *flow.Trace
}

// Result captures execution summary. Flows are ordered by flow index
// (scheduling order), never by completion order.
type Result struct {
	Total     int
	Succeeded int
	Flows     []FlowResult
	Duration  time.Duration
}

// Outcomes returns the per-flow success booleans in flow-index order.
func (r Result) Outcomes() []bool {
	out := make([]bool, len(r.Flows))
	for i, f := range r.Flows {
		out[i] = f.Trace != nil && f.Trace.Success
	}
	return out
}

// Runner coordinates concurrent flow execution.
type Runner struct {
	opt       Options
	limiter   *rate.Limiter
	completed int64
}

// Completed returns how many flows have reached a terminal state so far.
// Safe to call while Run is in progress.
func (r *Runner) Completed() int64 {
	return atomic.LoadInt64(&r.completed)
}

func New(opt Options) *Runner {
	opt.normalize()
	var limiter *rate.Limiter
	if opt.LaunchRate > 0 {
		limiter = opt.LimiterFactory(opt.LaunchRate)
	}
	return &Runner{opt: opt, limiter: limiter}
}

// Run starts every flow immediately, each suspending on its own offset, and
// blocks until all flows reach a terminal state. Flows are never cancelled
// once their execution has begun; ctx cancellation surfaces only as flow-level
// abort states.
func (r *Runner) Run(ctx context.Context, requests []flow.Request) Result {
	start := time.Now()
	traces := make([]*flow.Trace, len(requests))

	var sem chan struct{}
	if r.opt.MaxInFlight > 0 {
		sem = make(chan struct{}, r.opt.MaxInFlight)
	}

	var wg sync.WaitGroup
	wg.Add(len(requests))
	for i := range requests {
		go func(i int) {
			defer wg.Done()
			// Each goroutine writes only its own slot, so aggregation
			// needs no lock and cannot depend on completion order.
			traces[i] = r.runOne(ctx, requests[i], sem)
			atomic.AddInt64(&r.completed, 1)
		}(i)
	}
	wg.Wait()

	result := Result{
		Total:    len(requests),
		Flows:    make([]FlowResult, len(requests)),
		Duration: time.Since(start),
	}
	for i, req := range requests {
		trace := traces[i]
		if trace == nil {
			trace = &flow.Trace{State: flow.StateSubmitFailed, Failure: "flow never started"}
		}
		result.Flows[i] = FlowResult{Request: req, Trace: trace}
		if trace.Success {
			result.Succeeded++
		}
	}
	return result
}

func (r *Runner) runOne(ctx context.Context, req flow.Request, sem chan struct{}) *flow.Trace {
	if err := waitOffset(ctx, req.Offset); err != nil {
		return &flow.Trace{State: flow.StateSubmitFailed, Failure: "aborted before submission"}
	}

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return &flow.Trace{State: flow.StateSubmitFailed, Failure: "aborted before submission"}
		}
	}

	if sem != nil {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return &flow.Trace{State: flow.StateSubmitFailed, Failure: "aborted before submission"}
		}
		defer func() { <-sem }()
	}

	return r.opt.Executor.Execute(ctx, req)
}

func waitOffset(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
