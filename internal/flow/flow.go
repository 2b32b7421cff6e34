// Package flow executes the two-phase lifecycle of a single request: submit
// the address for processing, then poll for features with decaying backoff
// until completion or budget exhaustion. Every failure path resolves to a
// terminal state on the trace; Execute never reports an error upward.
package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tensorflight/chisel/internal/httpclient"
	"github.com/tensorflight/chisel/internal/metrics"
	"github.com/tensorflight/chisel/internal/tracing"
)

const (
	submitPath    = "/api/request_processing_location"
	pollPath      = "/api/get_features"
	statusSuccess = "SUCCESS"
)

// Options configure a flow Runner.
type Options struct {
	Client    *http.Client       // shared across all flows (required)
	Logger    hclog.Logger       // root logger; flows derive named sub-loggers
	Collector *metrics.Collector // optional latency/outcome recording
	Tracing   *tracing.Provider  // optional span emission
	Rand      *rand.Rand         // seeded source for the per-flow base wait
	Normal    func(mu, sigma float64) float64 // sampler override, for tests
}

// Runner executes flows against a shared HTTP client. Safe for concurrent
// use by any number of flows.
type Runner struct {
	client    *http.Client
	logger    hclog.Logger
	collector *metrics.Collector
	tracing   *tracing.Provider
	normal    func(mu, sigma float64) float64
}

// lockedNormal guards a rand.Rand shared by concurrently executing flows.
type lockedNormal struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func (l *lockedNormal) draw(mu, sigma float64) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rnd.NormFloat64()*sigma + mu
}

func NewRunner(opt Options) *Runner {
	logger := opt.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	normal := opt.Normal
	if normal == nil {
		rnd := opt.Rand
		if rnd == nil {
			rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
		}
		normal = (&lockedNormal{rnd: rnd}).draw
	}
	return &Runner{
		client:    opt.Client,
		logger:    logger,
		collector: opt.Collector,
		tracing:   opt.Tracing,
		normal:    normal,
	}
}

// pollBody is the poll request payload. The plan identifier is forwarded
// exactly as the submission response produced it.
type pollBody struct {
	PlanID json.RawMessage `json:"plan_id"`
	APIKey string          `json:"api_key"`
}

// Execute runs one flow to a terminal state and returns its trace. The trace
// is owned exclusively by this call until it returns, after which it is
// read-only.
func (r *Runner) Execute(ctx context.Context, req Request) *Trace {
	logger := r.logger.Named(fmt.Sprintf("flow-%05d", req.ID))
	trace := &Trace{State: StatePending}

	if !r.submit(ctx, req, trace, logger) {
		return trace
	}
	r.poll(ctx, req, trace, logger)
	return trace
}

// submit performs phase 1 and reports whether the flow may proceed to
// polling. The submission record is fully populated before it returns.
func (r *Runner) submit(ctx context.Context, req Request, trace *Trace, logger hclog.Logger) bool {
	trace.State = StateSubmitting
	logger.Info("requesting processing", "address", req.Payload.Address)

	sub := &trace.Submission
	sub.Start = time.Now()

	resp, err := r.post(ctx, req.Domain+submitPath, req.Payload, metrics.PhaseSubmission)
	if err != nil {
		sub.End = time.Now()
		logger.Warn("request failed, aborting", "error", err)
		r.fail(trace, sub.End.Sub(sub.Start), &TransportError{Err: err})
		return false
	}

	sub.Status = resp.Status
	if resp.Status != http.StatusOK && resp.Status != http.StatusBadRequest && resp.Status != http.StatusForbidden {
		logger.Error("unexpected status code from request_processing_location", "status", resp.Status)
	}

	if !gjson.ValidBytes(resp.Body) {
		sub.End = time.Now()
		logger.Warn("request failed, aborting", "error", "response body is not valid JSON")
		r.fail(trace, sub.End.Sub(sub.Start), &DecodeError{Err: fmt.Errorf("invalid JSON in submission response")})
		return false
	}
	sub.Body = json.RawMessage(resp.Body)

	status := gjson.GetBytes(resp.Body, "status")
	if status.String() != statusSuccess {
		sub.End = time.Now()
		logger.Info("did not receive success", "status", status.String())
		r.fail(trace, sub.End.Sub(sub.Start), &ProtocolError{Reason: "submission status is not " + statusSuccess})
		return false
	}

	planID := gjson.GetBytes(resp.Body, "plan_id")
	if !planID.Exists() || planID.Raw == "" {
		sub.End = time.Now()
		logger.Warn("request failed, aborting", "error", "plan_id missing from submission response")
		r.fail(trace, sub.End.Sub(sub.Start), &ProtocolError{Reason: "plan_id missing from submission response"})
		return false
	}

	sub.End = time.Now()
	trace.PlanID = json.RawMessage(planID.Raw)
	trace.State = StateSubmittedOK
	r.record(metrics.PhaseSubmission, sub.End.Sub(sub.Start), nil)
	logger.Debug("submission accepted", "plan_id", planID.String())
	return true
}

// poll performs phase 2: up to 12 attempts with one normally-drawn base wait
// decayed by 0.75 per attempt. Each attempt appends exactly one record to the
// trace, whatever its outcome.
func (r *Runner) poll(ctx context.Context, req Request, trace *Trace, logger hclog.Logger) {
	trace.State = StatePolling
	logger.Info("moving on to getting features")

	base := r.normal(pollBaseMean, pollBaseStddev)
	waits, cumWaits := pollSchedule(base)

	payload := pollBody{PlanID: trace.PlanID, APIKey: req.Payload.APIKey}

	for j := 0; j < len(waits); j++ {
		if err := sleep(ctx, waits[j]); err != nil {
			trace.State = StatePollAborted
			trace.Failure = "aborted while waiting to poll"
			logger.Warn("aborted while waiting to poll", "error", err)
			return
		}
		logger.Info("slept", "wait", waits[j], "budget_remaining", cumWaits[j])

		rec := PollRecord{
			Wait:           waits[j],
			CumWait:        cumWaits[j],
			WaitSeconds:    waits[j].Seconds(),
			CumWaitSeconds: cumWaits[j].Seconds(),
		}
		rec.Start = time.Now()

		resp, err := r.post(ctx, req.Domain+pollPath, payload, metrics.PhasePoll)
		rec.End = time.Now()

		if err != nil {
			logger.Info("request failed", "error", err)
			trace.Polls = append(trace.Polls, rec)
			r.record(metrics.PhasePoll, rec.End.Sub(rec.Start), &TransportError{Err: err})
			continue
		}

		rec.Status = resp.Status
		if gjson.ValidBytes(resp.Body) {
			rec.Body = json.RawMessage(resp.Body)
			r.record(metrics.PhasePoll, rec.End.Sub(rec.Start), nil)
		} else {
			logger.Info("poll response body is not valid JSON")
			r.record(metrics.PhasePoll, rec.End.Sub(rec.Start), &DecodeError{Err: fmt.Errorf("invalid JSON in poll response")})
		}
		trace.Polls = append(trace.Polls, rec)

		if resp.Status == http.StatusOK {
			trace.State = StatePollSuccess
			trace.Success = true
			logger.Info("got results")
			return
		}
		switch resp.Status {
		case http.StatusAccepted, http.StatusBadRequest, http.StatusForbidden:
		default:
			logger.Error("unexpected status code from get_features", "status", resp.Status)
		}
	}

	trace.State = StatePollExhausted
	trace.Failure = ErrExhausted.Error()
	logger.Info("poll budget exhausted without results")
}

// post issues one traced JSON POST.
func (r *Runner) post(ctx context.Context, url string, payload any, phase string) (*httpclient.Response, error) {
	if r.tracing == nil {
		return httpclient.PostJSON(ctx, r.client, url, payload, nil)
	}

	ctx, span := tracing.StartRequestSpan(ctx, r.tracing.Tracer(), phase, url)
	var headers http.Header
	if r.tracing.ShouldPropagate() {
		headers = http.Header{}
		tracing.InjectHTTPHeaders(ctx, headers)
	}

	resp, err := httpclient.PostJSON(ctx, r.client, url, payload, headers)
	if err != nil {
		tracing.EndSpan(span, err)
		return nil, err
	}
	tracing.EndSpan(span, nil, attribute.Int("http.response.status_code", resp.Status))
	return resp, nil
}

func (r *Runner) record(phase string, latency time.Duration, err error) {
	if r.collector != nil {
		r.collector.RecordRequest(phase, latency, err)
	}
}

func (r *Runner) fail(trace *Trace, latency time.Duration, cause error) {
	trace.State = StateSubmitFailed
	trace.Failure = cause.Error()
	r.record(metrics.PhaseSubmission, latency, cause)
}

// sleep suspends for d without blocking other flows, honoring cancellation.
func sleep(ctx context.Context, d time.Duration) error {
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
