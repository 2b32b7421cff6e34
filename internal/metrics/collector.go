// Package metrics records per-request latencies and outcomes, bucketed by
// protocol phase (submission or poll).
package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Phase labels for recorded requests.
const (
	PhaseSubmission = "submission"
	PhasePoll       = "poll"
)

// Collector records per-request metrics in a thread-safe manner.
type Collector struct {
	mu     sync.Mutex
	phases map[string]*phaseState
}

type phaseState struct {
	hist         *hdrhistogram.Histogram
	successes    int64
	failures     int64
	minLatency   time.Duration
	maxLatency   time.Duration
	sumLatency   time.Duration
	errorsByType map[string]int64
}

// PhaseStats is the aggregated view of one phase.
type PhaseStats struct {
	Total     int64 `json:"total"`
	Successes int64 `json:"successes"`
	Failures  int64 `json:"failures"`

	MinLatency  time.Duration `json:"-"`
	MaxLatency  time.Duration `json:"-"`
	MeanLatency time.Duration `json:"-"`
	P50Latency  time.Duration `json:"-"`
	P90Latency  time.Duration `json:"-"`
	P99Latency  time.Duration `json:"-"`

	// JSON-friendly millisecond fields.
	MinLatencyMs  float64        `json:"min_latency_ms"`
	MaxLatencyMs  float64        `json:"max_latency_ms"`
	MeanLatencyMs float64        `json:"mean_latency_ms"`
	P50LatencyMs  float64        `json:"p50_latency_ms"`
	P90LatencyMs  float64        `json:"p90_latency_ms"`
	P99LatencyMs  float64        `json:"p99_latency_ms"`
	Errors        map[string]int `json:"errors,omitempty"`
}

// Stats represents aggregated metrics across all phases.
type Stats struct {
	Phases     map[string]PhaseStats `json:"phases"`
	Duration   time.Duration         `json:"-"`
	DurationMs float64               `json:"duration_ms"`
}

func NewCollector() *Collector {
	return &Collector{
		phases: make(map[string]*phaseState),
	}
}

func newPhaseState() *phaseState {
	// Track latencies from 1µs up to 60s with 3 significant figures.
	return &phaseState{
		hist:         hdrhistogram.New(1, 60_000_000, 3),
		errorsByType: make(map[string]int64),
	}
}

// RecordRequest records a single request's latency and error state under the
// given phase label.
func (c *Collector) RecordRequest(phase string, latency time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.phases[phase]
	if !ok {
		state = newPhaseState()
		c.phases[phase] = state
	}

	if latency > 0 {
		us := latency.Microseconds()
		if us < state.hist.LowestTrackableValue() {
			us = state.hist.LowestTrackableValue()
		}
		if us > state.hist.HighestTrackableValue() {
			us = state.hist.HighestTrackableValue()
		}
		_ = state.hist.RecordValue(us)
	}
	state.sumLatency += latency

	if state.minLatency == 0 || latency < state.minLatency {
		state.minLatency = latency
	}
	if latency > state.maxLatency {
		state.maxLatency = latency
	}

	if err == nil {
		state.successes++
	} else {
		state.failures++
		errorType := fmt.Sprintf("%T", err)
		if len(errorType) > 30 {
			errorType = errorType[len(errorType)-30:]
		}
		state.errorsByType[errorType]++
	}
}

// Total returns the number of requests recorded under the given phase.
func (c *Collector) Total(phase string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.phases[phase]
	if !ok {
		return 0
	}
	return state.successes + state.failures
}

// Stats computes and returns current aggregated statistics.
func (c *Collector) Stats(elapsed time.Duration) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		Phases:     make(map[string]PhaseStats, len(c.phases)),
		Duration:   elapsed,
		DurationMs: float64(elapsed) / float64(time.Millisecond),
	}

	for phase, state := range c.phases {
		ps := PhaseStats{
			Total:      state.successes + state.failures,
			Successes:  state.successes,
			Failures:   state.failures,
			MinLatency: state.minLatency,
			MaxLatency: state.maxLatency,
		}

		if ps.Total > 0 {
			ps.MeanLatency = time.Duration(int64(state.sumLatency) / ps.Total)
		}
		if state.hist.TotalCount() > 0 {
			ps.P50Latency = time.Duration(state.hist.ValueAtQuantile(50)) * time.Microsecond
			ps.P90Latency = time.Duration(state.hist.ValueAtQuantile(90)) * time.Microsecond
			ps.P99Latency = time.Duration(state.hist.ValueAtQuantile(99)) * time.Microsecond
		}

		ps.MinLatencyMs = float64(ps.MinLatency) / float64(time.Millisecond)
		ps.MaxLatencyMs = float64(ps.MaxLatency) / float64(time.Millisecond)
		ps.MeanLatencyMs = float64(ps.MeanLatency) / float64(time.Millisecond)
		ps.P50LatencyMs = float64(ps.P50Latency) / float64(time.Millisecond)
		ps.P90LatencyMs = float64(ps.P90Latency) / float64(time.Millisecond)
		ps.P99LatencyMs = float64(ps.P99Latency) / float64(time.Millisecond)

		if len(state.errorsByType) > 0 {
			ps.Errors = make(map[string]int, len(state.errorsByType))
			for errType, count := range state.errorsByType {
				ps.Errors[errType] = int(count)
			}
		}

		stats.Phases[phase] = ps
	}

	return stats
}
