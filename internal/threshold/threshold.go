// Package threshold evaluates pass/fail assertions over a finished run, so a
// chisel invocation can gate CI on flow success rate or phase latency.
package threshold

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/tensorflight/chisel/internal/metrics"
)

// Threshold represents a performance assertion that can pass or fail.
type Threshold struct {
	Metric    string  // "success", "submission", or "poll"
	Aggregate string  // "rate", "count", "p50", "p90", "p99", "avg", "min", "max"
	Operator  string  // "<", "<=", ">", ">=", "=="
	Value     float64 // the threshold value to compare against
	Raw       string  // original threshold string for display
}

// Result represents the outcome of evaluating a threshold.
type Result struct {
	Threshold Threshold
	Actual    float64
	Pass      bool
	Message   string
}

// RunStats is everything thresholds can assert over: flow-level counts plus
// per-phase request stats.
type RunStats struct {
	FlowsTotal     int
	FlowsSucceeded int
	Stats          metrics.Stats
}

// Evaluator evaluates thresholds against collected metrics.
type Evaluator struct {
	thresholds []Threshold
}

// NewEvaluator creates a new threshold evaluator.
func NewEvaluator(thresholds []Threshold) *Evaluator {
	return &Evaluator{thresholds: thresholds}
}

// Evaluate checks all thresholds against the provided stats.
func (e *Evaluator) Evaluate(stats RunStats) []Result {
	if len(e.thresholds) == 0 {
		return nil
	}

	results := make([]Result, 0, len(e.thresholds))
	for _, t := range e.thresholds {
		results = append(results, e.evaluateOne(t, stats))
	}
	return results
}

// AllPassed reports whether no evaluated threshold failed.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Pass {
			return false
		}
	}
	return true
}

func (e *Evaluator) evaluateOne(t Threshold, stats RunStats) Result {
	actual, err := extractMetricValue(t, stats)
	if err != nil {
		return Result{
			Threshold: t,
			Pass:      false,
			Message:   fmt.Sprintf("error: %v", err),
		}
	}

	pass := compareValues(actual, t.Operator, t.Value)
	status := "✓"
	if !pass {
		status = "✗"
	}

	return Result{
		Threshold: t,
		Actual:    actual,
		Pass:      pass,
		Message:   fmt.Sprintf("%s %s: %.2f %s %.2f", status, t.Raw, actual, t.Operator, t.Value),
	}
}

// Parse parses a threshold string into a Threshold struct.
// Supported formats:
//   - "success:rate >= 0.9"     (flow success rate as decimal)
//   - "success:count >= 90"     (succeeded flow count)
//   - "submission:p99 < 500"    (submission latency percentile in ms)
//   - "poll:avg < 200"          (poll latency average in ms)
func Parse(s string) (Threshold, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Threshold{}, fmt.Errorf("empty threshold string")
	}

	pattern := regexp.MustCompile(`^([a-z_]+):([a-z0-9]+)\s*([<>=!]+)\s*([0-9.]+)$`)
	matches := pattern.FindStringSubmatch(s)
	if matches == nil {
		return Threshold{}, fmt.Errorf("invalid threshold format: %q (expected metric:aggregate operator value, e.g. 'success:rate >= 0.9')", s)
	}

	metric := matches[1]
	aggregate := matches[2]
	operator := matches[3]

	value, err := strconv.ParseFloat(matches[4], 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("invalid threshold value %q: %v", matches[4], err)
	}

	switch metric {
	case "success", metrics.PhaseSubmission, metrics.PhasePoll:
	default:
		return Threshold{}, fmt.Errorf("unsupported metric: %q (supported: success, submission, poll)", metric)
	}

	switch metric {
	case "success":
		if aggregate != "rate" && aggregate != "count" {
			return Threshold{}, fmt.Errorf("unsupported aggregate %q for success (supported: rate, count)", aggregate)
		}
	default:
		switch aggregate {
		case "p50", "p90", "p99", "avg", "min", "max":
		default:
			return Threshold{}, fmt.Errorf("unsupported aggregate %q for %s (supported: p50, p90, p99, avg, min, max)", aggregate, metric)
		}
	}

	switch operator {
	case "<", "<=", ">", ">=", "==":
	default:
		return Threshold{}, fmt.Errorf("unsupported operator: %q (supported: <, <=, >, >=, ==)", operator)
	}

	return Threshold{
		Metric:    metric,
		Aggregate: aggregate,
		Operator:  operator,
		Value:     value,
		Raw:       s,
	}, nil
}

// ParseMultiple parses multiple threshold strings.
func ParseMultiple(thresholds []string) ([]Threshold, error) {
	if len(thresholds) == 0 {
		return nil, nil
	}

	result := make([]Threshold, 0, len(thresholds))
	var errs []string
	for i, s := range thresholds {
		t, err := Parse(s)
		if err != nil {
			errs = append(errs, fmt.Sprintf("threshold[%d]: %v", i, err))
			continue
		}
		result = append(result, t)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("threshold parsing errors: %s", strings.Join(errs, "; "))
	}
	return result, nil
}

func extractMetricValue(t Threshold, stats RunStats) (float64, error) {
	if t.Metric == "success" {
		switch t.Aggregate {
		case "rate":
			if stats.FlowsTotal == 0 {
				return 0, fmt.Errorf("no flows executed")
			}
			return float64(stats.FlowsSucceeded) / float64(stats.FlowsTotal), nil
		case "count":
			return float64(stats.FlowsSucceeded), nil
		}
	}

	phase, ok := stats.Stats.Phases[t.Metric]
	if !ok {
		return 0, fmt.Errorf("no %s requests recorded", t.Metric)
	}
	switch t.Aggregate {
	case "p50":
		return phase.P50LatencyMs, nil
	case "p90":
		return phase.P90LatencyMs, nil
	case "p99":
		return phase.P99LatencyMs, nil
	case "avg":
		return phase.MeanLatencyMs, nil
	case "min":
		return phase.MinLatencyMs, nil
	case "max":
		return phase.MaxLatencyMs, nil
	}
	return 0, fmt.Errorf("unsupported aggregate %q", t.Aggregate)
}

func compareValues(actual float64, operator string, threshold float64) bool {
	switch operator {
	case "<":
		return actual < threshold
	case "<=":
		return actual <= threshold
	case ">":
		return actual > threshold
	case ">=":
		return actual >= threshold
	case "==":
		return math.Abs(actual-threshold) < 1e-9
	}
	return false
}
