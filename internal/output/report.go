// Package output writes the per-flow JSON trace report and the console
// summary of a finished run.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"os"
	"sort"
	"time"

	"github.com/gofrs/flock"
	"github.com/oklog/ulid/v2"

	"github.com/tensorflight/chisel/internal/flow"
	"github.com/tensorflight/chisel/internal/metrics"
	"github.com/tensorflight/chisel/internal/runner"
)

// FlowReport is one row of the JSON report document: the flow's identity and
// inputs, plus its full trace promoted to the top level.
type FlowReport struct {
	ID           int          `json:"id"`
	Domain       string       `json:"domain"`
	SleepSeconds float64      `json:"sleep"`
	Payload      flow.Payload `json:"json"`
	*flow.Trace
}

// BuildReports converts the runner's aggregate into report rows, preserving
// flow-index order.
func BuildReports(flows []runner.FlowResult) []FlowReport {
	reports := make([]FlowReport, len(flows))
	for i, f := range flows {
		reports[i] = FlowReport{
			ID:           f.Request.ID,
			Domain:       f.Request.Domain,
			SleepSeconds: f.Request.Offset.Seconds(),
			Payload:      f.Request.Payload,
			Trace:        f.Trace,
		}
	}
	return reports
}

// ReportFile is the durable report target. It is created (and locked) before
// the run starts so an unwritable path fails early, not after minutes of load.
type ReportFile struct {
	path string
	lock *flock.Flock
}

// DefaultReportPath produces a unique, time-sortable report filename.
func DefaultReportPath() string {
	id := ulid.MustNew(ulid.Timestamp(time.Now()), rand.New(rand.NewSource(time.Now().UnixNano())))
	return fmt.Sprintf("chisel-report-%s.json", id)
}

// CreateReportFile pre-creates the report file and takes an advisory lock so
// concurrent chisel runs cannot clobber each other's report.
func CreateReportFile(path string) (*ReportFile, error) {
	if path == "" {
		path = DefaultReportPath()
	}

	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("create report file %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("report file %s is locked by another run", path)
	}

	return &ReportFile{path: path, lock: lock}, nil
}

// Path returns the report file location.
func (r *ReportFile) Path() string {
	return r.path
}

// Write serializes all flow reports as one indented JSON document.
func (r *ReportFile) Write(reports []FlowReport) error {
	file, err := os.Create(r.path)
	if err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(reports); err != nil {
		file.Close()
		return fmt.Errorf("encode report: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// Close releases the advisory lock.
func (r *ReportFile) Close() error {
	return r.lock.Unlock()
}

// PrintReport outputs a human-readable summary of the run.
func PrintReport(w io.Writer, res runner.Result, stats metrics.Stats) {
	fmt.Fprintln(w, "\n--- Run Results ---")
	fmt.Fprintf(w, "Flows:             %d\n", res.Total)
	fmt.Fprintf(w, "Succeeded:         %d\n", res.Succeeded)
	fmt.Fprintf(w, "Failed:            %d\n", res.Total-res.Succeeded)
	fmt.Fprintf(w, "Duration:          %s\n", res.Duration)

	phases := make([]string, 0, len(stats.Phases))
	for phase := range stats.Phases {
		phases = append(phases, phase)
	}
	sort.Strings(phases)
	for _, phase := range phases {
		ps := stats.Phases[phase]
		fmt.Fprintf(w, "\n%s requests: %d (%d failed)\n", phase, ps.Total, ps.Failures)
		fmt.Fprintf(w, "  Min:             %s\n", ps.MinLatency)
		fmt.Fprintf(w, "  Max:             %s\n", ps.MaxLatency)
		fmt.Fprintf(w, "  Mean:            %s\n", ps.MeanLatency)
		fmt.Fprintf(w, "  P50:             %s\n", ps.P50Latency)
		fmt.Fprintf(w, "  P90:             %s\n", ps.P90Latency)
		fmt.Fprintf(w, "  P99:             %s\n", ps.P99Latency)
		if len(ps.Errors) > 0 {
			fmt.Fprintln(w, "  Errors:")
			errTypes := make([]string, 0, len(ps.Errors))
			for errType := range ps.Errors {
				errTypes = append(errTypes, errType)
			}
			sort.Strings(errTypes)
			for _, errType := range errTypes {
				fmt.Fprintf(w, "    %s: %d\n", errType, ps.Errors[errType])
			}
		}
	}
}

// Summary is the machine-readable run summary.
type Summary struct {
	Total      int           `json:"total"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	DurationMs float64       `json:"duration_ms"`
	Stats      metrics.Stats `json:"stats"`
	ReportFile string        `json:"report_file,omitempty"`
}

// PrintJSONReport outputs a JSON-formatted run summary.
func PrintJSONReport(w io.Writer, res runner.Result, stats metrics.Stats, reportPath string) error {
	summary := Summary{
		Total:      res.Total,
		Succeeded:  res.Succeeded,
		Failed:     res.Total - res.Succeeded,
		DurationMs: float64(res.Duration) / float64(time.Millisecond),
		Stats:      stats,
		ReportFile: reportPath,
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}
