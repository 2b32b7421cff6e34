package output_test

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/tensorflight/chisel/internal/flow"
	"github.com/tensorflight/chisel/internal/metrics"
	"github.com/tensorflight/chisel/internal/output"
	"github.com/tensorflight/chisel/internal/runner"
)

func sampleFlows() []runner.FlowResult {
	return []runner.FlowResult{
		{
			Request: flow.Request{
				ID:      0,
				Domain:  "https://api.example.com",
				Payload: flow.Payload{Address: "1 Main St", APIKey: "k"},
				Offset:  500 * time.Millisecond,
			},
			Trace: &flow.Trace{
				State:   flow.StatePollSuccess,
				Success: true,
				PlanID:  json.RawMessage(`"abc"`),
				Polls: []flow.PollRecord{
					{Wait: time.Second, CumWait: 2 * time.Second, WaitSeconds: 1, CumWaitSeconds: 2},
				},
			},
		},
		{
			Request: flow.Request{ID: 1, Domain: "https://api.example.com"},
			Trace:   &flow.Trace{State: flow.StateSubmitFailed, Failure: "transport: boom"},
		},
	}
}

func TestBuildReportsAndWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	report, err := output.CreateReportFile(path)
	if err != nil {
		t.Fatalf("CreateReportFile: %v", err)
	}
	defer report.Close()

	if err := report.Write(output.BuildReports(sampleFlows())); err != nil {
		t.Fatalf("Write: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	var rows []map[string]any
	if err := json.Unmarshal(raw, &rows); err != nil {
		t.Fatalf("report is not valid JSON: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0]["id"].(float64) != 0 || rows[1]["id"].(float64) != 1 {
		t.Error("rows out of flow-index order")
	}
	if rows[0]["sleep"].(float64) != 0.5 {
		t.Errorf("sleep = %v, want 0.5", rows[0]["sleep"])
	}
	if rows[0]["plan_id"] != "abc" {
		t.Errorf("plan_id = %v", rows[0]["plan_id"])
	}
	if rows[0]["state"] != string(flow.StatePollSuccess) {
		t.Errorf("state = %v", rows[0]["state"])
	}
	if _, ok := rows[0]["get_features"]; !ok {
		t.Error("trace polls missing from report row")
	}
	if rows[1]["failure"] != "transport: boom" {
		t.Errorf("failure = %v", rows[1]["failure"])
	}
}

func TestCreateReportFileConflict(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	first, err := output.CreateReportFile(path)
	if err != nil {
		t.Fatal(err)
	}
	defer first.Close()

	if _, err := output.CreateReportFile(path); err == nil {
		t.Error("second CreateReportFile on the same path should fail")
	}
}

func TestDefaultReportPath(t *testing.T) {
	path := output.DefaultReportPath()
	matched, err := regexp.MatchString(`^chisel-report-[0-9A-HJKMNP-TV-Z]{26}\.json$`, path)
	if err != nil {
		t.Fatal(err)
	}
	if !matched {
		t.Errorf("unexpected report path %q", path)
	}
}

func TestPrintReport(t *testing.T) {
	collector := metrics.NewCollector()
	collector.RecordRequest(metrics.PhaseSubmission, 12*time.Millisecond, nil)
	collector.RecordRequest(metrics.PhasePoll, 7*time.Millisecond, nil)

	res := runner.Result{Total: 2, Succeeded: 1, Duration: time.Second}
	var buf bytes.Buffer
	output.PrintReport(&buf, res, collector.Stats(res.Duration))

	text := buf.String()
	for _, want := range []string{"Flows:             2", "Succeeded:         1", "submission requests: 1", "poll requests: 1"} {
		if !strings.Contains(text, want) {
			t.Errorf("summary missing %q:\n%s", want, text)
		}
	}
}

func TestPrintJSONReport(t *testing.T) {
	res := runner.Result{Total: 3, Succeeded: 3, Duration: 2 * time.Second}
	var buf bytes.Buffer
	if err := output.PrintJSONReport(&buf, res, metrics.NewCollector().Stats(res.Duration), "out.json"); err != nil {
		t.Fatal(err)
	}
	var summary map[string]any
	if err := json.Unmarshal(buf.Bytes(), &summary); err != nil {
		t.Fatalf("summary is not valid JSON: %v", err)
	}
	if summary["total"].(float64) != 3 || summary["failed"].(float64) != 0 {
		t.Errorf("summary = %v", summary)
	}
	if summary["report_file"] != "out.json" {
		t.Errorf("report_file = %v", summary["report_file"])
	}
}
