package flow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tensorflight/chisel/internal/httpclient"
	"github.com/tensorflight/chisel/internal/metrics"
)

// fastNormal makes poll waits tiny so the full 12-attempt budget runs in
// milliseconds.
func fastNormal(mu, sigma float64) float64 { return 0.004 }

func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	return NewRunner(Options{
		Client: httpclient.NewClient(5 * time.Second),
		Normal: fastNormal,
	})
}

func testRequest(domain string) Request {
	return Request{
		ID:      0,
		Domain:  domain,
		Payload: Payload{Address: "1 Main St", APIKey: "key-1"},
	}
}

func TestFlowSuccessOnFirstPoll(t *testing.T) {
	var pollBodies []map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/request_processing_location":
			w.Write([]byte(`{"status":"SUCCESS","plan_id":"abc"}`))
		case "/api/get_features":
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			pollBodies = append(pollBodies, body)
			w.Write([]byte(`{"features":[1,2,3]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	trace := newTestRunner(t).Execute(context.Background(), testRequest(server.URL))

	if !trace.Success {
		t.Error("flow should succeed")
	}
	if trace.State != StatePollSuccess {
		t.Errorf("state = %s, want %s", trace.State, StatePollSuccess)
	}
	if len(trace.Polls) != 1 {
		t.Fatalf("got %d poll entries, want 1", len(trace.Polls))
	}
	if trace.Polls[0].Status != http.StatusOK {
		t.Errorf("poll status = %d", trace.Polls[0].Status)
	}
	if string(trace.PlanID) != `"abc"` {
		t.Errorf("plan id = %s", trace.PlanID)
	}
	if len(pollBodies) != 1 || pollBodies[0]["plan_id"] != "abc" || pollBodies[0]["api_key"] != "key-1" {
		t.Errorf("poll request body = %v", pollBodies)
	}
	if trace.Submission.End.Before(trace.Submission.Start) {
		t.Error("submission timestamps not monotonic")
	}
	if trace.Polls[0].Start.Before(trace.Submission.End) {
		t.Error("first poll started before submission finished")
	}
}

func TestFlowSubmissionRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"FAILURE"}`))
	}))
	defer server.Close()

	trace := newTestRunner(t).Execute(context.Background(), testRequest(server.URL))

	if trace.Success {
		t.Error("flow should fail")
	}
	if trace.State != StateSubmitFailed {
		t.Errorf("state = %s, want %s", trace.State, StateSubmitFailed)
	}
	if len(trace.Polls) != 0 {
		t.Errorf("got %d poll entries, want 0", len(trace.Polls))
	}
	if trace.Submission.Status != http.StatusOK {
		t.Errorf("submission status = %d", trace.Submission.Status)
	}
}

func TestFlowSubmissionMissingPlanID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"SUCCESS"}`))
	}))
	defer server.Close()

	trace := newTestRunner(t).Execute(context.Background(), testRequest(server.URL))

	if trace.State != StateSubmitFailed {
		t.Errorf("state = %s, want %s", trace.State, StateSubmitFailed)
	}
	if trace.PlanID != nil {
		t.Errorf("plan id = %s, want none", trace.PlanID)
	}
}

func TestFlowSubmissionTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // refuse all connections

	collector := metrics.NewCollector()
	r := NewRunner(Options{
		Client:    httpclient.NewClient(time.Second),
		Collector: collector,
		Normal:    fastNormal,
	})
	trace := r.Execute(context.Background(), testRequest(server.URL))

	if trace.Success {
		t.Error("flow should fail")
	}
	if trace.State != StateSubmitFailed {
		t.Errorf("state = %s, want %s", trace.State, StateSubmitFailed)
	}
	if trace.PlanID != nil {
		t.Errorf("plan id = %s, want none", trace.PlanID)
	}
	if trace.Submission.Status != 0 {
		t.Errorf("submission status = %d, want unset", trace.Submission.Status)
	}
	stats := collector.Stats(time.Second)
	if stats.Phases[metrics.PhaseSubmission].Failures != 1 {
		t.Errorf("submission failures = %d, want 1", stats.Phases[metrics.PhaseSubmission].Failures)
	}
}

func TestFlowSubmissionBodyNotJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>gateway error</html>"))
	}))
	defer server.Close()

	trace := newTestRunner(t).Execute(context.Background(), testRequest(server.URL))

	if trace.State != StateSubmitFailed {
		t.Errorf("state = %s, want %s", trace.State, StateSubmitFailed)
	}
	if trace.Submission.Body != nil {
		t.Error("invalid body should not be recorded as JSON")
	}
}

func TestFlowPollExhaustion(t *testing.T) {
	var polls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/request_processing_location":
			w.Write([]byte(`{"status":"SUCCESS","plan_id":"p1"}`))
		case "/api/get_features":
			atomic.AddInt32(&polls, 1)
			w.WriteHeader(http.StatusAccepted)
			w.Write([]byte(`{"status":"PROCESSING"}`))
		}
	}))
	defer server.Close()

	trace := newTestRunner(t).Execute(context.Background(), testRequest(server.URL))

	if trace.Success {
		t.Error("flow should fail")
	}
	if trace.State != StatePollExhausted {
		t.Errorf("state = %s, want %s", trace.State, StatePollExhausted)
	}
	if len(trace.Polls) != 12 {
		t.Fatalf("got %d poll entries, want 12", len(trace.Polls))
	}
	if got := atomic.LoadInt32(&polls); got != 12 {
		t.Errorf("server saw %d polls, want 12", got)
	}
	for j := 1; j < len(trace.Polls); j++ {
		if trace.Polls[j].Wait >= trace.Polls[j-1].Wait {
			t.Errorf("poll %d wait %s not smaller than %s", j, trace.Polls[j].Wait, trace.Polls[j-1].Wait)
		}
		if trace.Polls[j].Start.Before(trace.Polls[j-1].End) {
			t.Errorf("poll %d started before poll %d ended", j, j-1)
		}
	}
	for j, rec := range trace.Polls {
		if rec.Status != http.StatusAccepted {
			t.Errorf("poll %d status = %d", j, rec.Status)
		}
	}
}

func TestFlowPollTolerates4xxAndAnomalies(t *testing.T) {
	// 400, 403, and 500 must not stop polling; only 200 does.
	statuses := []int{400, 403, 500, 200}
	var call int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/request_processing_location":
			w.Write([]byte(`{"status":"SUCCESS","plan_id":"p1"}`))
		case "/api/get_features":
			idx := atomic.AddInt32(&call, 1) - 1
			w.WriteHeader(statuses[idx])
			w.Write([]byte(`{}`))
		}
	}))
	defer server.Close()

	trace := newTestRunner(t).Execute(context.Background(), testRequest(server.URL))

	if !trace.Success {
		t.Error("flow should succeed on the fourth poll")
	}
	if len(trace.Polls) != 4 {
		t.Fatalf("got %d poll entries, want 4", len(trace.Polls))
	}
	for j, want := range statuses {
		if trace.Polls[j].Status != want {
			t.Errorf("poll %d status = %d, want %d", j, trace.Polls[j].Status, want)
		}
	}
}

func TestFlowPollDecodeFailureTolerated(t *testing.T) {
	var call int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/request_processing_location":
			w.Write([]byte(`{"status":"SUCCESS","plan_id":"p1"}`))
		case "/api/get_features":
			if atomic.AddInt32(&call, 1) == 1 {
				w.WriteHeader(http.StatusAccepted)
				w.Write([]byte("not json"))
				return
			}
			w.Write([]byte(`{"done":true}`))
		}
	}))
	defer server.Close()

	trace := newTestRunner(t).Execute(context.Background(), testRequest(server.URL))

	if !trace.Success {
		t.Error("flow should succeed on the second poll")
	}
	if len(trace.Polls) != 2 {
		t.Fatalf("got %d poll entries, want 2", len(trace.Polls))
	}
	if trace.Polls[0].Body != nil {
		t.Error("undecodable poll body should not be recorded")
	}
	if trace.Polls[0].Status != http.StatusAccepted {
		t.Errorf("poll 0 status = %d, want 202 even when body is junk", trace.Polls[0].Status)
	}
}

func TestFlowPollAbortedByCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"SUCCESS","plan_id":"p1"}`))
	}))
	defer server.Close()

	r := NewRunner(Options{
		Client: httpclient.NewClient(time.Second),
		Normal: func(mu, sigma float64) float64 { return 30 }, // 30s first wait
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	trace := r.Execute(ctx, testRequest(server.URL))

	if trace.Success {
		t.Error("aborted flow should not succeed")
	}
	if trace.State != StatePollAborted {
		t.Errorf("state = %s, want %s", trace.State, StatePollAborted)
	}
	if len(trace.Polls) != 0 {
		t.Errorf("got %d poll entries, want 0", len(trace.Polls))
	}
}

func TestFlowForwardsNumericPlanID(t *testing.T) {
	var gotPlanID string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/request_processing_location":
			w.Write([]byte(`{"status":"SUCCESS","plan_id":12345}`))
		case "/api/get_features":
			var raw map[string]json.RawMessage
			json.NewDecoder(r.Body).Decode(&raw)
			gotPlanID = string(raw["plan_id"])
			w.Write([]byte(`{}`))
		}
	}))
	defer server.Close()

	trace := newTestRunner(t).Execute(context.Background(), testRequest(server.URL))

	if !trace.Success {
		t.Fatal("flow should succeed")
	}
	if gotPlanID != "12345" {
		t.Errorf("plan_id sent as %s, want bare number 12345", gotPlanID)
	}
}
