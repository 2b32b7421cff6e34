package flow

import (
	"encoding/json"
	"time"
)

// State is a flow's position in its lifecycle.
type State string

const (
	StatePending       State = "PENDING"
	StateSubmitting    State = "SUBMITTING"
	StateSubmittedOK   State = "SUBMITTED_OK"
	StateSubmitFailed  State = "SUBMITTED_FAIL"
	StatePolling       State = "POLLING"
	StatePollSuccess   State = "POLL_SUCCESS"
	StatePollExhausted State = "POLL_EXHAUSTED"
	StatePollAborted   State = "POLL_ABORTED"
)

// Terminal reports whether no further transitions can happen from s.
func (s State) Terminal() bool {
	switch s {
	case StateSubmitFailed, StatePollSuccess, StatePollExhausted, StatePollAborted:
		return true
	}
	return false
}

// Payload is the submission request body.
type Payload struct {
	Address string `json:"address"`
	APIKey  string `json:"api_key"`
}

// Request identifies one flow: which address it submits, where, and when.
// Immutable once created.
type Request struct {
	ID      int
	Domain  string
	Payload Payload
	Offset  time.Duration
}

// PhaseRecord captures the timing and response of a single HTTP exchange.
// Status is zero and Body nil when the exchange never produced a (decodable)
// response.
type PhaseRecord struct {
	Start  time.Time       `json:"start"`
	End    time.Time       `json:"end"`
	Status int             `json:"status,omitempty"`
	Body   json.RawMessage `json:"json,omitempty"`
}

// PollRecord is one poll attempt: its planned wait, the total wait budget
// remaining when it fired (its own wait included), and the exchange itself.
type PollRecord struct {
	Wait    time.Duration `json:"-"`
	CumWait time.Duration `json:"-"`

	WaitSeconds    float64 `json:"wait"`
	CumWaitSeconds float64 `json:"cumwait"`

	PhaseRecord
}

// Trace is the full record of one flow's execution. It is mutated only by the
// flow's own runner and is read-only once the flow reaches a terminal state.
type Trace struct {
	State      State           `json:"state"`
	Success    bool            `json:"success"`
	PlanID     json.RawMessage `json:"plan_id,omitempty"`
	Submission PhaseRecord     `json:"request_processing"`
	Polls      []PollRecord    `json:"get_features"`
	Failure    string          `json:"failure,omitempty"`
}
