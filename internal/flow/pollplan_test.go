package flow

import (
	"math"
	"testing"
	"time"
)

func TestPollScheduleShape(t *testing.T) {
	waits, cumWaits := pollSchedule(35)

	if len(waits) != 12 || len(cumWaits) != 12 {
		t.Fatalf("got %d waits and %d cumwaits, want 12 each", len(waits), len(cumWaits))
	}
	if waits[0] != 35*time.Second {
		t.Errorf("first wait = %s, want 35s", waits[0])
	}

	for j := 1; j < len(waits); j++ {
		if waits[j] >= waits[j-1] {
			t.Errorf("wait %d = %s not smaller than %s", j, waits[j], waits[j-1])
		}
		ratio := float64(waits[j]) / float64(waits[j-1])
		if math.Abs(ratio-0.75) > 1e-6 {
			t.Errorf("wait %d decay ratio = %g, want 0.75", j, ratio)
		}
	}
}

func TestPollScheduleCumulativeWaits(t *testing.T) {
	waits, cumWaits := pollSchedule(10)

	// Each attempt's cumulative wait is its own wait plus everything after it.
	for j := 0; j < len(waits)-1; j++ {
		want := waits[j] + cumWaits[j+1]
		if diff := cumWaits[j] - want; diff < -time.Microsecond || diff > time.Microsecond {
			t.Errorf("cumwait %d = %s, want %s", j, cumWaits[j], want)
		}
	}
	last := len(waits) - 1
	if cumWaits[last] != waits[last] {
		t.Errorf("last cumwait = %s, want its own wait %s", cumWaits[last], waits[last])
	}

	var total time.Duration
	for _, w := range waits {
		total += w
	}
	if cumWaits[0] != total {
		t.Errorf("first cumwait = %s, want full budget %s", cumWaits[0], total)
	}
}

func TestPollScheduleNegativeBaseClamped(t *testing.T) {
	waits, _ := pollSchedule(-3)
	for j, w := range waits {
		if w != 0 {
			t.Errorf("wait %d = %s, want 0 for negative base", j, w)
		}
	}
}
