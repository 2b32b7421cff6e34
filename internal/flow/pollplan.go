package flow

import "time"

const (
	pollAttempts = 12
	pollDecay    = 0.75

	// Base wait distribution, in seconds.
	pollBaseMean   = 35.0
	pollBaseStddev = 5.0
)

// pollSchedule expands one base wait into the full decayed plan. Attempt j
// waits base·0.75^j, so the first attempt waits the longest and waits shrink
// geometrically from there. cumWaits[j] is the total budget remaining when
// attempt j fires: its own wait plus every wait after it.
func pollSchedule(baseSeconds float64) (waits, cumWaits []time.Duration) {
	if baseSeconds < 0 {
		baseSeconds = 0
	}

	waits = make([]time.Duration, pollAttempts)
	w := baseSeconds
	for j := 0; j < pollAttempts; j++ {
		waits[j] = time.Duration(w * float64(time.Second))
		w *= pollDecay
	}

	cumWaits = make([]time.Duration, pollAttempts)
	var total time.Duration
	for j := pollAttempts - 1; j >= 0; j-- {
		total += waits[j]
		cumWaits[j] = total
	}
	return waits, cumWaits
}
