// Package schedule computes the start-time offset for each flow in a run.
package schedule

import (
	"math"
	"math/rand"
	"time"
)

// Entry is one scheduled flow: its identity, target address, and the delay
// before its submission fires.
type Entry struct {
	Index   int
	Address string
	Offset  time.Duration
}

// Options configure offset planning.
type Options struct {
	// Stagger is the base delay in seconds between successive flow starts.
	Stagger float64
	// Deviation, when > 0, makes each increment a draw from
	// Normal(Stagger, Deviation), clamped at zero.
	Deviation float64
	// Shuffle permutes addresses before offsets are assigned.
	Shuffle bool
	// Limit keeps only the first Limit addresses post-shuffle (0 means all).
	Limit int
	// Rand is the seeded random source. Required when Shuffle is set or
	// Deviation > 0 and no Normal sampler is injected.
	Rand *rand.Rand
	// Normal overrides the normal-distribution sampler, for tests.
	Normal func(mu, sigma float64) float64
}

func (o *Options) normalize() {
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if o.Normal == nil {
		rnd := o.Rand
		o.Normal = func(mu, sigma float64) float64 {
			return rnd.NormFloat64()*sigma + mu
		}
	}
}

// Plan orders, truncates, and assigns start offsets to the given addresses.
// Offsets are non-decreasing and entry indexes follow the post-shuffle order,
// so entry 0 always starts first or simultaneously.
func Plan(addresses []string, opt Options) []Entry {
	opt.normalize()

	kept := make([]string, len(addresses))
	copy(kept, addresses)

	if opt.Shuffle {
		opt.Rand.Shuffle(len(kept), func(i, j int) {
			kept[i], kept[j] = kept[j], kept[i]
		})
	}

	if opt.Limit > 0 && opt.Limit < len(kept) {
		kept = kept[:opt.Limit]
	}

	entries := make([]Entry, len(kept))
	var offset float64 // seconds
	for i, addr := range kept {
		if i > 0 {
			switch {
			case opt.Deviation > 0:
				offset += math.Max(0, opt.Normal(opt.Stagger, opt.Deviation))
			case opt.Stagger > 0:
				offset += opt.Stagger
			}
		}
		entries[i] = Entry{
			Index:   i,
			Address: addr,
			Offset:  time.Duration(offset * float64(time.Second)),
		}
	}
	return entries
}
