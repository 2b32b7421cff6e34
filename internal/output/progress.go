package output

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

// ProgressReporter periodically prints how many flows have finished.
type ProgressReporter struct {
	snapshot func() int64
	total    int
	ticker   *time.Ticker
	done     chan struct{}
	finished chan struct{}
	writer   io.Writer
	active   int32
	start    time.Time
}

// NewProgressReporter creates a progress reporter that polls snapshot at the
// given interval.
func NewProgressReporter(snapshot func() int64, total int, interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	return &ProgressReporter{
		snapshot: snapshot,
		total:    total,
		ticker:   time.NewTicker(interval),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
		writer:   writer,
		start:    time.Now(),
	}
}

// Start begins displaying progress updates in a background goroutine.
func (p *ProgressReporter) Start() {
	if !atomic.CompareAndSwapInt32(&p.active, 0, 1) {
		return // already running
	}
	go p.run()
}

// Stop halts progress updates.
func (p *ProgressReporter) Stop() {
	if atomic.CompareAndSwapInt32(&p.active, 1, 0) {
		close(p.done)
		p.ticker.Stop()
		<-p.finished
	}
}

func (p *ProgressReporter) run() {
	defer close(p.finished)
	for {
		select {
		case <-p.ticker.C:
			done := p.snapshot()
			elapsed := time.Since(p.start).Round(time.Second)
			fmt.Fprintf(p.writer, "[%s] %d/%d flows done\n", elapsed, done, p.total)
		case <-p.done:
			return
		}
	}
}
