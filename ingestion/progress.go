package ingestion

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// ProgressTracker reports how many accepted documents have been through the
// embed-and-index step. Documents in failed batches count as done and are
// reported separately.
type ProgressTracker struct {
	writer         io.Writer
	total          int
	done           int
	failed         int
	reportInterval int
	lastReported   int
	startTime      time.Time
	started        bool
	mu             sync.Mutex
}

// NewProgressTracker creates a new progress tracker.
// writer: where to write progress output (typically os.Stderr)
// total: number of documents the run will submit
// reportInterval: report progress every N documents
func NewProgressTracker(writer io.Writer, total, reportInterval int) *ProgressTracker {
	if reportInterval < 1 {
		reportInterval = 1
	}
	return &ProgressTracker{
		writer:         writer,
		total:          total,
		reportInterval: reportInterval,
	}
}

func (p *ProgressTracker) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.startTime = time.Now()
	p.started = true
	p.done = 0
	p.failed = 0
	p.lastReported = 0
}

// Succeeded records n documents written to the index.
func (p *ProgressTracker) Succeeded(n int) {
	p.advance(n, false)
}

// Failed records n documents whose batch gave up.
func (p *ProgressTracker) Failed(n int) {
	p.advance(n, true)
}

func (p *ProgressTracker) advance(n int, failed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return
	}

	p.done = min(p.done+n, p.total)
	if failed {
		p.failed = min(p.failed+n, p.total)
	}

	if p.done-p.lastReported >= p.reportInterval {
		p.report()
		p.lastReported = p.done
	}
}

// Finish prints the final line. It does not force the count to total, so an
// interrupted run reports where it stopped.
func (p *ProgressTracker) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return
	}

	p.report()
	fmt.Fprintln(p.writer)
}

func (p *ProgressTracker) Elapsed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return 0
	}
	return time.Since(p.startTime)
}

// report prints the current progress. Must be called with lock held.
func (p *ProgressTracker) report() {
	elapsed := time.Since(p.startTime).Seconds()
	rate := 0.0
	if elapsed > 0 {
		rate = float64(p.done-p.failed) / elapsed
	}

	percentage := 0.0
	if p.total > 0 {
		percentage = float64(p.done) / float64(p.total) * 100.0
	}

	fmt.Fprintf(p.writer, "\rIndexed: %d/%d (%.1f%%), %d failed - %.1f docs/s",
		p.done, p.total, percentage, p.failed, rate)
}
