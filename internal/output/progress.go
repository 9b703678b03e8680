package output

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Progress tracks and displays probing progress on stderr.
type Progress struct {
	total     int
	processed atomic.Int64
	persisted atomic.Int64
	dropped   atomic.Int64
	start     time.Time
	done      chan struct{}
	stopOnce  sync.Once
	stopped   chan struct{}
	quiet     bool
	w         io.Writer
}

// NewProgress creates a progress tracker. Call Start() to begin display updates.
func NewProgress(total int, quiet bool) *Progress {
	return &Progress{
		total:   total,
		start:   time.Now(),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		quiet:   quiet,
		w:       os.Stderr,
	}
}

// Start begins periodically printing progress to stderr.
func (p *Progress) Start() {
	if p.quiet {
		close(p.stopped)
		return
	}
	go func() {
		defer close(p.stopped)
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.print()
			case <-p.done:
				p.print()
				fmt.Fprint(p.w, "\n")
				return
			}
		}
	}()
}

// Persisted records a candidate that produced an outcome.
func (p *Progress) Persisted() {
	p.processed.Add(1)
	p.persisted.Add(1)
}

// Dropped records a candidate that failed.
func (p *Progress) Dropped() {
	p.processed.Add(1)
	p.dropped.Add(1)
}

// Counts returns processed, persisted and dropped totals.
func (p *Progress) Counts() (processed, persisted, dropped int64) {
	return p.processed.Load(), p.persisted.Load(), p.dropped.Load()
}

// Stop ends the progress display and waits for the final line.
func (p *Progress) Stop() {
	p.stopOnce.Do(func() { close(p.done) })
	<-p.stopped
}

func (p *Progress) print() {
	processed := p.processed.Load()
	elapsed := time.Since(p.start).Seconds()
	rate := float64(0)
	if elapsed > 0 {
		rate = float64(processed) / elapsed
	}

	pct := float64(0)
	if p.total > 0 {
		pct = float64(processed) / float64(p.total) * 100
	}

	eta := ""
	if rate > 0 && processed < int64(p.total) {
		remaining := float64(int64(p.total)-processed) / rate
		eta = fmt.Sprintf("ETA: %s", time.Duration(remaining*float64(time.Second)).Round(time.Second))
	}

	fmt.Fprintf(p.w, "\r\033[K[%3.0f%%] %d/%d | %.1f probes/s | Persisted: %d | Dropped: %d | %s",
		pct, processed, p.total, rate,
		p.persisted.Load(), p.dropped.Load(), eta)
}
