package scanner

import (
	"context"
	"sync"
	"time"
)

// Pauser is a cooperative pause gate checked by workers before they
// request an admission permit. Probes already in flight finish normally.
type Pauser struct {
	mu          sync.Mutex
	cond        *sync.Cond
	paused      bool
	pausedSince time.Time
	totalPaused time.Duration
}

// NewPauser creates a Pauser in the running state.
func NewPauser() *Pauser {
	p := &Pauser{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Wait blocks while paused. It returns ctx's error if ctx ends first, so a
// paused scan still stops at its deadline.
func (p *Pauser) Wait(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.paused {
		return nil
	}
	stop := context.AfterFunc(ctx, func() {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	defer stop()
	for p.paused {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.cond.Wait()
	}
	return nil
}

// Toggle flips between paused and running and returns true if now paused.
func (p *Pauser) Toggle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused {
		p.totalPaused += time.Since(p.pausedSince)
		p.paused = false
		p.cond.Broadcast()
	} else {
		p.paused = true
		p.pausedSince = time.Now()
	}
	return p.paused
}

// IsPaused reports whether the gate is closed.
func (p *Pauser) IsPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// PausedDuration returns the total time spent paused, including any
// ongoing pause.
func (p *Pauser) PausedDuration() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	d := p.totalPaused
	if p.paused {
		d += time.Since(p.pausedSince)
	}
	return d
}
