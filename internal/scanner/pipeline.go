// Package scanner drives candidates through admission, probing, scoring
// and the output sinks under one global scan deadline.
package scanner

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxvaer/apihunter/internal/admission"
	"github.com/maxvaer/apihunter/internal/config"
	"github.com/maxvaer/apihunter/internal/enrich"
	"github.com/maxvaer/apihunter/internal/logging"
	"github.com/maxvaer/apihunter/internal/metrics"
	"github.com/maxvaer/apihunter/internal/output"
	"github.com/maxvaer/apihunter/internal/probe"
	"github.com/maxvaer/apihunter/internal/scoring"
)

// maxKeyNotes bounds the key:<name> notes added from a JSON sample.
const maxKeyNotes = 5

// State is the pipeline lifecycle stage.
type State int32

const (
	Idle State = iota
	Probing
	Draining
	Done
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Probing:
		return "probing"
	case Draining:
		return "draining"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// ErrAlreadyRun is returned by Run on a pipeline that has left Idle.
var ErrAlreadyRun = errors.New("pipeline already run")

// Prober resolves one candidate URL.
type Prober interface {
	Probe(ctx context.Context, rawURL string) (*probe.Outcome, error)
}

// Observer receives per-candidate results. A nil *metrics.Collector
// satisfies it.
type Observer interface {
	ObserveProbe(result string, responseMS int64)
	InflightAdd(delta int)
}

// Summary aggregates one run. Probed, Dropped and Skipped add up to Total.
type Summary struct {
	Total       int
	Probed      int // persisted to the sinks
	Dropped     int // unreachable, or abandoned mid-probe at the deadline
	Skipped     int // never started
	DeadlineHit bool
	Duration    time.Duration
	Paused      time.Duration
	Outcomes    []*probe.Outcome
}

// Pipeline composes the scan. Build one per scan with New.
type Pipeline struct {
	cfg       config.ScanConfig
	admission *admission.Controller
	prober    Prober
	sinks     output.Fanout

	logger   *slog.Logger
	observer Observer
	pauser   *Pauser
	progress *output.Progress

	state atomic.Int32
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithObserver reports per-candidate results to o.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observer = o }
}

// WithPauser gates workers on pauser.
func WithPauser(pauser *Pauser) Option {
	return func(p *Pipeline) { p.pauser = pauser }
}

// WithProgress updates progress as candidates finish.
func WithProgress(progress *output.Progress) Option {
	return func(p *Pipeline) { p.progress = progress }
}

// New creates a pipeline. The pipeline owns sinks: Run closes them.
func New(cfg config.ScanConfig, ctrl *admission.Controller, prober Prober, sinks output.Fanout, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:       cfg,
		admission: ctrl,
		prober:    prober,
		sinks:     sinks,
	}
	for _, o := range opts {
		o(p)
	}
	p.logger = logging.OrDefault(p.logger)
	return p
}

// State returns the current lifecycle stage.
func (p *Pipeline) State() State { return State(p.state.Load()) }

// tally is the mutable part of a Summary shared by the workers.
type tally struct {
	mu       sync.Mutex
	outcomes []*probe.Outcome
	probed   atomic.Int64
	dropped  atomic.Int64
	skipped  atomic.Int64
}

// Run probes candidates with cfg.Concurrency workers until all are done or
// the deadline fires, then closes the sinks and waits up to
// cfg.DrainTimeout for them to flush. Reaching the deadline is not an
// error; the returned error is only ErrAlreadyRun.
func (p *Pipeline) Run(ctx context.Context, candidates []string) (Summary, error) {
	if !p.state.CompareAndSwap(int32(Idle), int32(Probing)) {
		return Summary{}, ErrAlreadyRun
	}
	start := time.Now()

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if p.cfg.Deadline > 0 {
		runCtx, cancel = context.WithTimeout(ctx, p.cfg.Deadline)
	}
	defer cancel()

	p.logger.Info("scan started",
		slog.Int("candidates", len(candidates)),
		slog.Int("concurrency", p.cfg.Concurrency),
		slog.Int("per_host", p.cfg.PerHost),
		slog.Duration("deadline", p.cfg.Deadline))

	t := &tally{}
	p.stream(runCtx, candidates, t)
	deadlineHit := errors.Is(runCtx.Err(), context.DeadlineExceeded)
	if deadlineHit {
		p.logger.Warn("scan deadline reached", slog.Duration("deadline", p.cfg.Deadline))
	}

	p.state.Store(int32(Draining))
	p.drain()
	p.state.Store(int32(Done))

	s := Summary{
		Total:       len(candidates),
		Probed:      int(t.probed.Load()),
		Dropped:     int(t.dropped.Load()),
		Skipped:     int(t.skipped.Load()),
		DeadlineHit: deadlineHit,
		Duration:    time.Since(start),
		Outcomes:    t.outcomes,
	}
	if p.pauser != nil {
		s.Paused = p.pauser.PausedDuration()
	}
	p.logger.Info("scan finished",
		slog.Int("probed", s.Probed),
		slog.Int("dropped", s.Dropped),
		slog.Int("skipped", s.Skipped),
		slog.Duration("duration", s.Duration))
	return s, nil
}

// stream fans candidates out to the worker pool and returns once every
// candidate is accounted for.
func (p *Pipeline) stream(ctx context.Context, candidates []string, t *tally) {
	workers := max(p.cfg.Concurrency, 1)
	items := make(chan string, workers*2)

	// Producer: stop feeding at the deadline; the rest are never started.
	go func() {
		defer close(items)
		for i, c := range candidates {
			select {
			case items <- c:
			case <-ctx.Done():
				t.skipped.Add(int64(len(candidates) - i))
				p.skip(len(candidates) - i)
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range items {
				p.handle(ctx, c, t)
			}
		}()
	}
	wg.Wait()
}

// handle takes one candidate from pause gate to sinks.
func (p *Pipeline) handle(ctx context.Context, rawURL string, t *tally) {
	if ctx.Err() != nil {
		t.skipped.Add(1)
		p.skip(1)
		return
	}
	if p.pauser != nil {
		if err := p.pauser.Wait(ctx); err != nil {
			t.skipped.Add(1)
			p.skip(1)
			return
		}
	}

	permit, err := p.admission.Acquire(ctx, probe.HostOf(rawURL))
	if err != nil {
		// Nothing was sent yet.
		t.skipped.Add(1)
		p.skip(1)
		return
	}
	p.inflight(1)
	out, err := p.prober.Probe(ctx, rawURL)
	permit.Release()
	p.inflight(-1)

	if err != nil {
		t.dropped.Add(1)
		if ctx.Err() != nil {
			p.drop(metrics.ResultAbandoned)
			p.logger.Debug("probe abandoned", slog.String("url", rawURL))
		} else {
			p.drop(metrics.ResultUnreachable)
			p.logger.Warn("candidate dropped", slog.String("url", rawURL), slog.String("error", err.Error()))
		}
		return
	}

	out.Score = scoring.Score(out)
	annotate(out)

	if err := p.sinks.Send(ctx, out); err != nil {
		// The deadline fired while the sinks were full.
		t.dropped.Add(1)
		p.drop(metrics.ResultAbandoned)
		p.logger.Debug("outcome not persisted", slog.String("url", rawURL), slog.String("error", err.Error()))
		return
	}
	t.probed.Add(1)
	t.mu.Lock()
	t.outcomes = append(t.outcomes, out)
	t.mu.Unlock()

	if p.observer != nil {
		p.observer.ObserveProbe(metrics.ResultPersisted, out.ResponseMS)
	}
	if p.progress != nil {
		p.progress.Persisted()
	}
	p.logger.Debug("outcome persisted",
		slog.String("url", out.FinalURL),
		slog.Int("status", out.Status),
		slog.Int("score", out.Score))
}

// annotate adds key:<name> notes for interesting JSON keys in the sample.
func annotate(out *probe.Outcome) {
	if !out.HasJSON() {
		return
	}
	keys := enrich.JSONKeys(out.JSONSample)
	for _, k := range keys[:min(len(keys), maxKeyNotes)] {
		out.AddNote("key:" + k)
	}
}

func (p *Pipeline) drain() {
	p.sinks.Close()
	timeout := p.cfg.DrainTimeout
	if timeout <= 0 {
		timeout = config.DefaultDrainTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := p.sinks.Wait(ctx); err != nil {
		p.logger.Warn("sinks did not finish flushing", slog.Duration("timeout", timeout))
	}
}

func (p *Pipeline) skip(n int) {
	for i := 0; i < n; i++ {
		if p.observer != nil {
			p.observer.ObserveProbe(metrics.ResultSkipped, 0)
		}
		if p.progress != nil {
			p.progress.Dropped()
		}
	}
}

func (p *Pipeline) drop(result string) {
	if p.observer != nil {
		p.observer.ObserveProbe(result, 0)
	}
	if p.progress != nil {
		p.progress.Dropped()
	}
}

func (p *Pipeline) inflight(delta int) {
	if p.observer != nil {
		p.observer.InflightAdd(delta)
	}
}
