// Package admission bounds in-flight requests globally and per host, and
// applies temporary cooldowns to hosts that report distress.
package admission

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/maxvaer/apihunter/internal/logging"
)

// ErrClosed is returned by Acquire once the controller has been closed.
var ErrClosed = errors.New("admission controller closed")

// Config sets the admission limits.
type Config struct {
	Global        int     // global in-flight limit
	PerHost       int     // default per-host in-flight limit
	RatePerSecond float64 // request starts per second across all hosts, 0 = unlimited
	Burst         int     // rate limiter burst, defaults to Global
}

// Observer is notified about cooldowns. A nil *metrics.Collector satisfies it.
type Observer interface {
	ObserveCoolDown(host string)
}

// Controller hands out permits. It is safe for concurrent use.
type Controller struct {
	global   *semaphore.Weighted
	limit    int64
	perHost  int64
	limiter  *rate.Limiter
	hosts    sync.Map // host -> *hostState
	inFlight atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger   *slog.Logger
	observer Observer
}

type hostState struct {
	sem      *semaphore.Weighted
	inFlight atomic.Int64
	wake     chan struct{} // nudges the cooldown worker after a change

	mu       sync.Mutex
	capacity int64
	reserve  int64     // slots the active cooldown wants held
	held     int64     // slots the cooldown worker holds
	until    time.Time // end of the active cooldown
	cooling  bool      // a cooldown worker is running
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger used for cooldown messages.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithObserver reports cooldowns to o.
func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observer = o }
}

// New creates a controller. Limits below 1 are raised to 1.
func New(cfg Config, opts ...Option) *Controller {
	global := int64(max(cfg.Global, 1))
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		global:  semaphore.NewWeighted(global),
		limit:   global,
		perHost: int64(max(cfg.PerHost, 1)),
		ctx:     ctx,
		cancel:  cancel,
	}
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = int(global)
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = logging.OrDefault(c.logger)
	return c
}

// host returns the state for host, creating it on first use. Concurrent
// first calls all observe the same state; losers discard theirs unused.
func (c *Controller) host(name string) *hostState {
	if v, ok := c.hosts.Load(name); ok {
		return v.(*hostState)
	}
	fresh := &hostState{
		sem:      semaphore.NewWeighted(c.perHost),
		wake:     make(chan struct{}, 1),
		capacity: c.perHost,
	}
	v, _ := c.hosts.LoadOrStore(name, fresh)
	return v.(*hostState)
}

// Permit is one admitted unit of concurrency for a host.
type Permit struct {
	c    *Controller
	hs   *hostState
	once sync.Once
}

// Release frees the host and global slots. Extra calls are no-ops.
func (p *Permit) Release() {
	if p == nil {
		return
	}
	p.once.Do(func() {
		p.hs.inFlight.Add(-1)
		p.c.inFlight.Add(-1)
		p.c.global.Release(1)
		p.hs.sem.Release(1)
	})
}

// Acquire blocks until a slot for host and a global slot are free, and the
// optional rate limit allows another request to start. It fails with
// ErrClosed after Close, or with the context's error.
func (c *Controller) Acquire(ctx context.Context, host string) (*Permit, error) {
	if c.ctx.Err() != nil {
		return nil, ErrClosed
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	hs := c.host(host)
	// Host first: a cooled host must not pin global slots while it queues.
	if err := hs.sem.Acquire(ctx, 1); err != nil {
		return nil, c.acquireErr(err)
	}
	if err := c.global.Acquire(ctx, 1); err != nil {
		hs.sem.Release(1)
		return nil, c.acquireErr(err)
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			c.global.Release(1)
			hs.sem.Release(1)
			return nil, c.acquireErr(err)
		}
	}
	hs.inFlight.Add(1)
	c.inFlight.Add(1)
	return &Permit{c: c, hs: hs}, nil
}

func (c *Controller) acquireErr(err error) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	return err
}

// CoolDown lowers host's capacity to reduced for d, then restores the
// default. The reduction is a reservation of the difference queued on the
// host semaphore, so no new permit is granted above the reduced capacity
// while in-flight requests above it finish. A later call replaces the
// capacity and the end of the window of an earlier one; the slots already
// reserved stay held across the change.
func (c *Controller) CoolDown(host string, reduced int, d time.Duration) {
	if c.ctx.Err() != nil || d <= 0 {
		return
	}
	r := min(max(int64(reduced), 1), c.perHost)
	hs := c.host(host)

	hs.mu.Lock()
	hs.capacity = r
	hs.reserve = c.perHost - r
	hs.until = time.Now().Add(d)
	start := !hs.cooling
	if start {
		hs.cooling = true
		// Take the reservation right away when the host is idle enough.
		if hs.reserve > 0 && hs.sem.TryAcquire(hs.reserve) {
			hs.held = hs.reserve
		}
	}
	hs.mu.Unlock()

	c.logger.Warn("host cooling down",
		slog.String("host", host),
		slog.Int64("capacity", r),
		slog.Duration("window", d))
	if c.observer != nil {
		c.observer.ObserveCoolDown(host)
	}

	if start {
		c.wg.Add(1)
		go c.coolDown(host, hs)
		return
	}
	select {
	case hs.wake <- struct{}{}:
	default:
	}
}

// coolDown keeps the host's reservation in line with the latest cooldown
// until its window ends. Held slots are only returned when the reservation
// shrinks or the cooldown is over.
func (c *Controller) coolDown(name string, hs *hostState) {
	defer c.wg.Done()
	for {
		hs.mu.Lock()
		if c.ctx.Err() != nil || !time.Now().Before(hs.until) {
			if hs.held > 0 {
				hs.sem.Release(hs.held)
			}
			hs.held = 0
			hs.reserve = 0
			hs.capacity = c.perHost
			hs.cooling = false
			hs.mu.Unlock()
			c.logger.Info("host capacity restored", slog.String("host", name), slog.Int64("capacity", c.perHost))
			return
		}
		if hs.held > hs.reserve {
			hs.sem.Release(hs.held - hs.reserve)
			hs.held = hs.reserve
		}
		need := hs.reserve - hs.held
		until := hs.until
		hs.mu.Unlock()

		if need > 0 {
			ctx, cancel := context.WithDeadline(c.ctx, until)
			err := hs.sem.Acquire(ctx, need)
			cancel()
			if err == nil {
				hs.mu.Lock()
				hs.held += need
				hs.mu.Unlock()
			}
			continue
		}

		t := time.NewTimer(time.Until(until))
		select {
		case <-t.C:
		case <-hs.wake:
		case <-c.ctx.Done():
		}
		t.Stop()
	}
}

// Capacity reports the current per-host capacity.
func (c *Controller) Capacity(host string) int {
	v, ok := c.hosts.Load(host)
	if !ok {
		return int(c.perHost)
	}
	hs := v.(*hostState)
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return int(hs.capacity)
}

// CoolingDown reports whether host is under a cooldown.
func (c *Controller) CoolingDown(host string) bool {
	return c.Capacity(host) < int(c.perHost)
}

// InFlight reports the permits currently held for host.
func (c *Controller) InFlight(host string) int {
	v, ok := c.hosts.Load(host)
	if !ok {
		return 0
	}
	return int(v.(*hostState).inFlight.Load())
}

// GlobalInFlight reports the permits currently held across all hosts.
func (c *Controller) GlobalInFlight() int {
	return int(c.inFlight.Load())
}

// GlobalLimit returns the global in-flight limit.
func (c *Controller) GlobalLimit() int {
	return int(c.limit)
}

// Close stops all cooldowns, fails pending and future Acquire calls with
// ErrClosed, and waits for the restoration workers to exit.
func (c *Controller) Close() {
	c.cancel()
	c.wg.Wait()
}
