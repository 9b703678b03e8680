package scanner

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxvaer/apihunter/internal/admission"
	"github.com/maxvaer/apihunter/internal/config"
	"github.com/maxvaer/apihunter/internal/logging"
	"github.com/maxvaer/apihunter/internal/output"
	"github.com/maxvaer/apihunter/internal/probe"
	"github.com/maxvaer/apihunter/internal/scoring"
)

func testScanConfig() config.ScanConfig {
	return config.ScanConfig{
		Concurrency:      4,
		PerHost:          4,
		Timeout:          2 * time.Second,
		Retries:          1,
		BackoffInitial:   200 * time.Millisecond,
		BackoffMax:       5 * time.Second,
		Deadline:         30 * time.Second,
		CooldownCapacity: config.DefaultCooldownCapacity,
		CooldownWindow:   config.DefaultCooldownWindow,
		SinkBuffer:       config.DefaultSinkBuffer,
		DrainTimeout:     config.DefaultDrainTimeout,
	}
}

// harness wires a real controller, prober and file sinks around cfg.
type harness struct {
	cfg   config.ScanConfig
	ctrl  *admission.Controller
	paths output.Paths
	obs   *countingObserver
}

func newHarness(t *testing.T, cfg config.ScanConfig) *harness {
	t.Helper()
	ctrl := admission.New(admission.Config{Global: cfg.Concurrency, PerHost: cfg.PerHost}, admission.WithLogger(logging.Discard()))
	t.Cleanup(ctrl.Close)
	return &harness{
		cfg:   cfg,
		ctrl:  ctrl,
		paths: output.PathsIn(t.TempDir()),
		obs:   &countingObserver{results: map[string]int{}},
	}
}

func (h *harness) pipeline(t *testing.T, opts ...Option) *Pipeline {
	t.Helper()
	client, err := probe.NewClient(probe.ClientConfig{Timeout: h.cfg.Timeout, Concurrency: h.cfg.Concurrency})
	require.NoError(t, err)
	prober := probe.New(client, h.cfg, probe.WithCoolDowner(h.ctrl), probe.WithLogger(logging.Discard()))

	jw, err := output.CreateJSONL(h.paths.Raw)
	require.NoError(t, err)
	cw, err := output.CreateCSV(h.paths.StreamCSV)
	require.NoError(t, err)
	sinks := output.Fanout{
		output.StartSink("jsonl", jw, h.cfg.SinkBuffer, logging.Discard(), nil),
		output.StartSink("csv", cw, h.cfg.SinkBuffer, logging.Discard(), nil),
	}
	opts = append([]Option{WithLogger(logging.Discard()), WithObserver(h.obs)}, opts...)
	return New(h.cfg, h.ctrl, prober, sinks, opts...)
}

type countingObserver struct {
	mu       sync.Mutex
	results  map[string]int
	inflight atomic.Int64
	peak     atomic.Int64
}

func (o *countingObserver) ObserveProbe(result string, _ int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results[result]++
}

func (o *countingObserver) InflightAdd(delta int) {
	n := o.inflight.Add(int64(delta))
	for {
		p := o.peak.Load()
		if n <= p || o.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

func (o *countingObserver) count(result string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.results[result]
}

func nonEmptyLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) != "" {
			n++
		}
	}
	require.NoError(t, sc.Err())
	return n
}

// gauge tracks concurrent handler executions.
type gauge struct {
	cur, peak atomic.Int64
}

func (g *gauge) enter() {
	n := g.cur.Add(1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

func (g *gauge) leave() { g.cur.Add(-1) }

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "probing", Probing.String())
	assert.Equal(t, "draining", Draining.String())
	assert.Equal(t, "done", Done.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestRunSerializedSingleHost(t *testing.T) {
	var g gauge
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.enter()
		defer g.leave()
		time.Sleep(50 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
	}))
	defer srv.Close()

	cfg := testScanConfig()
	cfg.Concurrency = 1
	cfg.PerHost = 1
	h := newHarness(t, cfg)
	p := h.pipeline(t)

	candidates := []string{srv.URL + "/api/a", srv.URL + "/api/b", srv.URL + "/api/c"}
	start := time.Now()
	sum, err := p.Run(context.Background(), candidates)
	elapsed := time.Since(start)
	require.NoError(t, err)

	assert.Equal(t, 3, sum.Total)
	assert.Equal(t, 3, sum.Probed)
	assert.Zero(t, sum.Dropped)
	assert.Zero(t, sum.Skipped)
	assert.False(t, sum.DeadlineHit)
	assert.Len(t, sum.Outcomes, 3)
	assert.Equal(t, int64(1), g.peak.Load())
	assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond)
	assert.Equal(t, Done, p.State())

	for _, o := range sum.Outcomes {
		assert.Equal(t, scoring.Top, o.Score, o.FinalURL)
	}
	assert.Equal(t, 3, nonEmptyLines(t, h.paths.Raw))
	assert.Equal(t, 4, nonEmptyLines(t, h.paths.StreamCSV))
	assert.Equal(t, 3, h.obs.count("persisted"))
	assert.Equal(t, int64(1), h.obs.peak.Load())
}

func TestRunAlwaysTimingOutIsDropped(t *testing.T) {
	var heads atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			heads.Add(1)
		}
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	cfg := testScanConfig()
	cfg.Timeout = 50 * time.Millisecond
	cfg.Retries = 3
	h := newHarness(t, cfg)
	p := h.pipeline(t)

	start := time.Now()
	sum, err := p.Run(context.Background(), []string{srv.URL + "/api/slow"})
	elapsed := time.Since(start)
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Dropped)
	assert.Zero(t, sum.Probed)
	assert.Empty(t, sum.Outcomes)
	assert.Equal(t, int32(3), heads.Load())
	// Two backoff sleeps of 200ms and 400ms separate the three attempts.
	assert.GreaterOrEqual(t, elapsed, 600*time.Millisecond)
	assert.Zero(t, nonEmptyLines(t, h.paths.Raw))
	assert.Equal(t, 1, nonEmptyLines(t, h.paths.StreamCSV), "header only")
	assert.Equal(t, 1, h.obs.count("unreachable"))
}

func TestRunCoolDownSerializesHost(t *testing.T) {
	var g gauge
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/api/limited" {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		g.enter()
		defer g.leave()
		time.Sleep(40 * time.Millisecond)
	}))
	defer srv.Close()

	cfg := testScanConfig()
	h := newHarness(t, cfg)

	first, err := h.pipeline(t).Run(context.Background(), []string{srv.URL + "/api/limited"})
	require.NoError(t, err)
	require.Equal(t, 1, first.Probed)
	assert.Equal(t, http.StatusTooManyRequests, first.Outcomes[0].Status)

	host := probe.HostOf(srv.URL)
	assert.Eventually(t, func() bool { return h.ctrl.Capacity(host) == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, h.ctrl.CoolingDown(host))

	var queued []string
	for i := 0; i < 4; i++ {
		queued = append(queued, fmt.Sprintf("%s/api/q%d", srv.URL, i))
	}
	start := time.Now()
	second, err := h.pipeline(t).Run(context.Background(), queued)
	require.NoError(t, err)

	assert.Equal(t, 4, second.Probed)
	assert.Equal(t, int64(1), g.peak.Load(), "cooled host must serve one probe at a time")
	assert.GreaterOrEqual(t, time.Since(start), 160*time.Millisecond)
}

func TestRunAggressiveSkipsCoolDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := testScanConfig()
	cfg.Aggressive = true
	h := newHarness(t, cfg)
	sum, err := h.pipeline(t).Run(context.Background(), []string{srv.URL + "/api/x"})
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Probed)
	assert.False(t, h.ctrl.CoolingDown(probe.HostOf(srv.URL)))
	assert.Equal(t, scoring.ServerError, sum.Outcomes[0].Score)
}

func TestRunDeadlineIsHardCutoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(5 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer srv.CloseClientConnections()

	cfg := testScanConfig()
	cfg.Concurrency = 50
	cfg.PerHost = 50
	cfg.Timeout = 10 * time.Second
	cfg.Retries = 3
	cfg.Deadline = time.Second
	h := newHarness(t, cfg)
	p := h.pipeline(t)

	candidates := make([]string, 1000)
	for i := range candidates {
		candidates[i] = fmt.Sprintf("%s/api/%d", srv.URL, i)
	}

	start := time.Now()
	sum, err := p.Run(context.Background(), candidates)
	elapsed := time.Since(start)
	require.NoError(t, err)

	assert.True(t, sum.DeadlineHit)
	assert.Less(t, elapsed, 3*time.Second)
	assert.GreaterOrEqual(t, elapsed, 900*time.Millisecond)
	assert.Zero(t, sum.Probed)
	assert.Equal(t, 1000, sum.Probed+sum.Dropped+sum.Skipped)
	assert.Greater(t, sum.Skipped, 900)
	assert.Equal(t, Done, p.State())
	assert.Zero(t, nonEmptyLines(t, h.paths.Raw))
	assert.Equal(t, 1, nonEmptyLines(t, h.paths.StreamCSV))
	assert.Zero(t, h.ctrl.GlobalInFlight())
}

func TestRunSinkCompleteness(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/api/users"):
			w.Header().Set("Content-Type", "application/json")
			if r.Method == http.MethodGet {
				fmt.Fprint(w, `{"id":7,"token":"x","email":"a@b"}`)
			}
		case strings.HasPrefix(r.URL.Path, "/admin"):
			w.Header().Set("Content-Type", "text/html")
			w.WriteHeader(http.StatusForbidden)
		default:
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	cfg := testScanConfig()
	cfg.Concurrency = 8
	h := newHarness(t, cfg)
	p := h.pipeline(t)

	var candidates []string
	for i := 0; i < 10; i++ {
		candidates = append(candidates, fmt.Sprintf("%s/api/users/%d", srv.URL, i))
		candidates = append(candidates, fmt.Sprintf("%s/admin/%d", srv.URL, i))
		candidates = append(candidates, fmt.Sprintf("%s/missing/%d", srv.URL, i))
	}
	candidates = append(candidates, "http://127.0.0.1:1/api/refused")

	sum, err := p.Run(context.Background(), candidates)
	require.NoError(t, err)

	assert.Equal(t, 30, sum.Probed)
	assert.Equal(t, 1, sum.Dropped)
	assert.Equal(t, sum.Probed, nonEmptyLines(t, h.paths.Raw))
	assert.Equal(t, sum.Probed+1, nonEmptyLines(t, h.paths.StreamCSV))
	assert.Equal(t, 30, h.obs.count("persisted"))
}

func TestHandleAnnotatesJSONKeys(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		fmt.Fprint(w, `{"access_token":"t","user":{"id":1,"email":"x"},"other":1}`)
	}))
	defer srv.Close()

	h := newHarness(t, testScanConfig())
	sum, err := h.pipeline(t).Run(context.Background(), []string{srv.URL + "/api/me"})
	require.NoError(t, err)
	require.Len(t, sum.Outcomes, 1)

	o := sum.Outcomes[0]
	assert.Equal(t, http.StatusOK, o.Status)
	assert.True(t, o.HasJSON())
	assert.Equal(t, scoring.Top, o.Score)
	assert.Contains(t, o.Notes, "key:access_token")
	assert.Contains(t, o.Notes, "key:user")
	assert.NotContains(t, o.Notes, "key:other")
}

func TestAnnotateCapsKeyNotes(t *testing.T) {
	o := &probe.Outcome{JSONSample: map[string]any{
		"token": 1, "auth": 1, "email": 1, "id": 1, "user": 1, "account": 1, "session_token": 1,
	}}
	annotate(o)
	assert.Len(t, o.Notes, maxKeyNotes)

	text := &probe.Outcome{JSONSample: map[string]any{"_sample": "token=abc"}}
	annotate(text)
	assert.Empty(t, text.Notes)
}

type blockingProber struct{ release chan struct{} }

func (b blockingProber) Probe(ctx context.Context, rawURL string) (*probe.Outcome, error) {
	select {
	case <-b.release:
		return &probe.Outcome{OrigURL: rawURL, FinalURL: rawURL, Status: 200, Notes: []string{}}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestRunWithPauser(t *testing.T) {
	cfg := testScanConfig()
	ctrl := admission.New(admission.Config{Global: cfg.Concurrency, PerHost: cfg.PerHost})
	defer ctrl.Close()

	pauser := NewPauser()
	pauser.Toggle()
	bp := blockingProber{release: make(chan struct{})}
	close(bp.release)

	p := New(cfg, ctrl, bp, nil, WithPauser(pauser), WithLogger(logging.Discard()))

	done := make(chan Summary, 1)
	go func() {
		s, _ := p.Run(context.Background(), []string{"https://a.example/api/1", "https://a.example/api/2"})
		done <- s
	}()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, Probing, p.State())
	assert.Zero(t, ctrl.GlobalInFlight())
	pauser.Toggle()

	select {
	case s := <-done:
		assert.Equal(t, 2, s.Probed)
		assert.GreaterOrEqual(t, s.Paused, 40*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not resume")
	}
}

func TestRunTwice(t *testing.T) {
	cfg := testScanConfig()
	ctrl := admission.New(admission.Config{Global: 1, PerHost: 1})
	defer ctrl.Close()
	bp := blockingProber{release: make(chan struct{})}
	close(bp.release)

	p := New(cfg, ctrl, bp, nil, WithLogger(logging.Discard()))
	_, err := p.Run(context.Background(), nil)
	require.NoError(t, err)
	_, err = p.Run(context.Background(), nil)
	assert.ErrorIs(t, err, ErrAlreadyRun)
}

func TestRunParentCancel(t *testing.T) {
	cfg := testScanConfig()
	ctrl := admission.New(admission.Config{Global: 2, PerHost: 2})
	defer ctrl.Close()
	bp := blockingProber{release: make(chan struct{})}

	ctx, cancel := context.WithCancel(context.Background())
	p := New(cfg, ctrl, bp, nil, WithLogger(logging.Discard()))
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	sum, err := p.Run(ctx, []string{"https://a.example/1", "https://a.example/2", "https://a.example/3"})
	require.NoError(t, err)

	assert.False(t, sum.DeadlineHit)
	assert.Equal(t, 2, sum.Dropped)
	assert.Equal(t, 1, sum.Skipped)
}
