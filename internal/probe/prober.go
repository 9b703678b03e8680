// Package probe resolves one candidate URL into an Outcome: a cheap HEAD
// first, a range-limited GET when HEAD says too little, and bounded
// retries with exponential backoff on network failures.
package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/maxvaer/apihunter/internal/config"
	"github.com/maxvaer/apihunter/internal/enrich"
	"github.com/maxvaer/apihunter/internal/jsonutil"
	"github.com/maxvaer/apihunter/internal/logging"
)

const (
	// rangeBytes is the prefix requested by the escalated GET.
	rangeBytes = 8192
	// sampleBytes is how much of the body is inspected for JSON.
	sampleBytes = 4096
	// textSampleRunes bounds the snippet kept for non-JSON bodies.
	textSampleRunes = 200

	tracerName = "github.com/maxvaer/apihunter/internal/probe"
)

// ErrUnreachable marks a candidate that failed at the network level on
// every attempt.
var ErrUnreachable = errors.New("candidate unreachable")

// Failure is returned when a candidate exhausts its attempts.
type Failure struct {
	URL      string
	Attempts int
	Err      error // last network error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s unreachable after %d attempt(s): %v", f.URL, f.Attempts, f.Err)
}

func (f *Failure) Unwrap() []error { return []error{ErrUnreachable, f.Err} }

// requestError is a request that could not be built. Retrying cannot help.
type requestError struct{ err error }

func (e *requestError) Error() string { return "building request: " + e.err.Error() }

func (e *requestError) Unwrap() error { return e.err }

// CoolDowner lowers a host's admission capacity for a while.
type CoolDowner interface {
	CoolDown(host string, reduced int, d time.Duration)
}

// Observer counts probe attempts. A nil *metrics.Collector satisfies it.
type Observer interface {
	ObserveAttempts(n int)
}

// sleeper waits between retries; tests substitute one that only records.
type sleeper interface {
	sleep(ctx context.Context, d time.Duration) error
}

type realSleeper struct{}

func (realSleeper) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Prober performs candidate probes. It is safe for concurrent use.
type Prober struct {
	client    *http.Client
	cfg       config.ScanConfig
	userAgent string
	headers   map[string]string
	cooler    CoolDowner
	observer  Observer
	logger    *slog.Logger
	sleeper   sleeper
	tracer    trace.Tracer
}

// Option configures a Prober.
type Option func(*Prober)

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(p *Prober) { p.userAgent = ua }
}

// WithHeaders adds headers to every request.
func WithHeaders(h map[string]string) Option {
	return func(p *Prober) { p.headers = h }
}

// WithCoolDowner reports distressed hosts to c.
func WithCoolDowner(c CoolDowner) Option {
	return func(p *Prober) { p.cooler = c }
}

// WithObserver reports attempt counts to o.
func WithObserver(o Observer) Option {
	return func(p *Prober) { p.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Prober) { p.logger = l }
}

// New creates a prober using client for all requests.
func New(client *http.Client, cfg config.ScanConfig, opts ...Option) *Prober {
	p := &Prober{
		client:  client,
		cfg:     cfg,
		sleeper: realSleeper{},
		tracer:  otel.Tracer(tracerName),
	}
	for _, o := range opts {
		o(p)
	}
	p.logger = logging.OrDefault(p.logger)
	return p
}

// Attempts returns how many tries a candidate gets.
func (p *Prober) Attempts() int {
	return min(max(p.cfg.Retries, 1), config.MaxRetries)
}

// Probe resolves rawURL to an Outcome. HTTP error statuses are valid
// outcomes; only repeated network failures produce an error, which wraps
// ErrUnreachable. Context cancellation aborts between and during attempts.
func (p *Prober) Probe(ctx context.Context, rawURL string) (*Outcome, error) {
	ctx, span := p.tracer.Start(ctx, "probe", trace.WithAttributes(attribute.String("url.full", rawURL)))
	defer span.End()

	out, attempts, err := p.probeWithRetries(ctx, rawURL)
	span.SetAttributes(attribute.Int("probe.attempts", attempts))
	if p.observer != nil {
		p.observer.ObserveAttempts(attempts)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "unreachable")
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.response.status_code", out.Status))

	if !p.cfg.Aggressive && p.cooler != nil && distressed(out.Status) {
		if host := HostOf(rawURL); host != "" {
			p.cooler.CoolDown(host, p.cfg.CooldownCapacity, p.cfg.CooldownWindow)
		}
	}
	return out, nil
}

func (p *Prober) probeWithRetries(ctx context.Context, rawURL string) (*Outcome, int, error) {
	limit := p.Attempts()
	backoff := NewBackoff(p.cfg.BackoffInitial, p.cfg.BackoffMax)

	var lastErr error
	attempts := 0
	for attempts < limit {
		if err := ctx.Err(); err != nil {
			return nil, attempts, err
		}
		attempts++
		out, err := p.attempt(ctx, rawURL)
		if err == nil {
			return out, attempts, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, attempts, ctx.Err()
		}
		var reqErr *requestError
		if errors.As(err, &reqErr) {
			break
		}
		p.logger.Debug("probe attempt failed",
			slog.String("url", rawURL),
			slog.Int("attempt", attempts),
			slog.String("error", err.Error()))
		if attempts < limit {
			if err := p.sleeper.sleep(ctx, backoff.Next()); err != nil {
				return nil, attempts, err
			}
		}
	}
	return nil, attempts, &Failure{URL: rawURL, Attempts: attempts, Err: lastErr}
}

// attempt runs one HEAD and, if needed, one ranged GET.
func (p *Prober) attempt(ctx context.Context, rawURL string) (*Outcome, error) {
	start := time.Now()

	head, headErr := p.do(ctx, http.MethodHead, rawURL)
	var reqErr *requestError
	if errors.As(headErr, &reqErr) {
		return nil, headErr
	}
	if headErr == nil && !needsBody(head) {
		return p.outcome(rawURL, head, start), nil
	}

	get, getErr := p.do(ctx, http.MethodGet, rawURL)
	switch {
	case getErr == nil:
		out := p.outcome(rawURL, get, start)
		out.JSONSample, out.IsGraphQL = sampleBody(get.body)
		return out, nil
	case headErr == nil:
		// HEAD answered; a failed escalation does not make the host unreachable.
		return p.outcome(rawURL, head, start), nil
	default:
		return nil, fmt.Errorf("HEAD: %v; GET: %w", headErr, getErr)
	}
}

// exchange is one completed request with its bounded body prefix.
type exchange struct {
	resp *http.Response
	body []byte
}

func (p *Prober) do(ctx context.Context, method, rawURL string) (*exchange, error) {
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, &requestError{err: err}
	}
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}
	if method == http.MethodGet {
		req.Header.Set("Range", "bytes=0-"+strconv.Itoa(rangeBytes-1))
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	ex := &exchange{resp: resp}
	if method == http.MethodGet {
		// A body cut short by the timeout still leaves a usable prefix.
		ex.body, _ = io.ReadAll(io.LimitReader(resp.Body, rangeBytes))
	}
	return ex, nil
}

// needsBody reports whether a HEAD response is too thin to stand alone.
func needsBody(ex *exchange) bool {
	switch ex.resp.StatusCode {
	case http.StatusMethodNotAllowed, http.StatusNotImplemented:
		return true
	}
	return ex.resp.Header.Get("Content-Type") == ""
}

func (p *Prober) outcome(rawURL string, ex *exchange, start time.Time) *Outcome {
	resp := ex.resp
	out := &Outcome{
		OrigURL:    rawURL,
		FinalURL:   rawURL,
		Status:     resp.StatusCode,
		ResponseMS: time.Since(start).Milliseconds(),
		Notes:      []string{},
	}
	if resp.Request != nil && resp.Request.URL != nil {
		out.FinalURL = resp.Request.URL.String()
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		out.ContentType = &ct
	}
	if sv := resp.Header.Get("Server"); sv != "" {
		out.Server = &sv
	}
	if resp.ContentLength >= 0 {
		n := resp.ContentLength
		out.ContentLength = &n
	} else if cl, err := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64); err == nil {
		out.ContentLength = &cl
	}
	if issuer := tlsIssuer(resp); issuer != "" {
		out.TLSIssuer = &issuer
	}
	if vendor := enrich.WAFVendor(resp.Header); vendor != "" {
		out.AddNote("waf:" + vendor)
	}
	return out
}

// sampleBody inspects the first sampleBytes of body. JSON is kept as the
// decoded value and flagged as GraphQL when it carries top-level data or
// errors members; other UTF-8 text is kept as a short wrapped snippet.
func sampleBody(body []byte) (sample any, graphQL bool) {
	b := body[:min(len(body), sampleBytes)]
	b = trimPartialRune(b)
	if len(bytes.TrimSpace(b)) == 0 || !utf8.Valid(b) {
		return nil, false
	}

	var v any
	if err := jsonutil.Unmarshal(b, &v); err == nil {
		if m, ok := v.(map[string]any); ok {
			_, hasData := m["data"]
			_, hasErrors := m["errors"]
			graphQL = hasData || hasErrors
		}
		return v, graphQL
	}
	return map[string]any{sampleKey: truncateRunes(string(b), textSampleRunes)}, false
}

// trimPartialRune drops an incomplete UTF-8 sequence left by a byte cut.
func trimPartialRune(b []byte) []byte {
	for i := 0; i < utf8.UTFMax && len(b) > 0 && !utf8.Valid(b); i++ {
		r, size := utf8.DecodeLastRune(b)
		if r != utf8.RuneError || size != 1 {
			break
		}
		b = b[:len(b)-1]
	}
	return b
}

func truncateRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

func distressed(status int) bool {
	return status == http.StatusTooManyRequests || (status >= 500 && status < 600)
}

// HostOf returns the lowercased host name of rawURL, or "" if it has none.
func HostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
