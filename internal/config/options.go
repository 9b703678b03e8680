package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// MaxRetries is the hard cap on probe attempts per candidate.
const MaxRetries = 10

var (
	// ErrNoTarget is returned when no target, candidate file or resume file is given.
	ErrNoTarget = errors.New("target required: use -t, -l or --resume")
	// ErrInvalidTarget is returned when the target cannot be parsed as a host or URL.
	ErrInvalidTarget = errors.New("invalid target")
)

// Options holds all operator-supplied configuration for an apihunter run.
type Options struct {
	// Target
	Target     string // domain or base URL
	URLsFile   string // candidate list, "-" for stdin
	OutputDir  string
	ConfigFile string

	// Performance
	Concurrency    int
	PerHost        int
	Timeout        time.Duration
	Retries        int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	MaxTime        time.Duration // global scan deadline
	RateLimit      float64       // requests per second across all hosts, 0 = unlimited
	Lite           bool

	// Behaviour
	Aggressive        bool
	ConfirmAggressive bool
	AllCandidates     bool // skip the API pattern filter
	FollowRedirects   bool

	// HTTP
	Headers   map[string]string
	UserAgent string
	Proxy     string

	// Output
	ResumeFile string
	Quiet      bool
	Verbose    bool
	Debug      bool
	NoColor    bool

	// Observability
	MetricsAddr  string
	OTLPEndpoint string
	OTLPInsecure bool
}

// Defaults returns the options used when neither flags nor a config file
// say otherwise.
func Defaults() Options {
	return Options{
		OutputDir:      "results",
		Concurrency:    50,
		PerHost:        6,
		Timeout:        10 * time.Second,
		Retries:        3,
		BackoffInitial: 200 * time.Millisecond,
		BackoffMax:     5 * time.Second,
		MaxTime:        10 * time.Minute,
		UserAgent:      "apihunter/1.0",
	}
}

// ApplyLite switches to the conservative low-impact preset.
func (o *Options) ApplyLite() {
	o.Concurrency = 8
	o.PerHost = 2
	o.Retries = 1
	o.Timeout = 3 * time.Second
}

// Validate checks the options for configuration errors. These are the only
// errors that abort a run.
func (o *Options) Validate() error {
	if o.ResumeFile != "" {
		return nil
	}
	if o.Target == "" && o.URLsFile == "" {
		return ErrNoTarget
	}
	if o.Target != "" {
		if _, err := o.TargetHost(); err != nil {
			return err
		}
	}
	if o.Aggressive && !o.ConfirmAggressive {
		return fmt.Errorf("--aggressive disables host cooldowns and requires --confirm-aggressive")
	}
	if o.Concurrency < 1 {
		return fmt.Errorf("--concurrency must be at least 1, got %d", o.Concurrency)
	}
	if o.PerHost < 1 {
		return fmt.Errorf("--per-host must be at least 1, got %d", o.PerHost)
	}
	if o.Timeout <= 0 {
		return fmt.Errorf("--timeout must be positive, got %s", o.Timeout)
	}
	if o.MaxTime <= 0 {
		return fmt.Errorf("--max-time must be positive, got %s", o.MaxTime)
	}
	if o.RateLimit < 0 {
		return fmt.Errorf("--rate-limit must not be negative, got %g", o.RateLimit)
	}
	return nil
}

// TargetHost extracts the bare host name from Target, which may be given
// either as a domain ("example.com") or as a URL ("https://example.com/x").
func (o *Options) TargetHost() (string, error) {
	t := strings.TrimSpace(o.Target)
	if t == "" {
		return "", ErrNoTarget
	}
	if !strings.Contains(t, "://") {
		t = "https://" + t
	}
	u, err := url.Parse(t)
	if err != nil {
		return "", fmt.Errorf("%w %q: %v", ErrInvalidTarget, o.Target, err)
	}
	host := u.Hostname()
	if host == "" || strings.ContainsAny(host, " /") {
		return "", fmt.Errorf("%w %q: no host", ErrInvalidTarget, o.Target)
	}
	return strings.ToLower(host), nil
}

// TargetURL returns the target as a base URL with its port, defaulting to
// https.
func (o *Options) TargetURL() (string, error) {
	host, err := o.TargetHost()
	if err != nil {
		return "", err
	}
	scheme := "https"
	t := strings.TrimSpace(o.Target)
	if strings.HasPrefix(strings.ToLower(t), "http://") {
		scheme = "http"
	}
	if !strings.Contains(t, "://") {
		t = scheme + "://" + t
	}
	if u, err := url.Parse(t); err == nil && u.Port() != "" {
		host = net.JoinHostPort(host, u.Port())
	}
	return scheme + "://" + host, nil
}

// ScanConfig derives the immutable core configuration shared by every
// worker of a scan.
func (o *Options) ScanConfig() ScanConfig {
	sc := ScanConfig{
		Concurrency:      max(o.Concurrency, 1),
		PerHost:          max(o.PerHost, 1),
		Timeout:          o.Timeout,
		Retries:          min(max(o.Retries, 1), MaxRetries),
		BackoffInitial:   o.BackoffInitial,
		BackoffMax:       o.BackoffMax,
		Aggressive:       o.Aggressive,
		Deadline:         o.MaxTime,
		RateLimit:        o.RateLimit,
		CooldownCapacity: DefaultCooldownCapacity,
		CooldownWindow:   DefaultCooldownWindow,
		SinkBuffer:       DefaultSinkBuffer,
		DrainTimeout:     DefaultDrainTimeout,
	}
	if sc.BackoffInitial < 0 {
		sc.BackoffInitial = 0
	}
	if sc.BackoffMax < sc.BackoffInitial {
		sc.BackoffMax = sc.BackoffInitial
	}
	return sc
}
