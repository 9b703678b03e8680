package config

import "time"

const (
	DefaultCooldownCapacity = 1
	DefaultCooldownWindow   = 30 * time.Second
	DefaultSinkBuffer       = 1024
	DefaultDrainTimeout     = 5 * time.Second
)

// ScanConfig is the read-only configuration of the probing core. It is
// created once at scan start and shared by reference with all workers.
type ScanConfig struct {
	Concurrency    int           // global in-flight limit
	PerHost        int           // default per-host in-flight limit
	Timeout        time.Duration // per request
	Retries        int           // attempts per candidate, 1..MaxRetries
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	Aggressive     bool // disables adaptive cooldown
	Deadline       time.Duration
	RateLimit      float64

	CooldownCapacity int
	CooldownWindow   time.Duration
	SinkBuffer       int
	DrainTimeout     time.Duration
}
