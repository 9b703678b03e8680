package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// File mirrors Options for YAML config files. Zero values mean "not set".
type File struct {
	Target         string            `yaml:"target"`
	URLsFile       string            `yaml:"urls_file"`
	OutputDir      string            `yaml:"output_dir"`
	Concurrency    int               `yaml:"concurrency"`
	PerHost        int               `yaml:"per_host"`
	Timeout        time.Duration     `yaml:"timeout"`
	Retries        int               `yaml:"retries"`
	BackoffInitial time.Duration     `yaml:"backoff_initial"`
	BackoffMax     time.Duration     `yaml:"backoff_max"`
	MaxTime        time.Duration     `yaml:"max_time"`
	RateLimit      float64           `yaml:"rate_limit"`
	Lite           bool              `yaml:"lite"`
	AllCandidates  bool              `yaml:"all_candidates"`
	FollowRedirect bool              `yaml:"follow_redirects"`
	Headers        map[string]string `yaml:"headers"`
	UserAgent      string            `yaml:"user_agent"`
	Proxy          string            `yaml:"proxy"`
	MetricsAddr    string            `yaml:"metrics_addr"`
	OTLPEndpoint   string            `yaml:"otlp_endpoint"`
	OTLPInsecure   bool              `yaml:"otlp_insecure"`
}

// LoadFile parses a YAML config file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return &f, nil
}

// Apply copies every value set in the file into opts, unless the matching
// command-line flag was set explicitly. changed reports whether a flag (by
// its long name) was given on the command line.
func (f *File) Apply(opts *Options, changed func(flag string) bool) {
	setStr := func(flag string, dst *string, v string) {
		if v != "" && !changed(flag) {
			*dst = v
		}
	}
	setInt := func(flag string, dst *int, v int) {
		if v != 0 && !changed(flag) {
			*dst = v
		}
	}
	setDur := func(flag string, dst *time.Duration, v time.Duration) {
		if v != 0 && !changed(flag) {
			*dst = v
		}
	}
	setBool := func(flag string, dst *bool, v bool) {
		if v && !changed(flag) {
			*dst = v
		}
	}

	setStr("target", &opts.Target, f.Target)
	setStr("urls-file", &opts.URLsFile, f.URLsFile)
	setStr("output", &opts.OutputDir, f.OutputDir)
	setInt("concurrency", &opts.Concurrency, f.Concurrency)
	setInt("per-host", &opts.PerHost, f.PerHost)
	setDur("timeout", &opts.Timeout, f.Timeout)
	setInt("retries", &opts.Retries, f.Retries)
	setDur("backoff-initial", &opts.BackoffInitial, f.BackoffInitial)
	setDur("backoff-max", &opts.BackoffMax, f.BackoffMax)
	setDur("max-time", &opts.MaxTime, f.MaxTime)
	if f.RateLimit != 0 && !changed("rate-limit") {
		opts.RateLimit = f.RateLimit
	}
	setBool("lite", &opts.Lite, f.Lite)
	setBool("all", &opts.AllCandidates, f.AllCandidates)
	setBool("follow-redirects", &opts.FollowRedirects, f.FollowRedirect)
	setStr("user-agent", &opts.UserAgent, f.UserAgent)
	setStr("proxy", &opts.Proxy, f.Proxy)
	setStr("metrics-addr", &opts.MetricsAddr, f.MetricsAddr)
	setStr("otlp-endpoint", &opts.OTLPEndpoint, f.OTLPEndpoint)
	setBool("otlp-insecure", &opts.OTLPInsecure, f.OTLPInsecure)

	if len(f.Headers) > 0 {
		if opts.Headers == nil {
			opts.Headers = make(map[string]string, len(f.Headers))
		}
		// Headers given with -H take precedence over the file.
		for k, v := range f.Headers {
			if _, exists := opts.Headers[k]; !exists {
				opts.Headers[k] = v
			}
		}
	}
}
