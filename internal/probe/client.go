package probe

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
)

// ClientConfig configures the HTTP client shared by all probes of a scan.
type ClientConfig struct {
	Timeout         time.Duration
	Concurrency     int // sizes the idle connection pool
	Proxy           string
	FollowRedirects bool
}

// NewClient builds the scan's HTTP client. Certificate errors are ignored
// so that targets with self-signed or expired certificates still answer,
// and redirects are reported rather than followed unless asked for.
func NewClient(cfg ClientConfig) (*http.Client, error) {
	conns := max(cfg.Concurrency, 1)
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		DialContext: (&net.Dialer{
			Timeout: cfg.Timeout,
		}).DialContext,
		TLSHandshakeTimeout: cfg.Timeout,
		MaxIdleConns:        conns,
		MaxIdleConnsPerHost: conns,
		IdleConnTimeout:     90 * time.Second,
	}

	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", cfg.Proxy, err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}

	if !cfg.FollowRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return client, nil
}
