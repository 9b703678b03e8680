package filter

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	apiMarkers     = []string{"/api/", "/graphql", "/rest/", "wp-json"}
	authMarkers    = []string{"/login", "/token", "/auth", "/oauth"}
	versionPattern = regexp.MustCompile(`/v\d+(/|$)`)

	// StaticExtensions are asset suffixes that never host an API.
	StaticExtensions = []string{".css", ".woff", ".woff2", ".png", ".jpg", ".jpeg", ".gif", ".svg", ".ico", ".map"}
)

// APIPatternFilter keeps only URLs that look like API endpoints: API path
// markers, versioned segments, .json resources and authentication routes.
type APIPatternFilter struct{}

func (APIPatternFilter) Name() string { return "api-pattern" }

func (APIPatternFilter) Reject(rawURL string) bool {
	return !IsAPICandidate(rawURL)
}

// IsAPICandidate reports whether rawURL looks like an API endpoint.
func IsAPICandidate(rawURL string) bool {
	p := strings.ToLower(pathOf(rawURL))
	if isStatic(p) {
		return false
	}
	for _, m := range apiMarkers {
		if strings.Contains(p, m) {
			return true
		}
	}
	if strings.HasSuffix(p, ".json") || versionPattern.MatchString(p) {
		return true
	}
	for _, m := range authMarkers {
		if strings.Contains(p, m) {
			return true
		}
	}
	return false
}

// StaticFilter rejects static assets.
type StaticFilter struct{}

func (StaticFilter) Name() string { return "static" }

func (StaticFilter) Reject(rawURL string) bool {
	return isStatic(strings.ToLower(pathOf(rawURL)))
}

func isStatic(lowerPath string) bool {
	for _, ext := range StaticExtensions {
		if strings.HasSuffix(lowerPath, ext) {
			return true
		}
	}
	return false
}

// ScopeFilter rejects URLs outside the target host and its subdomains.
type ScopeFilter struct {
	host string
}

// NewScopeFilter scopes candidates to host.
func NewScopeFilter(host string) *ScopeFilter {
	return &ScopeFilter{host: strings.ToLower(strings.TrimSuffix(host, "."))}
}

func (f *ScopeFilter) Name() string { return "scope" }

func (f *ScopeFilter) Reject(rawURL string) bool {
	if f.host == "" {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	h := strings.ToLower(u.Hostname())
	return h != f.host && !strings.HasSuffix(h, "."+f.host)
}

// pathOf returns the path of rawURL without query or fragment.
func pathOf(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil {
		return u.Path
	}
	if i := strings.IndexAny(rawURL, "?#"); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}
