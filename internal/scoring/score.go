// Package scoring ranks probe outcomes. Lower scores are more interesting.
package scoring

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/maxvaer/apihunter/internal/probe"
)

// Score tiers.
const (
	Top         = 1  // open endpoint returning JSON
	API         = 2  // open endpoint on an API-looking path
	Gated       = 3  // exists but requires authentication
	Redirect    = 4  // redirects elsewhere
	Default     = 5  // nothing notable
	ServerError = 6  // server-side failure
	Static      = 99 // static asset, never interesting
)

var (
	authKeywords     = []string{"token", "auth", "login", "admin", "oauth", "session"}
	staticExtensions = []string{".css", ".woff", ".woff2", ".png", ".jpg", ".jpeg", ".gif", ".svg", ".ico", ".map"}
	versionSegment   = regexp.MustCompile(`(^|/)v\d+(/|$)`)
)

// Score returns the interest rank of o. It has no side effects.
func Score(o *probe.Outcome) int {
	path := strings.ToLower(pathOf(o.FinalURL))
	score := Default

	if o.Status >= 200 && o.Status < 300 {
		switch {
		case jsonContentType(probe.Str(o.ContentType)) || o.HasJSON():
			score = Top
		case apiPath(path):
			score = API
		}
	}
	if o.Status == 401 || o.Status == 403 {
		score = min(score, Gated)
	}
	if o.Status >= 300 && o.Status < 400 {
		score = min(score, Redirect)
	}
	if o.Status >= 500 {
		score = max(ServerError, score)
	}

	for _, kw := range authKeywords {
		if strings.Contains(path, kw) {
			score = max(Top, score-1)
			break
		}
	}

	for _, ext := range staticExtensions {
		if strings.HasSuffix(path, ext) {
			return Static
		}
	}
	return score
}

func jsonContentType(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "application/json") ||
		strings.Contains(ct, "application/graphql") ||
		strings.Contains(ct, "+json")
}

func apiPath(path string) bool {
	return strings.Contains(path, "/api/") ||
		strings.HasSuffix(path, "/api") ||
		strings.Contains(path, "/graphql") ||
		strings.Contains(path, "/rest/") ||
		versionSegment.MatchString(path)
}

// pathOf returns the path of rawURL, or rawURL itself if it does not parse.
func pathOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Path == "" && u.Host == "") {
		return rawURL
	}
	return u.Path
}
