package filter

import (
	"net/url"
	"slices"
	"strings"
)

// Normalize trims rawURL and adds an https scheme when none is given.
// It returns "" for lines that are empty, comments or not http(s) URLs.
func Normalize(rawURL string) string {
	s := strings.TrimSpace(rawURL)
	if s == "" || strings.HasPrefix(s, "#") {
		return ""
	}
	if strings.HasPrefix(s, "//") {
		s = "https:" + s
	} else if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	return u.String()
}

// Dedupe normalizes urls, drops invalid ones and returns the rest sorted
// and without duplicates.
func Dedupe(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if n := Normalize(u); n != "" {
			out = append(out, n)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
