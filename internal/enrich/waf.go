package enrich

import (
	"net/http"
	"strings"
)

// wafSignature matches a vendor by header presence, header substrings,
// Server substrings or cookie name prefixes. Any single match is enough.
type wafSignature struct {
	vendor  string
	headers []string          // present at all
	values  map[string]string // header -> lowercase substring
	server  []string          // lowercase Server substrings
	cookies []string          // lowercase cookie name prefixes
}

// Order matters: CDN fronts are checked before the products they carry.
var wafSignatures = []wafSignature{
	{vendor: "cloudflare", headers: []string{"CF-RAY", "CF-Cache-Status"}, server: []string{"cloudflare"}, cookies: []string{"__cf_bm", "__cfduid", "cf_clearance"}},
	{vendor: "akamai", headers: []string{"X-Akamai-Transformed", "Akamai-Origin-Hop", "Akamai-GRN"}, server: []string{"akamaighost", "akamai"}, cookies: []string{"ak_bmsc", "bm_sv"}},
	{vendor: "imperva", headers: []string{"X-Iinfo", "X-CDN-Forward"}, values: map[string]string{"X-CDN": "imperva"}, cookies: []string{"incap_ses", "visid_incap", "nlbi_"}},
	{vendor: "sucuri", headers: []string{"X-Sucuri-ID", "X-Sucuri-Cache"}, server: []string{"sucuri"}},
	{vendor: "aws", headers: []string{"X-AMZN-WAF-Action"}, server: []string{"awselb"}, cookies: []string{"aws-waf-token", "awsalb"}},
	{vendor: "azure", headers: []string{"X-Azure-Ref", "X-MSEdge-Ref"}},
	{vendor: "f5", headers: []string{"X-WA-Info"}, server: []string{"bigip", "big-ip"}, cookies: []string{"bigipserver", "ts01", "f5_cspm"}},
	{vendor: "fastly", values: map[string]string{"X-Served-By": "cache-", "Via": "varnish"}, server: []string{"fastly"}},
	{vendor: "modsecurity", server: []string{"mod_security", "modsecurity", "owasp"}},
	{vendor: "barracuda", server: []string{"barracuda"}, cookies: []string{"barra_counter_session", "bni__barracuda"}},
	{vendor: "fortiweb", server: []string{"fortiweb"}, cookies: []string{"fortiwafsid"}},
}

// WAFVendor returns a short vendor name when the response headers carry a
// known WAF or CDN signature, or "" when none matches.
func WAFVendor(h http.Header) string {
	if len(h) == 0 {
		return ""
	}
	server := strings.ToLower(h.Get("Server"))
	cookies := cookieNames(h)

	for _, sig := range wafSignatures {
		for _, name := range sig.headers {
			if h.Get(name) != "" {
				return sig.vendor
			}
		}
		for name, sub := range sig.values {
			if strings.Contains(strings.ToLower(h.Get(name)), sub) {
				return sig.vendor
			}
		}
		for _, sub := range sig.server {
			if server != "" && strings.Contains(server, sub) {
				return sig.vendor
			}
		}
		for _, prefix := range sig.cookies {
			for _, c := range cookies {
				if strings.HasPrefix(c, prefix) {
					return sig.vendor
				}
			}
		}
	}
	return ""
}

func cookieNames(h http.Header) []string {
	var names []string
	for _, line := range h.Values("Set-Cookie") {
		name, _, _ := strings.Cut(line, "=")
		names = append(names, strings.ToLower(strings.TrimSpace(name)))
	}
	return names
}
