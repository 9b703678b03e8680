package probe

import "net/http"

// tlsIssuer returns the issuer common name of the leaf certificate the
// server presented, falling back to the first issuer organisation.
func tlsIssuer(resp *http.Response) string {
	if resp.TLS == nil || len(resp.TLS.PeerCertificates) == 0 {
		return ""
	}
	issuer := resp.TLS.PeerCertificates[0].Issuer
	if issuer.CommonName != "" {
		return issuer.CommonName
	}
	if len(issuer.Organization) > 0 {
		return issuer.Organization[0]
	}
	return ""
}
