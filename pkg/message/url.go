package message

import (
	"net/url"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeURL canonicalizes protocol and schema URIs so that equivalent
// spellings index identically: NFC, default https scheme, no trailing slash.
func NormalizeURL(raw string) string {
	if raw == "" {
		return ""
	}
	s := norm.NFC.String(strings.TrimSpace(raw))
	if !strings.Contains(s, "://") && !strings.HasPrefix(s, "urn:") && !strings.HasPrefix(s, "did:") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return strings.TrimSuffix(s, "/")
	}
	u.Host = strings.ToLower(u.Host)
	u.Scheme = strings.ToLower(u.Scheme)
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String()
}
