package watch

import (
	"fmt"
	"net/url"
	"strings"
)

// defaultPorts maps a scheme to the port its URLs imply when none is
// written. A URL spelling the implied port out must normalize to the
// same key as one that omits it.
var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// trackingParams are dropped during normalization: two links to the same
// publication frequently differ only in campaign decoration.
var trackingParams = map[string]bool{
	"utm_source":   true,
	"utm_medium":   true,
	"utm_campaign": true,
	"utm_term":     true,
	"utm_content":  true,
	"gclid":        true,
	"fbclid":       true,
	"mc_cid":       true,
	"mc_eid":       true,
	"ref":          true,
}

// NormalizeURL standardizes a URL so the same publication dedupes to one key.
// It lowercases the scheme and host, removes default ports, drops fragments
// and tracking parameters, and re-encodes the remaining query sorted.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q has no scheme or host", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if port := u.Port(); port != "" && port == defaultPorts[u.Scheme] {
		u.Host = strings.TrimSuffix(u.Host, ":"+port)
	}

	u.Fragment = ""
	u.RawFragment = ""

	q := u.Query()
	for key := range q {
		if trackingParams[strings.ToLower(key)] {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}
