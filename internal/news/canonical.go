// Package news implements the ingestion data plane: URL canonicalization,
// batch dedup and upsert, and the deterministic ticker/tag extractor.
package news

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// trackingParams are dropped wholesale during canonicalization. utm_*
// is handled by prefix.
var trackingParams = map[string]struct{}{
	"fbclid":      {},
	"gclid":       {},
	"gbraid":      {},
	"wbraid":      {},
	"dclid":       {},
	"msclkid":     {},
	"twclid":      {},
	"igshid":      {},
	"yclid":       {},
	"mc_cid":      {},
	"mc_eid":      {},
	"_ga":         {},
	"_gl":         {},
	"ref_src":     {},
	"cmpid":       {},
	"ncid":        {},
	"spm":         {},
	"share_token": {},
}

func isTrackingParam(key string) bool {
	k := strings.ToLower(key)
	if strings.HasPrefix(k, "utm_") {
		return true
	}
	_, ok := trackingParams[k]
	return ok
}

// Canonicalize reduces a URL to its canonical form: https scheme,
// lowercased host without www. or default ports, no trailing slash on
// non-root paths, tracking parameters removed, remaining parameters
// sorted, fragment cleared. Unparseable input comes back unchanged.
func Canonicalize(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return s
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}

	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return strings.TrimSpace(raw)
	}

	u.Scheme = "https"
	host := strings.ToLower(u.Host)
	host = strings.TrimPrefix(host, "www.")
	host = strings.TrimSuffix(host, ":80")
	host = strings.TrimSuffix(host, ":443")
	u.Host = host

	if u.Path != "/" && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	q := u.Query()
	kept := url.Values{}
	for key, vals := range q {
		if isTrackingParam(key) {
			continue
		}
		kept[key] = vals
	}
	if len(kept) == 0 {
		u.RawQuery = ""
	} else {
		// Encode sorts keys alphabetically; values keep their original
		// order and bytes.
		u.RawQuery = kept.Encode()
	}
	u.Fragment = ""
	u.RawFragment = ""

	return u.String()
}

// HashID derives the stable item ID: the first 16 hex characters of the
// SHA-256 of the canonical URL.
func HashID(canonicalURL string) string {
	sum := sha256.Sum256([]byte(canonicalURL))
	return hex.EncodeToString(sum[:])[:16]
}
