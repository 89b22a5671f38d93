package hub

import (
	"net/http"
	"net/url"
	"strings"
)

// OriginAllowed reports whether origin matches an entry of allowed. An
// entry of "*" matches every origin.
func OriginAllowed(allowed []string, origin string) bool {
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(strings.TrimRight(a, "/"), origin) {
			return true
		}
	}
	return false
}

// OriginChecker returns an upgrade origin check. Requests without an Origin
// header (non-browser clients) and same-origin requests always pass; other
// origins must be listed in allowed.
func OriginChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err == nil && strings.EqualFold(u.Host, r.Host) {
			return true
		}
		return OriginAllowed(allowed, origin)
	}
}
