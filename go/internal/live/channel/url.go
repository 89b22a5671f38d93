package channel

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// RewriteURL derives the push channel URL from a page origin: http becomes
// ws, https becomes wss, and the scheme's default port is dropped.
func RewriteURL(origin, path string) (string, error) {
	base, err := url.Parse(origin)
	if err != nil {
		return "", fmt.Errorf("parse origin: %w", err)
	}

	var scheme, defaultPort string
	switch strings.ToLower(base.Scheme) {
	case "http", "ws":
		scheme, defaultPort = "ws", "80"
	case "https", "wss":
		scheme, defaultPort = "wss", "443"
	default:
		return "", fmt.Errorf("unsupported origin scheme %q", base.Scheme)
	}
	if base.Hostname() == "" {
		return "", fmt.Errorf("origin %q has no host", origin)
	}

	host := base.Hostname()
	if port := base.Port(); port != "" && port != defaultPort {
		host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}

	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parse path: %w", err)
	}
	out := url.URL{
		Scheme:   scheme,
		Host:     host,
		Path:     ref.Path,
		RawQuery: ref.RawQuery,
	}
	if !strings.HasPrefix(out.Path, "/") {
		out.Path = "/" + out.Path
	}
	return out.String(), nil
}
