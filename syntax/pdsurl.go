package syntax

import (
	"net/url"
	"strings"

	"github.com/atkit-dev/atkit/aterr"
)

// PDSURL is a validated Personal Data Server URL.
//
// Network URLs use https (or http for loopback hosts only) and address
// a remote PDS. file:// URLs address a local filesystem PDS root and
// must carry a path. Trailing slashes are normalized away so that
// XRPCURL produces exactly one separator.
type PDSURL struct {
	raw string
}

// ParsePDSURL validates s as a PDS URL and normalizes it.
func ParsePDSURL(s string) (PDSURL, error) {
	u, err := url.Parse(s)
	if err != nil {
		return PDSURL{}, aterr.Invalidf("invalid PDS URL %q: %v", s, err)
	}
	if !u.IsAbs() {
		return PDSURL{}, aterr.Invalidf("invalid PDS URL %q: must be an absolute URL", s)
	}

	switch u.Scheme {
	case "file":
		if u.Path == "" {
			return PDSURL{}, aterr.Invalidf("invalid PDS URL %q: file:// URL must have a path", s)
		}
		// "file://relative/store" parses with host "relative"; dropping
		// the host would silently change which path the URL names.
		if u.Host != "" && u.Host != "localhost" {
			return PDSURL{}, aterr.Invalidf("invalid PDS URL %q: file:// URL cannot have a host (use file:///path)", s)
		}
	case "https":
		if u.Host == "" {
			return PDSURL{}, aterr.Invalidf("invalid PDS URL %q: must have a host", s)
		}
	case "http":
		if !isLoopback(u.Hostname()) {
			return PDSURL{}, aterr.Invalidf("invalid PDS URL %q: must use HTTPS (HTTP allowed only for localhost)", s)
		}
	default:
		return PDSURL{}, aterr.Invalidf("invalid PDS URL %q: scheme must be https, http, or file", s)
	}

	normalized := strings.TrimRight(u.String(), "/")
	if u.Scheme == "file" {
		// Preserve a root path of "/" so the URL stays absolute.
		if strings.TrimRight(u.Path, "/") == "" {
			normalized = "file:///"
		}
	}

	return PDSURL{raw: normalized}, nil
}

func isLoopback(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

// String returns the normalized URL string.
func (p PDSURL) String() string { return p.raw }

// IsZero reports whether the URL is the zero value.
func (p PDSURL) IsZero() bool { return p.raw == "" }

// Scheme returns the URL scheme ("https", "http", or "file").
func (p PDSURL) Scheme() string {
	scheme, _, _ := strings.Cut(p.raw, ":")
	return scheme
}

// Host returns the host portion, empty for file URLs.
func (p PDSURL) Host() string {
	u, err := url.Parse(p.raw)
	if err != nil {
		return ""
	}
	return u.Host
}

// IsLocal reports whether this is a local filesystem PDS (file:// URL).
func (p PDSURL) IsLocal() bool {
	return p.Scheme() == "file"
}

// XRPCURL returns "<base>/xrpc/<method>" with no double slashes.
// Only meaningful for network URLs.
func (p PDSURL) XRPCURL(method string) string {
	return strings.TrimRight(p.raw, "/") + "/xrpc/" + method
}

// WebsocketBase maps the URL to its subscription scheme: https becomes
// wss and http becomes ws. Returns an InvalidInput error for file URLs.
func (p PDSURL) WebsocketBase() (string, error) {
	switch p.Scheme() {
	case "https":
		return "wss" + strings.TrimPrefix(p.raw, "https"), nil
	case "http":
		return "ws" + strings.TrimPrefix(p.raw, "http"), nil
	default:
		return "", aterr.Invalidf("PDS URL %q has no websocket form", p.raw)
	}
}

// FilePath converts a file:// URL to an absolute filesystem path.
// Returns an InvalidInput error for network URLs.
func (p PDSURL) FilePath() (string, error) {
	if !p.IsLocal() {
		return "", aterr.Invalidf("PDS URL %q is not a file:// URL", p.raw)
	}
	u, err := url.Parse(p.raw)
	if err != nil {
		return "", aterr.Invalidf("invalid PDS URL %q: %v", p.raw, err)
	}
	return u.Path, nil
}

// MarshalText serializes the URL as its normalized string.
func (p PDSURL) MarshalText() ([]byte, error) {
	return []byte(p.raw), nil
}

// UnmarshalText validates and stores the URL.
func (p *PDSURL) UnmarshalText(text []byte) error {
	parsed, err := ParsePDSURL(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
