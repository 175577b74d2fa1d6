package adapters

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// IsPrivateHost reports whether hostname must never be dialed: literal
// IPs in private, reserved, loopback, link-local, multicast, or
// unspecified ranges, and the well-known internal hostname patterns
// (localhost, *.local, *.internal). Non-IP hostnames outside those
// patterns pass; the allowlist is the second gate.
func IsPrivateHost(hostname string) bool {
	if ip := net.ParseIP(hostname); ip != nil {
		if ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() ||
			ip.IsLinkLocalMulticast() || ip.IsMulticast() || ip.IsUnspecified() {
			return true
		}
		// 240.0.0.0/4 is reserved and has no IsX helper.
		if v4 := ip.To4(); v4 != nil && v4[0] >= 240 {
			return true
		}
		return false
	}
	lower := strings.ToLower(hostname)
	return lower == "localhost" || strings.HasSuffix(lower, ".local") || strings.HasSuffix(lower, ".internal")
}

// ValidateURL applies the SSRF rules and the exact-match domain
// allowlist to rawURL, returning the parsed URL on success.
//
// Scheme must be https; http is admitted only for localhost and
// 127.0.0.1 (local test loops). No wildcard matching at this layer.
func ValidateURL(rawURL string, allowlist map[string]struct{}) (*url.URL, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}

	localLoop := false
	switch parsed.Scheme {
	case "https":
	case "http":
		if h := parsed.Hostname(); h != "localhost" && h != "127.0.0.1" {
			return nil, fmt.Errorf("http is not allowed for external requests, use https")
		}
		localLoop = true
	default:
		return nil, fmt.Errorf("unsupported scheme %q, only https is allowed", parsed.Scheme)
	}

	hostname := strings.ToLower(parsed.Hostname())
	if hostname == "" {
		return nil, fmt.Errorf("url has no hostname")
	}

	if !localLoop && IsPrivateHost(hostname) {
		return nil, fmt.Errorf("requests to private/internal addresses are blocked: %s", hostname)
	}

	if _, ok := allowlist[hostname]; !ok {
		return nil, fmt.Errorf("domain %q is not in the allowlist", hostname)
	}

	return parsed, nil
}

// ParseAllowlist normalizes a comma-separated domain list into the
// lowercased set ValidateURL expects.
func ParseAllowlist(csv string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, d := range strings.Split(csv, ",") {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			out[d] = struct{}{}
		}
	}
	return out
}
