package services

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// URLGuard validates landing URLs before any capture work touches the
// network. Private, loopback, link-local and cloud metadata targets are
// rejected, and hostnames that fail DNS resolution are rejected rather
// than allowed through.
type URLGuard struct {
	resolver interface {
		LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
	}
}

const maxLandingURLLength = 2048

var blockedHostnames = map[string]bool{
	"localhost":       true,
	"127.0.0.1":       true,
	"::1":             true,
	"0.0.0.0":         true,
	"169.254.169.254": true,
	"100.100.100.200": true,
}

// NewURLGuard creates a guard backed by the system resolver.
func NewURLGuard() *URLGuard {
	return &URLGuard{resolver: net.DefaultResolver}
}

// ValidateLandingURL returns nil when rawURL is safe to fetch, or an
// error describing why it was rejected.
func (g *URLGuard) ValidateLandingURL(ctx context.Context, rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return fmt.Errorf("landing URL is required")
	}
	if len(rawURL) > maxLandingURLLength {
		return fmt.Errorf("landing URL exceeds %d characters", maxLandingURLLength)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("landing URL is not a valid URL: %w", err)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("landing URL scheme %q is not allowed (http/https only)", parsed.Scheme)
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return fmt.Errorf("landing URL has no hostname")
	}
	if blockedHostnames[host] {
		return fmt.Errorf("landing URL host %q is blocked", host)
	}

	if ip := net.ParseIP(host); ip != nil {
		if isDisallowedIP(ip) {
			return fmt.Errorf("landing URL resolves to a disallowed address %s", ip)
		}
		return nil
	}

	// Fail closed: an unresolvable host is rejected rather than deferred
	// to capture time, where the browser does its own resolution.
	addrs, err := g.resolver.LookupIPAddr(ctx, host)
	if err != nil || len(addrs) == 0 {
		return fmt.Errorf("landing URL host %q could not be resolved", host)
	}
	for _, addr := range addrs {
		if isDisallowedIP(addr.IP) {
			return fmt.Errorf("landing URL host %q resolves to a disallowed address %s", host, addr.IP)
		}
	}
	return nil
}

func isDisallowedIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsUnspecified() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	if ip.IsPrivate() {
		return true
	}
	// Cloud metadata endpoints
	if ip.Equal(net.ParseIP("169.254.169.254")) || ip.Equal(net.ParseIP("100.100.100.200")) {
		return true
	}
	// IPv6 unique local addresses (fc00::/7)
	if v6 := ip.To16(); v6 != nil && ip.To4() == nil {
		if v6[0]&0xfe == 0xfc {
			return true
		}
	}
	return false
}
