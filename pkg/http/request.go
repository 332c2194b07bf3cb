package http

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// DeviceIDHeader carries a client-generated stable device identifier.
const DeviceIDHeader = "X-Device-ID"

// IPConfig holds the proxies whose forwarding headers are trusted.
type IPConfig struct {
	trusted []netip.Prefix
}

// NewIPConfig parses CIDR ranges. Invalid entries are skipped.
func NewIPConfig(cidrs []string) *IPConfig {
	cfg := &IPConfig{}
	for _, c := range cidrs {
		if p, err := netip.ParsePrefix(strings.TrimSpace(c)); err == nil {
			cfg.trusted = append(cfg.trusted, p.Masked())
		}
	}
	return cfg
}

func (c *IPConfig) isTrusted(addr netip.Addr) bool {
	if c == nil {
		return false
	}
	for _, p := range c.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ExtractClientIP returns the client address. X-Forwarded-For and X-Real-IP
// are honoured only when the direct peer is a trusted proxy.
func ExtractClientIP(r *http.Request, config *IPConfig) string {
	remote := remoteHost(r)

	addr, err := netip.ParseAddr(remote)
	if err != nil || !config.isTrusted(addr.Unmap()) {
		return remote
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for _, part := range strings.Split(xff, ",") {
			if ip, err := netip.ParseAddr(strings.TrimSpace(part)); err == nil {
				return ip.String()
			}
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		if ip, err := netip.ParseAddr(xri); err == nil {
			return ip.String()
		}
	}
	return remote
}

func remoteHost(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// RequestMeta is the client context captured for auth decisions.
type RequestMeta struct {
	IPAddress string
	UserAgent string
	DeviceID  string
}

// ExtractRequestMeta collects the client IP, user agent and device id.
func ExtractRequestMeta(r *http.Request, config *IPConfig) RequestMeta {
	return RequestMeta{
		IPAddress: ExtractClientIP(r, config),
		UserAgent: r.UserAgent(),
		DeviceID:  strings.TrimSpace(r.Header.Get(DeviceIDHeader)),
	}
}
