package security

import (
	"net"
	"net/http"
	"strings"
)

// DefaultTrustedProxies are the addresses a local reverse proxy connects from.
var DefaultTrustedProxies = []string{"127.0.0.1", "::1"}

// ClientIPResolver determines the originating client address of a request.
// Forwarding headers are honored only when reverse-proxy mode is enabled and
// the transport peer itself is a trusted proxy; a client connecting straight
// to the listener cannot spoof its address with X-Forwarded-For.
// It is safe for concurrent use.
type ClientIPResolver struct {
	proxyMode   bool
	trustedIPs  []net.IP
	trustedNets []*net.IPNet
}

// NewClientIPResolver creates a resolver. trustedProxies accepts individual
// IPs and CIDR ranges; unparsable entries are ignored.
func NewClientIPResolver(proxyMode bool, trustedProxies []string) *ClientIPResolver {
	r := &ClientIPResolver{proxyMode: proxyMode}

	for _, entry := range trustedProxies {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if strings.Contains(entry, "/") {
			if _, network, err := net.ParseCIDR(entry); err == nil {
				r.trustedNets = append(r.trustedNets, network)
			}
			continue
		}

		if ip := net.ParseIP(entry); ip != nil {
			r.trustedIPs = append(r.trustedIPs, ip)
		}
	}

	return r
}

// ProxyMode reports whether reverse-proxy mode is enabled.
func (r *ClientIPResolver) ProxyMode() bool {
	return r.proxyMode
}

// IsTrustedProxy reports whether addr (with or without port) is a configured
// trusted proxy.
func (r *ClientIPResolver) IsTrustedProxy(addr string) bool {
	ip := net.ParseIP(hostOnly(addr))
	if ip == nil {
		return false
	}

	for _, trusted := range r.trustedIPs {
		if trusted.Equal(ip) {
			return true
		}
	}
	for _, network := range r.trustedNets {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// Resolve returns the client IP for the request.
// X-Real-IP takes precedence over X-Forwarded-For; for a forwarded chain only
// the first entry is used.
func (r *ClientIPResolver) Resolve(req *http.Request) string {
	peer := PeerIP(req)

	if !r.proxyMode || !r.IsTrustedProxy(peer) {
		return peer
	}

	if realIP := strings.TrimSpace(req.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}

	if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}

	return peer
}

// PeerIP returns the transport peer address of the request without its port.
func PeerIP(req *http.Request) string {
	return hostOnly(req.RemoteAddr)
}

// hostOnly strips the port from a host:port transport address.
func hostOnly(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return strings.Trim(addr, "[]")
}
