package http

import (
	"net"
	"net/http"
	"strings"
)

// IPConfig controls which upstream proxies may assert a client address.
type IPConfig struct {
	TrustedProxies []string // CIDR ranges; malformed entries are ignored
}

// ExtractClientIP resolves the address a request is attributed to. The
// result keys bans and lockouts, so forwarded headers are honored only when
// the direct peer sits inside a trusted proxy range; anyone else claiming
// an X-Forwarded-For would be shifting blame onto another address.
func ExtractClientIP(r *http.Request, cfg *IPConfig) string {
	peer := peerAddr(r)
	if cfg == nil || !cfg.trusts(peer) {
		return peer
	}

	// First valid hop in X-Forwarded-For wins, then X-Real-IP.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for _, hop := range strings.Split(xff, ",") {
			hop = strings.TrimSpace(hop)
			if net.ParseIP(hop) != nil {
				return hop
			}
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(xri) != nil {
		return xri
	}

	return peer
}

func (c *IPConfig) trusts(addr string) bool {
	peer := net.ParseIP(addr)
	if peer == nil {
		return false
	}
	for _, cidr := range c.TrustedProxies {
		_, block, err := net.ParseCIDR(cidr)
		if err != nil {
			continue
		}
		if block.Contains(peer) {
			return true
		}
	}
	return false
}

// peerAddr strips the port RemoteAddr usually carries.
func peerAddr(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
