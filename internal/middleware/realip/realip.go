// Package realip resolves the client address of a request, honouring
// X-Forwarded-For only when the direct peer is a trusted proxy.
package realip

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

type contextKey struct{}

// Config holds the configuration for the real IP middleware
type Config struct {
	TrustProxy     bool
	TrustedProxies []string // CIDR ranges or single addresses
}

// Resolver extracts client addresses for one proxy configuration.
type Resolver struct {
	trustProxy bool
	trusted    []netip.Prefix
}

// NewResolver parses the trusted proxy list. Unparsable entries are ignored.
func NewResolver(cfg Config) *Resolver {
	res := &Resolver{trustProxy: cfg.TrustProxy}
	if !cfg.TrustProxy {
		return res
	}
	for _, entry := range cfg.TrustedProxies {
		entry = strings.TrimSpace(entry)
		if prefix, err := netip.ParsePrefix(entry); err == nil {
			res.trusted = append(res.trusted, prefix.Masked())
			continue
		}
		if addr, err := netip.ParseAddr(entry); err == nil {
			res.trusted = append(res.trusted, netip.PrefixFrom(addr, addr.BitLen()))
		}
	}
	return res
}

// Middleware stores the resolved client IP in the request context.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	res := NewResolver(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), contextKey{}, res.ClientIP(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIP returns the address of the originating client. The forwarding
// chain is walked right to left and the first untrusted hop wins.
func (res *Resolver) ClientIP(r *http.Request) string {
	peer := hostOnly(r.RemoteAddr)
	if !res.trustProxy || !res.isTrusted(peer) {
		return peer
	}

	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
		return peer
	}

	hops := strings.Split(xff, ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop != "" && !res.isTrusted(hop) {
			return hop
		}
	}
	// Every hop is a proxy we trust; the leftmost is the origin
	return strings.TrimSpace(hops[0])
}

func (res *Resolver) isTrusted(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range res.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func hostOnly(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// GetClientIP returns the IP stored by Middleware, or the peer address when
// the middleware did not run.
func GetClientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(contextKey{}).(string); ok && ip != "" {
		return ip
	}
	return hostOnly(r.RemoteAddr)
}
