package app

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ipLimiter hands out one token bucket per client address.
type ipLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	visitors  map[string]*visitor
	lastSweep time.Time
	now       func() time.Time
}

// newIPLimiter returns nil when perSecond is not positive, which disables limiting.
func newIPLimiter(perSecond, burst int) *ipLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &ipLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		visitors: make(map[string]*visitor),
		now:      time.Now,
	}
}

func (l *ipLimiter) Allow(ip string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > limiterIdleTTL {
		for key, v := range l.visitors {
			if now.Sub(v.lastSeen) > limiterIdleTTL {
				delete(l.visitors, key)
			}
		}
		l.lastSweep = now
	}

	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// parseTrustedProxies accepts CIDRs and bare addresses. Entries that parse as
// neither are returned in invalid.
func parseTrustedProxies(values []string) (prefixes []netip.Prefix, invalid []string) {
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if prefix, err := netip.ParsePrefix(value); err == nil {
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		if addr, err := netip.ParseAddr(value); err == nil {
			addr = addr.Unmap()
			prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		invalid = append(invalid, value)
	}
	return prefixes, invalid
}

func isTrusted(trusted []netip.Prefix, ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// clientIP returns the peer address. Forwarding headers are honored only when
// the peer is a trusted proxy: the rightmost X-Forwarded-For hop outside the
// trusted set wins, then X-Real-IP.
func clientIP(r *http.Request, trusted []netip.Prefix) string {
	peer, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		peer = r.RemoteAddr
	}
	if !isTrusted(trusted, peer) {
		return peer
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		hops := strings.Split(forwarded, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if _, err := netip.ParseAddr(hop); err != nil {
				break
			}
			if !isTrusted(trusted, hop) {
				return hop
			}
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		if _, err := netip.ParseAddr(realIP); err == nil {
			return realIP
		}
	}
	return peer
}
