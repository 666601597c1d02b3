package gateway

import (
	"net"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

const (
	authRateWindow   = 5 * time.Minute
	authRateMaxFails = 10
	authRateMaxIPs   = 10000 // max tracked IPs to prevent memory exhaustion
)

// authRateLimiter tracks failed auth attempts per IP to prevent brute-force
// attacks. Entries expire one window after the last failure.
type authRateLimiter struct {
	mu       sync.Mutex
	failures *cache.Cache // host -> []time.Time
}

func newAuthRateLimiter() *authRateLimiter {
	return &authRateLimiter{failures: cache.New(authRateWindow, time.Minute)}
}

func hostOf(remoteAddr string) string {
	host, _, _ := net.SplitHostPort(remoteAddr)
	if host == "" {
		host = remoteAddr
	}
	return host
}

// recent returns the failures of host inside the window. Callers hold mu.
func (l *authRateLimiter) recent(host string) []time.Time {
	v, ok := l.failures.Get(host)
	if !ok {
		return nil
	}
	cutoff := time.Now().Add(-authRateWindow)
	var out []time.Time
	for _, t := range v.([]time.Time) {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

func (l *authRateLimiter) allow(remoteAddr string) bool {
	host := hostOf(remoteAddr)

	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.recent(host)) < authRateMaxFails
}

func (l *authRateLimiter) recordFailure(remoteAddr string) {
	host := hostOf(remoteAddr)

	l.mu.Lock()
	defer l.mu.Unlock()

	times := l.recent(host)
	if times == nil && l.failures.ItemCount() >= authRateMaxIPs {
		l.failures.DeleteExpired()
		if l.failures.ItemCount() >= authRateMaxIPs {
			return
		}
	}
	l.failures.Set(host, append(times, time.Now()), cache.DefaultExpiration)
}
