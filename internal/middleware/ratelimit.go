package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

type clientIPKey struct{}

// ClientIP resolves the client address once per request. Forwarding headers
// (CF-Connecting-IP, then the first X-Forwarded-For hop) are honoured only
// when trustProxy is set; otherwise the socket peer is used.
func ClientIP(trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := remoteHost(r)
			if trustProxy {
				if fwd := forwardedIP(r); fwd != "" {
					ip = fwd
				}
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), clientIPKey{}, ip)))
		})
	}
}

// RealIP returns the address resolved by ClientIP, or the socket peer when
// the request did not pass through it.
func RealIP(r *http.Request) string {
	if ip, ok := r.Context().Value(clientIPKey{}).(string); ok {
		return ip
	}
	return remoteHost(r)
}

func forwardedIP(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	xff := r.Header.Get("X-Forwarded-For")
	if i := strings.IndexByte(xff, ','); i >= 0 {
		xff = xff[:i]
	}
	return strings.TrimSpace(xff)
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimiter is an in-memory sliding-window log limiter. Each key keeps the
// timestamps of its allowed requests; rejected requests are not recorded.
type RateLimiter struct {
	mu      sync.Mutex
	entries map[string][]time.Time
	now     func() time.Time
}

// Option configures a RateLimiter.
type Option func(*RateLimiter)

// WithClock overrides the limiter's time source.
func WithClock(now func() time.Time) Option {
	return func(rl *RateLimiter) { rl.now = now }
}

func NewRateLimiter(opts ...Option) *RateLimiter {
	rl := &RateLimiter{
		entries: make(map[string][]time.Time),
		now:     time.Now,
	}
	for _, o := range opts {
		o(rl)
	}
	return rl
}

// Allow reports whether a request for key fits within limit requests in the
// trailing window, recording it if so.
func (rl *RateLimiter) Allow(key string, limit int, window time.Duration) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	hits := prune(rl.entries[key], now.Add(-window))
	if len(hits) >= limit {
		rl.entries[key] = hits
		return false
	}
	rl.entries[key] = append(hits, now)
	return true
}

// prune drops timestamps at or before cutoff. Timestamps are in insertion
// order, so the survivors are a suffix.
func prune(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return hits
	}
	return append(hits[:0], hits[i:]...)
}

// Cleanup removes keys with no timestamps inside maxWindow.
func (rl *RateLimiter) Cleanup(maxWindow time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-maxWindow)
	for key, hits := range rl.entries {
		hits = prune(hits, cutoff)
		if len(hits) == 0 {
			delete(rl.entries, key)
			continue
		}
		rl.entries[key] = hits
	}
}

// Len returns the number of tracked keys.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.entries)
}

// RateLimit returns middleware that rate-limits requests by a key function.
func RateLimit(limiter *RateLimiter, keyFunc func(*http.Request) string, limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			if !limiter.Allow(key, limit, window) {
				http.Error(w, "Too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
