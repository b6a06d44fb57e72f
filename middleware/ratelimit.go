package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"lyrics-cache-go/logcolors"
	"lyrics-cache-go/stats"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter keeps one token bucket per client IP
type IPRateLimiter struct {
	ips   map[string]*ipLimiter
	mu    sync.Mutex
	rate  rate.Limit
	burst int
	now   func() time.Time
}

// NewIPRateLimiter creates a limiter allowing r requests per second per IP
// with the given burst
func NewIPRateLimiter(r rate.Limit, burst int) *IPRateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &IPRateLimiter{
		ips:   make(map[string]*ipLimiter),
		rate:  r,
		burst: burst,
		now:   time.Now,
	}
}

// Limit returns the burst size, reported as X-RateLimit-Limit
func (i *IPRateLimiter) Limit() int {
	return i.burst
}

// GetLimiter returns the bucket for ip, creating it on first use
func (i *IPRateLimiter) GetLimiter(ip string) *rate.Limiter {
	i.mu.Lock()
	defer i.mu.Unlock()

	entry, exists := i.ips[ip]
	if !exists {
		entry = &ipLimiter{limiter: rate.NewLimiter(i.rate, i.burst)}
		i.ips[ip] = entry
	}
	entry.lastSeen = i.now()
	return entry.limiter
}

// Tokens returns the whole tokens left for ip
func (i *IPRateLimiter) Tokens(ip string) int {
	return int(math.Floor(i.GetLimiter(ip).Tokens()))
}

// Cleanup forgets clients idle for longer than maxIdle and returns how many
// were removed
func (i *IPRateLimiter) Cleanup(maxIdle time.Duration) int {
	i.mu.Lock()
	defer i.mu.Unlock()

	cutoff := i.now().Add(-maxIdle)
	removed := 0
	for ip, entry := range i.ips {
		if entry.lastSeen.Before(cutoff) {
			delete(i.ips, ip)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked clients
func (i *IPRateLimiter) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.ips)
}

// clientIP strips the port from RemoteAddr
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimitMiddleware rejects requests over the per-IP budget with 429
func RateLimitMiddleware(limiter *IPRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			l := limiter.GetLimiter(ip)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.Limit()))

			if !l.Allow() {
				stats.Get().RecordRateLimit("exceeded")
				log.Warnf("%s IP %s exceeded rate limit", logcolors.LogRateLimit, ip)
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("Retry-After", "1")
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}

			stats.Get().RecordRateLimit("allowed")
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(math.Floor(l.Tokens()))))
			next.ServeHTTP(w, r)
		})
	}
}
