package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// idleTTL is how long an unused caller bucket is kept.
const idleTTL = 10 * time.Minute

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per caller.
type RateLimiter struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

// NewRateLimiter allows perSecond requests per caller with bursts up to burst.
// A zero perSecond disables limiting.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		limit:   rate.Limit(perSecond),
		burst:   max(burst, 1),
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// Allow reports whether key may make one more request now.
func (l *RateLimiter) Allow(key string) bool {
	if l.limit <= 0 {
		return true
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > idleTTL {
		for k, b := range l.buckets {
			if now.Sub(b.lastSeen) > idleTTL {
				delete(l.buckets, k)
			}
		}
		l.lastSweep = now
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// Middleware limits authenticated callers by id and everyone else by address.
func (l *RateLimiter) Middleware(deny Deny) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := CallerID(r)
			if key == "" {
				key = "addr:" + r.RemoteAddr
			}
			if !l.Allow(key) {
				w.Header().Set("Retry-After", strconv.Itoa(max(1, int(1/float64(l.limit)))))
				deny(w, r, http.StatusTooManyRequests, "rate_limited", "Too many requests, slow down")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
