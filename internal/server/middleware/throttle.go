package middleware

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// idleTTL is how long an unused per-client bucket is kept.
const idleTTL = 10 * time.Minute

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Throttle returns middleware applying an in-process token bucket per client
// IP: rps sustained, burst peak. A zero rps disables it.
func Throttle(rps float64, burst int) func(http.Handler) http.Handler {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst < 1 {
		burst = 1
	}

	var (
		mu      sync.Mutex
		buckets = make(map[string]*bucket)
		swept   = time.Now()
	)
	allow := func(ip string) bool {
		mu.Lock()
		defer mu.Unlock()
		now := time.Now()
		if now.Sub(swept) > idleTTL {
			for k, b := range buckets {
				if now.Sub(b.lastSeen) > idleTTL {
					delete(buckets, k)
				}
			}
			swept = now
		}
		b, ok := buckets[ip]
		if !ok {
			b = &bucket{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
			buckets[ip] = b
		}
		b.lastSeen = now
		return b.limiter.Allow()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !allow(clientIP(r)) {
				reject(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
