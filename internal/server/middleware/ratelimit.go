package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/opinionbook/internal/domain"
)

// RateLimit caps each client IP at limit requests per window across every
// instance sharing limiter. When the limiter itself fails the request is let
// through and the failure logged.
func RateLimit(limiter domain.RateLimiter, limit int, window time.Duration, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, err := limiter.Allow(r.Context(), "api:"+clientIP(r), limit, window)
			switch {
			case err != nil:
				logger.WarnContext(r.Context(), "middleware: rate limiter unavailable", slog.String("error", err.Error()))
			case !ok:
				reject(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
