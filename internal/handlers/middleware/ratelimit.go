package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nkiryanov/homestay/internal/handlers/render"
	"github.com/nkiryanov/homestay/internal/service/ratelimit"
)

type limiter interface {
	Allow(ctx context.Context, policy ratelimit.Policy, identity string) (ratelimit.Result, error)
	Now() time.Time
}

type rateLimitObserver interface {
	RateLimited(policy string)
}

type warnLogger interface {
	Warn(msg string, args ...any)
}

// RateLimit applies policy keyed by client IP.
// Store failure lets the request through: counters are best effort, availability is not.
func RateLimit(l limiter, policy ratelimit.Policy, observer rateLimitObserver, log warnLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := l.Allow(r.Context(), policy, ClientIP(r))
			if err != nil {
				log.Warn("Rate limit check failed", "error", err, "policy", policy.Name)
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

			if !res.Allowed {
				observer.RateLimited(policy.Name)
				h.Set("Retry-After", strconv.Itoa(res.RetryAfter(l.Now())))
				render.ServiceError(w, "Too many requests", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns host of the connection address.
// Requests that came through trusted proxy have it rewritten by RealIP.
func ClientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if addr == "" {
		return "unknown"
	}

	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		return host
	}

	return addr
}
