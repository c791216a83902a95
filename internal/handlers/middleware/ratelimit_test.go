package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/homestay/internal/logger"
	"github.com/nkiryanov/homestay/internal/service/ratelimit"
	"github.com/nkiryanov/homestay/internal/testutil"
)

type countingObserver struct {
	policies []string
}

func (o *countingObserver) RateLimited(policy string) {
	o.policies = append(o.policies, policy)
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, ratelimit.Policy, string) (ratelimit.Result, error) {
	return ratelimit.Result{}, errors.New("store is down")
}

func (failingLimiter) Now() time.Time { return time.Now() }

func TestRateLimit(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	policy := ratelimit.Policy{Name: "login", Limit: 2, Window: time.Minute}

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	doRequest := func(h http.Handler, ip string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
		r.RemoteAddr = ip + ":51234"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w
	}

	t.Run("allow under limit then reject", func(t *testing.T) {
		limiter := ratelimit.New(ratelimit.NewMemoryStore(), nil, ratelimit.WithClock(func() time.Time { return now }))
		observer := &countingObserver{}
		h := RateLimit(limiter, policy, observer, testutil.NewRecordingLogger())(ok)

		w := doRequest(h, "10.0.0.1")
		require.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))
		assert.Equal(t, "1749556860", w.Header().Get("X-RateLimit-Reset"))

		w = doRequest(h, "10.0.0.1")
		require.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

		w = doRequest(h, "10.0.0.1")
		require.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "60", w.Header().Get("Retry-After"))
		assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
		assert.JSONEq(t, `{"error":"service_error","message":"Too many requests"}`, w.Body.String())
		assert.Equal(t, []string{"login"}, observer.policies)
	})

	t.Run("clients have own counters", func(t *testing.T) {
		limiter := ratelimit.New(ratelimit.NewMemoryStore(), nil, ratelimit.WithClock(func() time.Time { return now }))
		h := RateLimit(limiter, policy, &countingObserver{}, testutil.NewRecordingLogger())(ok)

		doRequest(h, "10.0.0.1")
		doRequest(h, "10.0.0.1")

		w := doRequest(h, "10.0.0.2")
		require.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("forwarded header does not split counter", func(t *testing.T) {
		limiter := ratelimit.New(ratelimit.NewMemoryStore(), nil, ratelimit.WithClock(func() time.Time { return now }))
		h := RealIP(nil)(RateLimit(limiter, ratelimit.LoginPolicy, &countingObserver{}, testutil.NewRecordingLogger())(ok))

		send := func(forwarded string) int {
			r := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
			r.RemoteAddr = "203.0.113.7:51234"
			r.Header.Set("X-Forwarded-For", forwarded)
			r.Header.Set("X-Real-IP", forwarded)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			return w.Code
		}

		for i := range ratelimit.LoginPolicy.Limit {
			require.Equal(t, http.StatusNoContent, send(fmt.Sprintf("198.51.100.%d", i+1)))
		}

		require.Equal(t, http.StatusTooManyRequests, send("198.51.100.200"), "every request comes from the same peer")
	})

	t.Run("store failure lets request through", func(t *testing.T) {
		log := testutil.NewRecordingLogger()
		h := RateLimit(failingLimiter{}, policy, &countingObserver{}, log)(ok)

		w := doRequest(h, "10.0.0.1")
		require.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
		require.Len(t, log.Entries(logger.LevelWarn), 1)
	})
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		want       string
	}{
		{"remote addr", nil, "10.0.0.9:1000", "10.0.0.9"},
		{"remote addr without port", nil, "10.0.0.9", "10.0.0.9"},
		{"ipv6 remote addr", nil, "[2001:db8::1]:1000", "2001:db8::1"},
		{"forwarded header ignored", map[string]string{"X-Forwarded-For": "203.0.113.1"}, "10.0.0.9:1000", "10.0.0.9"},
		{"real ip header ignored", map[string]string{"X-Real-IP": "203.0.113.2"}, "10.0.0.9:1000", "10.0.0.9"},
		{"nothing known", nil, "", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}

			assert.Equal(t, tt.want, ClientIP(r))
		})
	}
}
