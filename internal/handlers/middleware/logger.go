package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

type requestLogger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Logger logs every request once it is served; server errors are logged at error level.
// Query string is left out: payment callbacks carry signed parameters in it.
func Logger(l requestLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			route := ""
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				route = rctx.RoutePattern()
			}

			args := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"route", route,
				"request_id", chimw.GetReqID(r.Context()),
				"client_ip", ClientIP(r),
				"duration", time.Since(start),
				"status", status,
				"size", ww.BytesWritten(),
			}

			if status >= http.StatusInternalServerError {
				l.Error("got HTTP request", args...)
				return
			}
			l.Info("got HTTP request", args...)
		})
	}
}
