package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/nkiryanov/homestay/internal/handlers/render"
)

type errorLogger interface {
	Error(msg string, args ...any)
}

// Recoverer turns a panic into 500 response and logs it with the stack
func Recoverer(l errorLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				recovered := recover()
				if recovered == nil {
					return
				}
				if recovered == http.ErrAbortHandler {
					panic(recovered)
				}

				l.Error("panic recovered", "error", fmt.Sprintf("%v", recovered), "path", r.URL.Path, "request_id", chimw.GetReqID(r.Context()), "stack", string(debug.Stack()))
				render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
