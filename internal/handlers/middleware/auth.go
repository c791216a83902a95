package middleware

import (
	"net/http"

	"github.com/nkiryanov/homestay/internal/handlers/render"
	"github.com/nkiryanov/homestay/internal/handlers/userctx"
	"github.com/nkiryanov/homestay/internal/models"
)

// Single message for every authentication failure, so clients cannot tell missing from expired
const unauthorizedMessage = "Invalid or expired token"

type authenticator interface {
	Authenticate(r *http.Request) (models.Principal, error)
}

// Auth puts verified principal to request context or rejects request with 401
func Auth(a authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := a.Authenticate(r)
			if err != nil {
				render.ServiceError(w, unauthorizedMessage, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(userctx.New(r.Context(), p)))
		})
	}
}

// Admin rejects non admin principals with 403.
// Must run after Auth: request without principal is unauthenticated and gets 401.
func Admin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, unauthorizedMessage, http.StatusUnauthorized)
			return
		}
		if !p.IsAdmin() {
			render.ServiceError(w, "Admin role required", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}
