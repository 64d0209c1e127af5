package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/animus-labs/release-registry/internal/platform/httpserver"
)

// Middleware rejects requests whose caller cannot be authenticated or lacks
// RequiredRole. A nil Authenticator lets every request through.
type Middleware struct {
	Logger        *slog.Logger
	Authenticator Authenticator
	RequiredRole  string
}

func (m Middleware) Wrap(next http.Handler) http.Handler {
	if m.Authenticator == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID, _ := httpserver.RequestIDFromContext(r.Context())
		identity, err := m.Authenticator.Authenticate(r.Context(), r)
		if err != nil {
			if m.Logger != nil {
				m.Logger.Warn("auth denied", "request_id", requestID, "path", r.URL.Path, "error", err)
			}
			if errors.Is(err, ErrUnauthenticated) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="releases"`)
				httpserver.WriteError(w, r, http.StatusUnauthorized, "unauthenticated")
				return
			}
			httpserver.WriteError(w, r, http.StatusInternalServerError, "internal_error")
			return
		}
		if m.RequiredRole != "" && !identity.HasRole(m.RequiredRole) {
			if m.Logger != nil {
				m.Logger.Warn("auth denied", "request_id", requestID, "path", r.URL.Path, "subject", identity.Subject, "error", ErrForbidden)
			}
			httpserver.WriteError(w, r, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}
