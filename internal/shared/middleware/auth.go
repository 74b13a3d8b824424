package middleware

import (
	"log/slog"
	"net/http"

	"github.com/emiliopalmerini/mltrackr/internal/auth"
)

// TokenVerifier resolves a bearer token to a caller id.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// Authenticate requires a valid bearer token and stores its subject as the caller.
func Authenticate(v TokenVerifier, log *slog.Logger, deny Deny) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := auth.BearerToken(r.Header.Get("Authorization"))
			if !ok {
				deny(w, r, http.StatusUnauthorized, "unauthenticated", "No token, authorization denied")
				return
			}
			caller, err := v.Verify(token)
			if err != nil {
				log.Debug("rejected token", slog.String("error", err.Error()))
				deny(w, r, http.StatusUnauthorized, "unauthenticated", "Token is not valid")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}
