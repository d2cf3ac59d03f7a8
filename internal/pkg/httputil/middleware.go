package httputil

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/relaydesk/inbox/internal/pkg/ctxlog"
)

// SharedSecretMiddleware rejects requests that do not carry "Authorization: Bearer <secret>".
// An empty secret disables the check.
func SharedSecretMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
				ctxlog.FromContext(r.Context()).Warn("rejected request with invalid shared secret",
					"path", r.URL.Path,
				)
				Error(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", false
	}

	return parts[1], true
}
