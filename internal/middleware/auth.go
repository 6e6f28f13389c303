package middleware

import (
	"crypto/subtle"
	"net/http"
)

// SecretHeader is the request header carrying the shared API secret.
const SecretHeader = "mj-api-secret"

// AuthSecret rejects requests whose secret header does not match the
// configured value. An empty configured secret disables the check, which
// is the expected mode for local development.
func AuthSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret != "" {
				got := r.Header.Get(SecretHeader)
				if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
					http.Error(w, "invalid api secret", http.StatusUnauthorized)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
