package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/hookline/gateway/internal/httpresp"
)

// VerifyBearerToken reports whether the Authorization header's bearer token
// matches expectedSecret. Both sides are compared as SHA-256 digests via a
// constant-time equality check, so the comparison's timing never leaks how
// many leading bytes of the secret the caller guessed correctly.
func VerifyBearerToken(authHeader, expectedSecret string) bool {
	got := sha256.Sum256([]byte(authHeader))
	want := sha256.Sum256([]byte("Bearer " + expectedSecret))
	return subtle.ConstantTimeCompare(got[:], want[:]) == 1
}

// RequireBearer is HTTP middleware enforcing VerifyBearerToken against the
// configured shared secret, writing a JSON {"error":"unauthorized"} body on
// failure.
func RequireBearer(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !VerifyBearerToken(r.Header.Get("Authorization"), secret) {
				httpresp.RespondError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// BearerTokenFromHeader extracts the raw token from a "Bearer <token>"
// Authorization header, or "" if the header isn't in that form.
func BearerTokenFromHeader(authHeader string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(authHeader, prefix) {
		return ""
	}
	return strings.TrimPrefix(authHeader, prefix)
}
