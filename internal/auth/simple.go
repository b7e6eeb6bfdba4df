package auth

import (
	"crypto/subtle"
	"net/http"
	"os"
	"strings"
)

// TokenEnv names the variable Middleware reads the API token from.
const TokenEnv = "VOLLOAD_API_TOKEN"

// health and metrics endpoints are served without a token.
var openPaths = map[string]bool{"/healthz": true, "/readyz": true, "/metrics": true}

// Middleware guards everything but the open paths with the token in TokenEnv.
func Middleware(next http.Handler) http.Handler {
	return Bearer(os.Getenv(TokenEnv))(next)
}

// Bearer expects "Authorization: Bearer <token>". An empty token rejects
// every guarded request.
func Bearer(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if openPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			authz := r.Header.Get("Authorization")
			if !strings.HasPrefix(authz, "Bearer ") {
				http.Error(w, "missing API token", http.StatusUnauthorized)
				return
			}

			got := strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
			if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				http.Error(w, "invalid API token", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
