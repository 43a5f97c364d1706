package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// HeaderAPIKey carries the admin API key.
const HeaderAPIKey = "X-API-Key"

// HeaderProxyKey is accepted in place of HeaderAPIKey for MCP clients
// configured against the passthrough.
const HeaderProxyKey = "X-Proxy-Key"

// APIKey returns middleware that guards the admin API with a static key,
// accepted in X-API-Key, X-Proxy-Key or as a bearer token. An empty key
// disables the routes it guards.
func APIKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				writeError(w, http.StatusServiceUnavailable, "admin API disabled")
				return
			}
			got := r.Header.Get(HeaderAPIKey)
			if got == "" {
				got = r.Header.Get(HeaderProxyKey)
			}
			if got == "" {
				got = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid or missing API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
