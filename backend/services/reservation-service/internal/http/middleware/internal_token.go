package middleware

import (
	"crypto/subtle"
	"net/http"
)

// InternalToken guards service-to-service routes with a shared token. An empty
// token leaves the routes open.
func InternalToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("X-Internal-Token")
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				unauthorized(w, r, "invalid internal token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
