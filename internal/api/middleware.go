/**
 * @description
 * This file contains custom middleware for the HTTP router. The internal API
 * group that the settlement worker calls back into is protected by HTTP basic
 * auth with constant-time credential comparison.
 *
 * @dependencies
 * - crypto/subtle, log, net/http: Standard Go libraries.
 */

package api

import (
	"crypto/subtle"
	"log"
	"net/http"
)

// BasicAuthMiddleware creates a middleware that guards the internal API group
// with the shared worker credentials.
func BasicAuthMiddleware(username, password string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if username == "" || password == "" {
				log.Printf("level=error component=api msg=\"internal auth credentials are not configured\" path=%s", r.URL.Path)
				http.Error(w, "server auth configuration is missing", http.StatusInternalServerError)
				return
			}

			user, pass, ok := r.BasicAuth()
			if !ok || !secureEqual(user, username) || !secureEqual(pass, password) {
				log.Printf("level=warn component=api msg=\"unauthorized internal request\" method=%s path=%s", r.Method, r.URL.Path)
				w.Header().Set("WWW-Authenticate", `Basic realm="internal"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func secureEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
