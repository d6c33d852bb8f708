// Package middleware provides HTTP middlewares for authentication,
// request logging and metrics.
package middleware

import (
	"context"
	"net/http"
)

type ctxKey string

const userKey ctxKey = "user"

// publicPaths are served without a client certificate.
var publicPaths = map[string]bool{
	"/api/register": true,
	"/metrics":      true,
}

// CertAuth is a middleware that enforces mutual TLS authentication.
//
// The Common Name of the verified client certificate is the user login and
// is stored in the request context. Registration and metrics are reachable
// without a certificate.
func CertAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		if r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
			http.Error(w, "no client certificate provided", http.StatusUnauthorized)
			return
		}
		cert := r.TLS.PeerCertificates[0]
		if cert.Subject.CommonName == "" {
			http.Error(w, "client certificate has no common name", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), cert.Subject.CommonName)))
	})
}

// WithUser returns ctx carrying login as the authenticated user.
func WithUser(ctx context.Context, login string) context.Context {
	return context.WithValue(ctx, userKey, login)
}

// GetUserIDFromContext extracts the user login (Common Name of the client
// certificate) from the request context. Returns an empty string if not found.
func GetUserIDFromContext(ctx context.Context) string {
	val := ctx.Value(userKey)
	if s, ok := val.(string); ok {
		return s
	}
	return ""
}
