// Package middleware provides HTTP guards built on access token validation.
// It translates the Authorization header into engine calls and injects the
// validated claims into the request context; it never makes authorization
// decisions of its own.
package middleware

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/openfeedhq/authcore"
)

type claimsContextKey struct{}

// ClaimsFromContext returns the claims a guard stored for this request.
func ClaimsFromContext(ctx context.Context) (authcore.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(authcore.Claims)
	return claims, ok
}

// RequireAuth rejects requests without a valid bearer access token. The
// check is pure signature verification; no store is consulted, so a revoked
// session's access token stays valid until it expires.
func RequireAuth(engine *authcore.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := engine.ValidateAccess(token)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole is RequireAuth plus a role check on the validated claims.
func RequireRole(engine *authcore.Engine, role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		guarded := RequireAuth(engine)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, _ := ClaimsFromContext(r.Context())
			if !slices.Contains(claims.Roles, role) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		}))
		return guarded
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}
	token := value[len(bearer):]
	if token == "" {
		return "", false
	}
	return token, true
}
