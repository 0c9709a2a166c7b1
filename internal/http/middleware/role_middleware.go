package middleware

import (
	"net/http"

	"github.com/sessioncore/token-lifecycle-service/internal/http/response"
)

// RequireRole gates a route on a role claim stamped into the access token.
// Role resolution happens at token issue time in the user directory; this
// check only reads the claim.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing access token", nil)
				return
			}
			for _, have := range claims.Roles {
				if have == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			response.Error(w, r, http.StatusForbidden, "FORBIDDEN", "insufficient role", nil)
		})
	}
}
