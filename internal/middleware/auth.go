package middleware

import (
	"net/http"
	"strings"

	"github.com/josh-kwaku/supportdesk-payments/internal/auth"
	"github.com/josh-kwaku/supportdesk-payments/internal/handler"
	"github.com/josh-kwaku/supportdesk-payments/internal/logging"
)

// Auth validates the bearer token and puts its claims on the request context.
func Auth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				handler.RespondAppError(w, handler.ErrMissingToken, nil)
				return
			}

			token, found := strings.CutPrefix(header, "Bearer ")
			if !found || token == "" {
				handler.RespondAppError(w, handler.ErrInvalidToken, nil)
				return
			}

			claims, err := auth.ValidateToken(token, secret)
			if err != nil {
				handler.RespondAppError(w, handler.ErrInvalidToken, nil)
				return
			}

			ctx := auth.ContextWithClaims(r.Context(), claims)
			ctx = logging.With(ctx, "user_id", claims.UserID, "tenant_id", claims.TenantID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin rejects callers without the admin capability. It must run
// after Auth.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.ClaimsFromContext(r.Context())
		if !ok {
			handler.RespondAppError(w, handler.ErrMissingToken, nil)
			return
		}
		if !claims.IsAdmin() {
			logging.FromContext(r.Context()).Warn("admin capability required", "path", r.URL.Path)
			handler.RespondAppError(w, handler.ErrForbidden, nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
