package middleware

import (
	"context"
	"net/http"
	"strings"

	"bankfeed/internal/shared/auth"
)

type ContextKey string

const (
	UserIDKey ContextKey = "user_id"
	EmailKey  ContextKey = "email"
)

// Auth validates the caller's JWT and stores the user id in the request
// context. The HttpOnly cookie is tried first; a missing or invalid
// cookie falls back to the bearer header, so a stale cookie never locks
// out an API caller with a valid token.
func Auth(jwt *auth.JWT) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var tokens []string

			if cookie, err := r.Cookie("access_token"); err == nil && cookie.Value != "" {
				tokens = append(tokens, cookie.Value)
			}
			if header := r.Header.Get("Authorization"); header != "" {
				parts := strings.SplitN(header, " ", 2)
				if len(parts) != 2 || parts[0] != "Bearer" {
					http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
					return
				}
				tokens = append(tokens, parts[1])
			}
			if len(tokens) == 0 {
				http.Error(w, "Authentication required", http.StatusUnauthorized)
				return
			}

			var claims *auth.JWTClaims
			var err error
			for _, token := range tokens {
				if claims, err = jwt.Validate(token); err == nil {
					break
				}
			}
			if err != nil {
				http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, claims.UserID)
			ctx = context.WithValue(ctx, EmailKey, claims.Email)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CallerID extracts the authenticated user id set by Auth.
func CallerID(r *http.Request) (int64, bool) {
	id, ok := r.Context().Value(UserIDKey).(int64)
	return id, ok
}
