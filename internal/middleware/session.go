package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"oauth-service/internal/tokens"
)

type contextKey string

const subjectKey contextKey = "subject"

// Subject returns the authenticated end-user id placed in the context by
// RequireUser, or "" when the request carried no session.
func Subject(ctx context.Context) string {
	if s, ok := ctx.Value(subjectKey).(string); ok {
		return s
	}
	return ""
}

// RequireUser gates user-facing endpoints (consent approval, device
// verification) behind an authenticated end-user session presented as a
// bearer access token.
func RequireUser(validator *tokens.Validator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				unauthorized(w)
				return
			}

			claims, err := validator.Validate(r.Context(), strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				logger.Debug("Session token validation failed", zap.Error(err))
				unauthorized(w)
				return
			}
			if claims.Subject == "" {
				unauthorized(w)
				return
			}

			ctx := context.WithValue(r.Context(), subjectKey, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{
		"error":             "invalid_token",
		"error_description": "an authenticated end-user session is required",
	})
}
