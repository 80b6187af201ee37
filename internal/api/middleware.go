/**
 * @description
 * This file contains custom middleware for the HTTP router. Middlewares are used
 * to process requests before they reach the final handler, perfect for tasks like
 * authentication, logging, or adding context to a request.
 *
 * @dependencies
 * - context, net/http, strings: Standard Go libraries.
 * - internal/app: Session validation.
 */

package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/JoonasMagi/jmbpank/internal/app"
)

// sessionContextKey is a custom type for context keys to avoid collisions.
type sessionContextKey string

const (
	sessionUserIDKey sessionContextKey = "sessionUserID"
	sessionTokenKey  sessionContextKey = "sessionToken"
)

// SessionAuthMiddleware validates the Bearer session token and stores the
// authenticated user id and the raw token on the request context.
func SessionAuthMiddleware(sessions *app.SessionManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeAuthError(w, "Authorization header required")
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				writeAuthError(w, "Invalid Authorization header format")
				return
			}

			userID, err := sessions.Validate(tokenString)
			if err != nil {
				writeAuthError(w, "Session is invalid or expired")
				return
			}

			ctx := context.WithValue(r.Context(), sessionUserIDKey, userID)
			ctx = context.WithValue(ctx, sessionTokenKey, tokenString)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetSessionUserID retrieves the authenticated user's id from the context.
func GetSessionUserID(ctx context.Context) (uuid.UUID, bool) {
	userID, ok := ctx.Value(sessionUserIDKey).(uuid.UUID)
	return userID, ok
}

// GetSessionToken retrieves the raw session token from the context.
func GetSessionToken(ctx context.Context) (string, bool) {
	tokenString, ok := ctx.Value(sessionTokenKey).(string)
	return tokenString, ok
}

func writeAuthError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"code":"` + CodeAuthRequired + `","error":"` + message + `"}`))
}
