// Package middleware provides HTTP middleware for the API.
package middleware

import (
	"context"
	"net/http"

	"github.com/citric-ai/citron/internal/model"
	"github.com/citric-ai/citron/internal/store"
)

type contextKey string

const (
	// UserIDKey holds the authenticated user's ID in the request context.
	UserIDKey contextKey = "userID"

	userIDHeader = "X-User-ID"
)

// Auth resolves the requesting user. Without an identity provider the
// server runs in anonymous mode: an optional X-User-ID header selects
// a known user, otherwise every request maps to the seeded anonymous
// user.
func Auth(s *store.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := r.Header.Get(userIDHeader)
			if userID == "" {
				userID = model.AnonymousUserID
			}

			if _, err := s.GetUserByID(r.Context(), userID); err != nil {
				http.Error(w, `{"error":"unknown user"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserID extracts the authenticated user ID from the request context.
func UserID(ctx context.Context) string {
	if id, ok := ctx.Value(UserIDKey).(string); ok {
		return id
	}
	return ""
}
