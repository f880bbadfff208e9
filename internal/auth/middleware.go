package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/redmonkez12/go-auth-api/internal/httputil"
)

// ContextKey is a type for context keys to avoid collisions
type ContextKey string

const UserIDContextKey ContextKey = "user_id"

// SessionValidator resolves a session token to its user.
type SessionValidator interface {
	ValidateSession(token string) (uuid.UUID, error)
}

// Middleware handles authentication for protected routes
type Middleware struct {
	sessions SessionValidator
}

func NewMiddleware(sessions SessionValidator) *Middleware {
	return &Middleware{sessions: sessions}
}

// RequireAuth validates the session from the Authorization header, falling
// back to the session cookie.
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			httputil.RespondErrorWithCode(w, "Ungültiger Authorization-Header", httputil.CodeInvalidAuthHeader, http.StatusUnauthorized)
			return
		}
		if token == "" {
			token = SessionFromCookie(r)
		}
		if token == "" {
			httputil.RespondErrorWithCode(w, "Nicht authentifiziert", httputil.CodeUnauthenticated, http.StatusUnauthorized)
			return
		}

		userID, err := m.sessions.ValidateSession(token)
		if err != nil {
			if errors.Is(err, ErrSessionExpired) {
				httputil.RespondErrorWithCode(w, "Sitzung abgelaufen", httputil.CodeTokenExpired, http.StatusUnauthorized)
				return
			}
			httputil.RespondErrorWithCode(w, "Nicht authentifiziert", httputil.CodeUnauthenticated, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), UserIDContextKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetUserIDFromContext extracts the user ID from the request context
func GetUserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	userID, ok := ctx.Value(UserIDContextKey).(uuid.UUID)
	return userID, ok
}
