package auth

import (
	"errors"
	"strings"
)

var (
	ErrSessionMalformed = errors.New("session token is malformed")
	ErrSessionExpired   = errors.New("session token has expired")
)

// SessionCookieName carries the session token for browser clients.
const SessionCookieName = "auth_token"

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header value. ok is false when the header is present but not a bearer
// credential.
func bearerToken(header string) (token string, ok bool) {
	if header == "" {
		return "", true
	}
	scheme, value, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(value) == "" {
		return "", false
	}
	return strings.TrimSpace(value), true
}
