package auth

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/redmonkez12/go-auth-api/internal/token"
	"github.com/redmonkez12/go-auth-api/internal/user"
)

// SessionAuthority issues and validates stateless session tokens.
// Implementations include JWTAuthority (HS256) and PasetoAuthority (PASETO v4.local).
// Validate returns ErrSessionMalformed or ErrSessionExpired on failure.
type SessionAuthority interface {
	Issue(userID uuid.UUID) (string, error)
	Validate(token string) (uuid.UUID, error)
}

// ChallengeVerifier checks a bot-mitigation token with the remote provider.
type ChallengeVerifier interface {
	Verify(ctx context.Context, challengeToken string) (bool, error)
}

// EmailService delivers the links that carry reset and verification tokens.
type EmailService interface {
	SendVerificationEmail(ctx context.Context, toEmail, token string) error
	SendPasswordResetEmail(ctx context.Context, toEmail, token string) error
}

// FlowRecorder counts flow outcomes.
type FlowRecorder interface {
	RecordFlow(flow, outcome string)
}

// CredentialStore persists users and their reset and verification tokens.
// Lookups return user.ErrNotFound or token.ErrNotFound; InsertUser returns
// user.ErrDuplicateEmail when the address is taken.
type CredentialStore interface {
	FindUserByEmail(ctx context.Context, email string) (*user.User, error)
	FindUserByID(ctx context.Context, id uuid.UUID) (*user.User, error)
	InsertUser(ctx context.Context, u *user.User) (*user.User, error)
	UpdatePassword(ctx context.Context, userID uuid.UUID, passwordHash string) error
	MarkEmailVerified(ctx context.Context, userID uuid.UUID, at time.Time) error
	// LockUser serializes concurrent transactions on one user until commit.
	LockUser(ctx context.Context, userID uuid.UUID) error
	Tokens(scope token.Scope) token.Store
	DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error)
	// WithTx runs fn in a transaction. fn's store sees the transaction; a
	// returned error rolls everything back.
	WithTx(ctx context.Context, fn func(tx CredentialStore) error) error
}
