// Package token issues and consumes single-use secrets for password reset
// and email verification. Only the SHA-256 digest of a value is stored; the
// raw value travels in the email link and nowhere else.
package token

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

// Scope separates password reset tokens from email verification tokens.
type Scope string

const (
	ScopePasswordReset     Scope = "password_reset"
	ScopeEmailVerification Scope = "email_verification"
)

const valueBytes = 32

var (
	ErrNotFound = errors.New("token not found")
	ErrExpired  = errors.New("token expired")
)

// Record is a stored token.
type Record struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Hash      string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired reports whether the token is no longer usable at now.
// A token expiring exactly at now is expired.
func (r *Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Store persists the tokens of one scope.
type Store interface {
	Insert(ctx context.Context, rec *Record) error
	Find(ctx context.Context, hash string) (*Record, error)
	// Take deletes the token and returns it in one statement, so concurrent
	// callers cannot both receive the same record.
	Take(ctx context.Context, hash string) (*Record, error)
	DeleteForUser(ctx context.Context, userID uuid.UUID) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Hash returns the stored form of a raw token value.
func Hash(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

func generate(r io.Reader) (string, error) {
	b := make([]byte, valueBytes)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Issued is a freshly minted token. Value is the only copy of the secret.
type Issued struct {
	Value     string
	ExpiresAt time.Time
}

// Issuer mints and consumes tokens with a fixed lifetime.
type Issuer struct {
	ttl     time.Duration
	now     func() time.Time
	entropy io.Reader
}

type Option func(*Issuer)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) { i.now = now }
}

// WithEntropy overrides crypto/rand.
func WithEntropy(r io.Reader) Option {
	return func(i *Issuer) { i.entropy = r }
}

func NewIssuer(ttl time.Duration, opts ...Option) *Issuer {
	i := &Issuer{
		ttl:     ttl,
		now:     time.Now,
		entropy: rand.Reader,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// TTL returns the lifetime of issued tokens.
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Issue deletes every token userID holds in store and inserts a new one.
// Callers run it inside a transaction that holds the user's row lock, which
// leaves at most one live token per user.
func (i *Issuer) Issue(ctx context.Context, store Store, userID uuid.UUID) (*Issued, error) {
	value, err := generate(i.entropy)
	if err != nil {
		return nil, err
	}

	if _, err := store.DeleteForUser(ctx, userID); err != nil {
		return nil, fmt.Errorf("failed to delete previous tokens: %w", err)
	}

	now := i.now()
	rec := &Record{
		ID:        uuid.New(),
		UserID:    userID,
		Hash:      Hash(value),
		ExpiresAt: now.Add(i.ttl),
		CreatedAt: now,
	}
	if err := store.Insert(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to store token: %w", err)
	}

	return &Issued{Value: value, ExpiresAt: rec.ExpiresAt}, nil
}

// Consume removes the token for value and returns it. An expired token is
// removed too and reported as ErrExpired along with the record.
func (i *Issuer) Consume(ctx context.Context, store Store, value string) (*Record, error) {
	if value == "" {
		return nil, ErrNotFound
	}

	rec, err := store.Take(ctx, Hash(value))
	if err != nil {
		return nil, err
	}

	if rec.Expired(i.now()) {
		return rec, ErrExpired
	}

	return rec, nil
}
