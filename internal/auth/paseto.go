package auth

import (
	"fmt"
	"time"

	"aidanwoods.dev/go-paseto"
	"github.com/google/uuid"
)

// PasetoAuthority issues PASETO v4.local sessions
// (symmetric encryption with XChaCha20-Poly1305).
type PasetoAuthority struct {
	symmetricKey paseto.V4SymmetricKey
	ttl          time.Duration
	now          func() time.Time
}

func NewPasetoAuthority(symmetricKey []byte, ttl time.Duration) (*PasetoAuthority, error) {
	if len(symmetricKey) != 32 {
		return nil, fmt.Errorf("symmetric key must be exactly 32 bytes, got %d", len(symmetricKey))
	}

	key, err := paseto.V4SymmetricKeyFromBytes(symmetricKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create symmetric key: %w", err)
	}

	return &PasetoAuthority{symmetricKey: key, ttl: ttl, now: time.Now}, nil
}

func (a *PasetoAuthority) Issue(userID uuid.UUID) (string, error) {
	now := a.now()

	token := paseto.NewToken()
	token.SetIssuedAt(now)
	token.SetExpiration(now.Add(a.ttl))
	token.SetSubject(userID.String())
	token.SetString("userId", userID.String())

	return token.V4Encrypt(a.symmetricKey, nil), nil
}

// Validate decrypts first and checks expiry itself, so an expired token is
// only reported as expired when it was genuinely issued with this key.
func (a *PasetoAuthority) Validate(tokenStr string) (uuid.UUID, error) {
	parser := paseto.NewParserWithoutExpiryCheck()

	token, err := parser.ParseV4Local(a.symmetricKey, tokenStr, nil)
	if err != nil {
		return uuid.Nil, ErrSessionMalformed
	}

	expiresAt, err := token.GetExpiration()
	if err != nil {
		return uuid.Nil, ErrSessionMalformed
	}
	if !a.now().Before(expiresAt) {
		return uuid.Nil, ErrSessionExpired
	}

	raw, err := token.GetString("userId")
	if err != nil {
		return uuid.Nil, ErrSessionMalformed
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, ErrSessionMalformed
	}

	return userID, nil
}
