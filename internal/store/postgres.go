// Package store implements the credential store used by the auth flows.
package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/redmonkez12/go-auth-api/internal/auth"
	"github.com/redmonkez12/go-auth-api/internal/token"
	"github.com/redmonkez12/go-auth-api/internal/user"
)

var scopes = []token.Scope{token.ScopePasswordReset, token.ScopeEmailVerification}

// Postgres is the bun-backed credential store. Inside WithTx every
// repository is bound to the transaction.
type Postgres struct {
	db     bun.IDB
	users  *user.Repository
	tokens map[token.Scope]*token.Repository
}

func NewPostgres(db bun.IDB) *Postgres {
	p := &Postgres{
		db:     db,
		users:  user.NewRepository(db),
		tokens: make(map[token.Scope]*token.Repository, len(scopes)),
	}
	for _, scope := range scopes {
		p.tokens[scope] = token.NewRepository(db, scope)
	}
	return p
}

func (p *Postgres) FindUserByEmail(ctx context.Context, email string) (*user.User, error) {
	return p.users.GetByEmail(ctx, email)
}

func (p *Postgres) FindUserByID(ctx context.Context, id uuid.UUID) (*user.User, error) {
	return p.users.GetByID(ctx, id)
}

func (p *Postgres) InsertUser(ctx context.Context, u *user.User) (*user.User, error) {
	return p.users.Create(ctx, u)
}

func (p *Postgres) UpdatePassword(ctx context.Context, userID uuid.UUID, passwordHash string) error {
	return p.users.UpdatePassword(ctx, userID, passwordHash)
}

func (p *Postgres) MarkEmailVerified(ctx context.Context, userID uuid.UUID, at time.Time) error {
	return p.users.MarkEmailVerified(ctx, userID, at)
}

func (p *Postgres) LockUser(ctx context.Context, userID uuid.UUID) error {
	return p.users.LockByID(ctx, userID)
}

func (p *Postgres) Tokens(scope token.Scope) token.Store {
	return p.tokens[scope]
}

func (p *Postgres) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	var total int64
	for _, scope := range scopes {
		n, err := p.tokens[scope].DeleteExpired(ctx, now)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// WithTx runs fn in a transaction. Nested calls run in a savepoint of the
// outer transaction.
func (p *Postgres) WithTx(ctx context.Context, fn func(tx auth.CredentialStore) error) error {
	return p.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		return fn(NewPostgres(tx))
	})
}
