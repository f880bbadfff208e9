package token

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/redmonkez12/go-auth-api/internal/database"
)

var tables = map[Scope]string{
	ScopePasswordReset:     "password_resets",
	ScopeEmailVerification: "email_verifications",
}

// Repository is the Postgres Store for one scope.
type Repository struct {
	db    bun.IDB
	table string
}

func NewRepository(db bun.IDB, scope Scope) *Repository {
	table, ok := tables[scope]
	if !ok {
		panic(fmt.Sprintf("token: unknown scope %q", scope))
	}
	return &Repository{db: db, table: table + " AS t"}
}

func (r *Repository) Insert(ctx context.Context, rec *Record) error {
	_, err := r.db.NewInsert().
		Model(toRow(rec)).
		ModelTableExpr(r.table).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to insert token: %w", err)
	}
	return nil
}

func (r *Repository) Find(ctx context.Context, hash string) (*Record, error) {
	row := new(database.Token)
	err := r.db.NewSelect().
		Model(row).
		ModelTableExpr(r.table).
		Where("token_hash = ?", hash).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find token: %w", err)
	}
	return fromRow(row), nil
}

func (r *Repository) Take(ctx context.Context, hash string) (*Record, error) {
	row := new(database.Token)
	res, err := r.db.NewDelete().
		Model(row).
		ModelTableExpr(r.table).
		Where("token_hash = ?", hash).
		Returning("*").
		Exec(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to take token: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrNotFound
	}
	return fromRow(row), nil
}

func (r *Repository) DeleteForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	res, err := r.db.NewDelete().
		Model((*database.Token)(nil)).
		ModelTableExpr(r.table).
		Where("user_uuid = ?", userID).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to delete user tokens: %w", err)
	}
	return res.RowsAffected()
}

func (r *Repository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.NewDelete().
		Model((*database.Token)(nil)).
		ModelTableExpr(r.table).
		Where("expires_at <= ?", now).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired tokens: %w", err)
	}
	return res.RowsAffected()
}

func toRow(rec *Record) *database.Token {
	return &database.Token{
		ID:        rec.ID,
		UserID:    rec.UserID,
		TokenHash: rec.Hash,
		ExpiresAt: rec.ExpiresAt,
		CreatedAt: rec.CreatedAt,
	}
}

func fromRow(row *database.Token) *Record {
	return &Record{
		ID:        row.ID,
		UserID:    row.UserID,
		Hash:      row.TokenHash,
		ExpiresAt: row.ExpiresAt,
		CreatedAt: row.CreatedAt,
	}
}
