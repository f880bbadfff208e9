package database

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// User is the row stored in the users table.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID             uuid.UUID  `bun:"uuid,pk,type:uuid,default:gen_random_uuid()"`
	Email          string     `bun:"email,notnull,unique"`
	EmailVerified  *time.Time `bun:"email_verified"`
	PasswordHash   string     `bun:"password,notnull"`
	FirstName      *string    `bun:"first_name"`
	LastName       *string    `bun:"last_name"`
	TermsOfService *time.Time `bun:"terms_of_service"`
	PrivacyPolicy  *time.Time `bun:"privacy_policy"`
	Flags          *string    `bun:"flags"`
	CreatedAt      time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt      *time.Time `bun:"updated_at"`
}

// Token is a row of password_resets or email_verifications. Both tables share
// one shape; queries pick the table with ModelTableExpr.
type Token struct {
	bun.BaseModel `bun:"alias:t"`

	ID        uuid.UUID `bun:"uuid,pk,type:uuid"`
	UserID    uuid.UUID `bun:"user_uuid,notnull,type:uuid"`
	TokenHash string    `bun:"token_hash,notnull"`
	ExpiresAt time.Time `bun:"expires_at,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}
