package user

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID              uuid.UUID  `json:"uuid"`
	Email           string     `json:"email"`
	PasswordHash    string     `json:"-"` // Never expose password hash in JSON
	EmailVerifiedAt *time.Time `json:"email_verified"`
	FirstName       *string    `json:"first_name"`
	LastName        *string    `json:"last_name"`
	TermsOfService  *time.Time `json:"terms_of_service"`
	PrivacyPolicy   *time.Time `json:"privacy_policy"`
	Flags           *string    `json:"flags"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       *time.Time `json:"updated_at"`
}

// IsVerified reports whether the email address has been confirmed.
func (u *User) IsVerified() bool {
	return u.EmailVerifiedAt != nil
}

// Clone returns a deep copy.
func (u *User) Clone() *User {
	c := *u
	c.EmailVerifiedAt = cloneTime(u.EmailVerifiedAt)
	c.TermsOfService = cloneTime(u.TermsOfService)
	c.PrivacyPolicy = cloneTime(u.PrivacyPolicy)
	c.UpdatedAt = cloneTime(u.UpdatedAt)
	c.FirstName = cloneString(u.FirstName)
	c.LastName = cloneString(u.LastName)
	c.Flags = cloneString(u.Flags)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
