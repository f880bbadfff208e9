package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/redmonkez12/go-auth-api/internal/logging"
	"github.com/redmonkez12/go-auth-api/internal/token"
	"github.com/redmonkez12/go-auth-api/internal/user"
)

// Flow names used for metrics and logs.
const (
	FlowRegister         = "register"
	FlowLogin            = "login"
	FlowRequestReset     = "password_reset_request"
	FlowCompleteReset    = "password_reset_complete"
	FlowSendVerification = "verification_send"
	FlowVerifyEmail      = "verification_verify"
)

// dummyPassword is hashed once and verified against when the email is
// unknown, so a failed login costs the same either way.
const dummyPassword = "timing-equalization-password"

// RegisterInput is the registration request.
type RegisterInput struct {
	Email          string
	Password       string
	ChallengeToken string
	FirstName      *string
	LastName       *string
	TermsOfService bool
	PrivacyPolicy  bool
}

// LoginInput is the login request.
type LoginInput struct {
	Email          string
	Password       string
	ChallengeToken string
}

// LoginResult is the authenticated user and their session token.
type LoginResult struct {
	User  *user.User `json:"user"`
	Token string     `json:"token"`
}

// Service orchestrates registration, login, password reset and email
// verification.
type Service struct {
	store     CredentialStore
	hasher    PasswordHasher
	sessions  SessionAuthority
	challenge ChallengeVerifier
	issuer    *token.Issuer
	email     EmailService
	recorder  FlowRecorder
	logger    *logging.Logger
	now       func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

type ServiceOption func(*Service)

// WithRecorder counts flow outcomes.
func WithRecorder(r FlowRecorder) ServiceOption {
	return func(s *Service) { s.recorder = r }
}

// WithClock overrides time.Now for verification timestamps.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

func NewService(
	store CredentialStore,
	hasher PasswordHasher,
	sessions SessionAuthority,
	challenge ChallengeVerifier,
	issuer *token.Issuer,
	email EmailService,
	logger *logging.Logger,
	opts ...ServiceOption,
) *Service {
	s := &Service{
		store:     store,
		hasher:    hasher,
		sessions:  sessions,
		challenge: challenge,
		issuer:    issuer,
		email:     email,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates an unverified account and sends the first verification
// email. A failed send is logged and does not undo the registration; the
// user can request a new link.
func (s *Service) Register(ctx context.Context, in RegisterInput) (created *user.User, err error) {
	defer s.record(FlowRegister, &err)

	if err := s.verifyChallenge(ctx, in.ChallengeToken); err != nil {
		return nil, err
	}
	if err := validateRegistration(in); err != nil {
		return nil, err
	}

	existing, err := s.store.FindUserByEmail(ctx, in.Email)
	switch {
	case err == nil:
		if existing.IsVerified() {
			return nil, ErrDuplicateAccount
		}
		return nil, ErrPendingVerification
	case !errors.Is(err, user.ErrNotFound):
		return nil, s.internal(err, FlowRegister, "find user")
	}

	passwordHash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, s.internal(err, FlowRegister, "hash password")
	}

	now := s.now()
	u := &user.User{
		ID:           uuid.New(),
		Email:        in.Email,
		PasswordHash: passwordHash,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		CreatedAt:    now,
	}
	if in.TermsOfService {
		u.TermsOfService = &now
	}
	if in.PrivacyPolicy {
		u.PrivacyPolicy = &now
	}

	created, err = s.store.InsertUser(ctx, u)
	if err != nil {
		// lost a race with a concurrent registration
		if errors.Is(err, user.ErrDuplicateEmail) {
			return nil, ErrDuplicateAccount
		}
		return nil, s.internal(err, FlowRegister, "insert user")
	}

	if err := s.SendEmailVerification(ctx, created.Email, ""); err != nil {
		s.logger.Warn("failed to send verification email after registration",
			"user_id", created.ID,
			"error", err,
		)
	}

	return created, nil
}

// Login verifies credentials and issues a session. Unknown email and wrong
// password are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, in LoginInput) (res *LoginResult, err error) {
	defer s.record(FlowLogin, &err)

	if err := s.verifyChallenge(ctx, in.ChallengeToken); err != nil {
		return nil, err
	}

	u, err := s.store.FindUserByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			_, _ = s.hasher.Verify(s.timingHash(), in.Password)
			return nil, ErrInvalidCredentials
		}
		return nil, s.internal(err, FlowLogin, "find user")
	}

	ok, err := s.hasher.Verify(u.PasswordHash, in.Password)
	if err != nil {
		return nil, s.internal(err, FlowLogin, "verify password")
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	if !u.IsVerified() {
		return nil, ErrEmailNotVerified
	}

	sessionToken, err := s.sessions.Issue(u.ID)
	if err != nil {
		return nil, s.internal(err, FlowLogin, "issue session")
	}

	return &LoginResult{User: u, Token: sessionToken}, nil
}

// RequestPasswordReset mails a reset link if the account exists. The result
// is the same whether or not it does; only a failed send is reported.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (err error) {
	defer s.record(FlowRequestReset, &err)

	u, err := s.store.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil
		}
		return s.internal(err, FlowRequestReset, "find user")
	}

	issued, err := s.issue(ctx, token.ScopePasswordReset, u.ID, nil)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil
		}
		return s.internal(err, FlowRequestReset, "issue token")
	}

	if err := s.email.SendPasswordResetEmail(ctx, u.Email, issued.Value); err != nil {
		return s.internal(err, FlowRequestReset, "send email")
	}

	return nil
}

// CompletePasswordReset consumes a reset token and sets a new password. The
// token, the password change and the removal of the user's other reset
// tokens commit together. An expired token is deleted even though the reset
// fails. An invalid password, or one equal to the current password, rolls
// back and leaves the token usable.
func (s *Service) CompletePasswordReset(ctx context.Context, value, newPassword string) (err error) {
	defer s.record(FlowCompleteReset, &err)

	expired := false
	err = s.store.WithTx(ctx, func(tx CredentialStore) error {
		resets := tx.Tokens(token.ScopePasswordReset)

		rec, err := s.issuer.Consume(ctx, resets, value)
		switch {
		case errors.Is(err, token.ErrExpired):
			expired = true
			return nil
		case errors.Is(err, token.ErrNotFound):
			return ErrTokenInvalid
		case err != nil:
			return err
		}

		if err := validatePassword(newPassword); err != nil {
			return err
		}

		u, err := tx.FindUserByID(ctx, rec.UserID)
		if err != nil {
			if errors.Is(err, user.ErrNotFound) {
				return ErrTokenInvalid
			}
			return err
		}

		same, err := s.hasher.Verify(u.PasswordHash, newPassword)
		if err != nil {
			return err
		}
		if same {
			return ErrPasswordUnchanged
		}

		passwordHash, err := s.hasher.Hash(newPassword)
		if err != nil {
			return err
		}
		if err := tx.UpdatePassword(ctx, u.ID, passwordHash); err != nil {
			return err
		}

		_, err = resets.DeleteForUser(ctx, u.ID)
		return err
	})
	if err != nil {
		if IsKnown(err) {
			return err
		}
		return s.internal(err, FlowCompleteReset, "reset password")
	}
	if expired {
		return ErrTokenInvalid
	}

	return nil
}

// SendEmailVerification mails a new verification link, superseding earlier
// ones. The target is email or, when email is empty, the subject of a valid
// session token.
func (s *Service) SendEmailVerification(ctx context.Context, email, sessionToken string) (err error) {
	defer s.record(FlowSendVerification, &err)

	target := email
	if target == "" && sessionToken != "" {
		if userID, err := s.sessions.Validate(sessionToken); err == nil {
			u, err := s.store.FindUserByID(ctx, userID)
			switch {
			case err == nil:
				target = u.Email
			case !errors.Is(err, user.ErrNotFound):
				return s.internal(err, FlowSendVerification, "find session user")
			}
		}
	}
	if target == "" {
		return ErrEmailRequired
	}

	u, err := s.store.FindUserByEmail(ctx, target)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return ErrUserNotFound
		}
		return s.internal(err, FlowSendVerification, "find user")
	}
	if u.IsVerified() {
		return ErrAlreadyVerified
	}

	// re-check under the lock in case a verification committed meanwhile
	issued, err := s.issue(ctx, token.ScopeEmailVerification, u.ID, func(locked *user.User) error {
		if locked.IsVerified() {
			return ErrAlreadyVerified
		}
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, user.ErrNotFound):
			return ErrUserNotFound
		case IsKnown(err):
			return err
		}
		return s.internal(err, FlowSendVerification, "issue token")
	}

	if err := s.email.SendVerificationEmail(ctx, u.Email, issued.Value); err != nil {
		return s.internal(err, FlowSendVerification, "send email")
	}

	return nil
}

// VerifyEmail consumes a verification token and marks the owner verified.
// Both writes commit together. An expired token is deleted even though
// verification fails.
func (s *Service) VerifyEmail(ctx context.Context, value string) (err error) {
	defer s.record(FlowVerifyEmail, &err)

	expired := false
	err = s.store.WithTx(ctx, func(tx CredentialStore) error {
		rec, err := s.issuer.Consume(ctx, tx.Tokens(token.ScopeEmailVerification), value)
		switch {
		case errors.Is(err, token.ErrExpired):
			expired = true
			return nil
		case errors.Is(err, token.ErrNotFound):
			return ErrTokenInvalid
		case err != nil:
			return err
		}

		u, err := tx.FindUserByID(ctx, rec.UserID)
		if err != nil {
			if errors.Is(err, user.ErrNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		if u.IsVerified() {
			return ErrAlreadyVerified
		}

		return tx.MarkEmailVerified(ctx, u.ID, s.now())
	})
	if err != nil {
		if IsKnown(err) {
			return err
		}
		return s.internal(err, FlowVerifyEmail, "verify email")
	}
	if expired {
		return ErrTokenInvalid
	}

	return nil
}

// Me returns the user behind an authenticated session.
func (s *Service) Me(ctx context.Context, userID uuid.UUID) (*user.User, error) {
	u, err := s.store.FindUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, s.internal(err, "me", "find user")
	}
	return u, nil
}

// ValidateSession exposes the session authority to HTTP middleware.
func (s *Service) ValidateSession(sessionToken string) (uuid.UUID, error) {
	return s.sessions.Validate(sessionToken)
}

// SweepExpiredTokens deletes expired tokens of every scope.
func (s *Service) SweepExpiredTokens(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteExpiredTokens(ctx, s.now())
	if err != nil {
		return 0, s.internal(err, "sweep", "delete expired tokens")
	}
	return n, nil
}

// RunSweeper calls SweepExpiredTokens every interval until ctx is done.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.SweepExpiredTokens(ctx)
			if err != nil {
				s.logger.Error("token sweep failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Info("expired tokens removed", "count", n)
			}
		}
	}
}

// issue mints a token for userID in its own transaction, holding the user's
// row lock so concurrent requests cannot both leave a live token. check runs
// against the locked row before anything is written.
func (s *Service) issue(ctx context.Context, scope token.Scope, userID uuid.UUID, check func(*user.User) error) (*token.Issued, error) {
	var issued *token.Issued
	err := s.store.WithTx(ctx, func(tx CredentialStore) error {
		if err := tx.LockUser(ctx, userID); err != nil {
			return err
		}
		if check != nil {
			locked, err := tx.FindUserByID(ctx, userID)
			if err != nil {
				return err
			}
			if err := check(locked); err != nil {
				return err
			}
		}

		var err error
		issued, err = s.issuer.Issue(ctx, tx.Tokens(scope), userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return issued, nil
}

func (s *Service) verifyChallenge(ctx context.Context, challengeToken string) error {
	if challengeToken == "" {
		return ErrChallengeMissing
	}

	ok, err := s.challenge.Verify(ctx, challengeToken)
	if err != nil {
		s.logger.Warn("challenge verification failed", "error", err)
		return ErrChallengeInvalid
	}
	if !ok {
		return ErrChallengeInvalid
	}

	return nil
}

func (s *Service) timingHash() string {
	s.dummyOnce.Do(func() {
		h, err := s.hasher.Hash(dummyPassword)
		if err != nil {
			s.logger.Error("failed to prepare timing hash", "error", err)
			return
		}
		s.dummyHash = h
	})
	return s.dummyHash
}

func (s *Service) internal(err error, flow, operation string) error {
	return oops.
		In("auth").
		Code("AUTH_INTERNAL").
		With("flow", flow).
		With("operation", operation).
		Wrap(err)
}

func (s *Service) record(flow string, errp *error) {
	if s.recorder == nil {
		return
	}
	s.recorder.RecordFlow(flow, Outcome(*errp))
}

func validateRegistration(in RegisterInput) error {
	if err := validation.Validate(in.Email,
		validation.Required.Error("E-Mail-Adresse ist erforderlich"),
		validation.Length(0, 255).Error("E-Mail-Adresse ist zu lang"),
		is.Email.Error("Ungültige E-Mail-Adresse"),
	); err != nil {
		return &InputError{Message: err.Error()}
	}
	return validatePassword(in.Password)
}

func validatePassword(password string) error {
	if err := validation.Validate(password,
		validation.Required.Error("Passwort ist erforderlich"),
		// bcrypt ignores everything past 72 bytes
		validation.Length(8, 72).Error("Das Passwort muss zwischen 8 und 72 Zeichen lang sein"),
	); err != nil {
		return &InputError{Message: err.Error()}
	}
	return nil
}
