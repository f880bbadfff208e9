package auth_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/redmonkez12/go-auth-api/internal/auth"
	"github.com/redmonkez12/go-auth-api/internal/logging"
	"github.com/redmonkez12/go-auth-api/internal/store"
	"github.com/redmonkez12/go-auth-api/internal/token"
	"github.com/redmonkez12/go-auth-api/internal/user"
)

const (
	testEmail    = "anna@example.com"
	testPassword = "correct-horse"
	tokenTTL     = 24 * time.Hour
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type stubChallenge struct {
	mu    sync.Mutex
	ok    bool
	err   error
	calls []string
}

func (c *stubChallenge) Verify(_ context.Context, challengeToken string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, challengeToken)
	return c.ok, c.err
}

type sentMail struct {
	to    string
	token string
}

type mailbox struct {
	mu            sync.Mutex
	err           error
	verifications []sentMail
	resets        []sentMail
}

func (m *mailbox) SendVerificationEmail(_ context.Context, to, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.verifications = append(m.verifications, sentMail{to, value})
	return nil
}

func (m *mailbox) SendPasswordResetEmail(_ context.Context, to, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.resets = append(m.resets, sentMail{to, value})
	return nil
}

func (m *mailbox) lastVerification(t *testing.T) sentMail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.verifications, "no verification email sent")
	return m.verifications[len(m.verifications)-1]
}

func (m *mailbox) lastReset(t *testing.T) sentMail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.resets, "no reset email sent")
	return m.resets[len(m.resets)-1]
}

type flowRecorder struct {
	mu       sync.Mutex
	outcomes map[string][]string
}

func (r *flowRecorder) RecordFlow(flow, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes == nil {
		r.outcomes = make(map[string][]string)
	}
	r.outcomes[flow] = append(r.outcomes[flow], outcome)
}

func (r *flowRecorder) get(flow string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcomes[flow]
}

type fixture struct {
	svc       *auth.Service
	store     *store.Memory
	sessions  *auth.JWTAuthority
	challenge *stubChallenge
	mail      *mailbox
	clock     *clock
	recorder  *flowRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	sessions, err := auth.NewJWTAuthority([]byte("service-test-secret-0123456789abcdef"), time.Hour)
	require.NoError(t, err)

	f := &fixture{
		store:     store.NewMemory(),
		sessions:  sessions,
		challenge: &stubChallenge{ok: true},
		mail:      &mailbox{},
		clock:     &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
		recorder:  &flowRecorder{},
	}
	f.svc = auth.NewService(
		f.store,
		auth.NewBcryptHasher(bcrypt.MinCost),
		sessions,
		f.challenge,
		token.NewIssuer(tokenTTL, token.WithClock(f.clock.Now)),
		f.mail,
		logging.Discard(),
		auth.WithRecorder(f.recorder),
		auth.WithClock(f.clock.Now),
	)
	return f
}

func registerInput(email string) auth.RegisterInput {
	return auth.RegisterInput{
		Email:          email,
		Password:       testPassword,
		ChallengeToken: "challenge-ok",
		TermsOfService: true,
		PrivacyPolicy:  true,
	}
}

// registerVerified creates an account and completes email verification.
func (f *fixture) registerVerified(t *testing.T, email string) *user.User {
	t.Helper()
	ctx := context.Background()

	created, err := f.svc.Register(ctx, registerInput(email))
	require.NoError(t, err)
	require.NoError(t, f.svc.VerifyEmail(ctx, f.mail.lastVerification(t).token))
	return created
}

func (f *fixture) liveTokens(t *testing.T, scope token.Scope, value string) bool {
	t.Helper()
	_, err := f.store.Tokens(scope).Find(context.Background(), token.Hash(value))
	if errors.Is(err, token.ErrNotFound) {
		return false
	}
	require.NoError(t, err)
	return true
}

func TestChallengeGate(t *testing.T) {
	tests := []struct {
		name      string
		challenge string
		ok        bool
		err       error
		want      error
	}{
		{"missing", "", true, nil, auth.ErrChallengeMissing},
		{"rejected", "bad", false, nil, auth.ErrChallengeInvalid},
		{"provider unreachable", "tok", false, errors.New("dial tcp: timeout"), auth.ErrChallengeInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.challenge.ok = tt.ok
			f.challenge.err = tt.err
			ctx := context.Background()

			in := registerInput(testEmail)
			in.ChallengeToken = tt.challenge
			_, err := f.svc.Register(ctx, in)
			assert.ErrorIs(t, err, tt.want)

			_, err = f.svc.Login(ctx, auth.LoginInput{Email: testEmail, Password: testPassword, ChallengeToken: tt.challenge})
			assert.ErrorIs(t, err, tt.want)

			_, err = f.store.FindUserByEmail(ctx, testEmail)
			assert.ErrorIs(t, err, user.ErrNotFound, "nothing is written when the challenge fails")
		})
	}
}

func TestChallengeGate_MissingTokenSkipsProvider(t *testing.T) {
	f := newFixture(t)

	in := registerInput(testEmail)
	in.ChallengeToken = ""
	_, err := f.svc.Register(context.Background(), in)
	require.ErrorIs(t, err, auth.ErrChallengeMissing)
	assert.Empty(t, f.challenge.calls)
}

func TestRegister(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := "Anna"

	in := registerInput(testEmail)
	in.FirstName = &first
	created, err := f.svc.Register(ctx, in)
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, created.ID)
	assert.False(t, created.IsVerified())
	assert.NotEqual(t, testPassword, created.PasswordHash)
	require.NotNil(t, created.FirstName)
	assert.Equal(t, "Anna", *created.FirstName)
	require.NotNil(t, created.TermsOfService)
	assert.Equal(t, f.clock.Now(), *created.TermsOfService)

	sent := f.mail.lastVerification(t)
	assert.Equal(t, testEmail, sent.to)
	assert.Len(t, sent.token, 64)
	assert.True(t, f.liveTokens(t, token.ScopeEmailVerification, sent.token))
	assert.Equal(t, []string{"success"}, f.recorder.get(auth.FlowRegister))
}

func TestRegister_InvalidInput(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		password string
	}{
		{"empty email", "", testPassword},
		{"malformed email", "not-an-email", testPassword},
		{"short password", testEmail, "short"},
		{"long password", testEmail, strings.Repeat("a", 73)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			in := registerInput(tt.email)
			in.Password = tt.password

			_, err := f.svc.Register(context.Background(), in)
			assert.ErrorIs(t, err, auth.ErrInvalidInput)

			var inputErr *auth.InputError
			require.ErrorAs(t, err, &inputErr)
			assert.NotEmpty(t, inputErr.Message)
		})
	}
}

func TestRegister_ExistingAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, registerInput(testEmail))
	require.NoError(t, err)

	_, err = f.svc.Register(ctx, registerInput(testEmail))
	assert.ErrorIs(t, err, auth.ErrPendingVerification)

	require.NoError(t, f.svc.VerifyEmail(ctx, f.mail.lastVerification(t).token))

	_, err = f.svc.Register(ctx, registerInput(testEmail))
	assert.ErrorIs(t, err, auth.ErrDuplicateAccount)

	assert.Equal(t,
		[]string{"success", "pending_verification", "duplicate_account"},
		f.recorder.get(auth.FlowRegister),
	)
}

func TestRegister_MailFailureKeepsAccount(t *testing.T) {
	f := newFixture(t)
	f.mail.err = errors.New("smtp: connection refused")
	ctx := context.Background()

	created, err := f.svc.Register(ctx, registerInput(testEmail))
	require.NoError(t, err)

	stored, err := f.store.FindUserByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, testEmail, stored.Email)
	assert.Equal(t, []string{"internal_error"}, f.recorder.get(auth.FlowSendVerification))
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.registerVerified(t, testEmail)

	res, err := f.svc.Login(ctx, auth.LoginInput{Email: testEmail, Password: testPassword, ChallengeToken: "ok"})
	require.NoError(t, err)
	assert.Equal(t, created.ID, res.User.ID)

	subject, err := f.svc.ValidateSession(res.Token)
	require.NoError(t, err)
	assert.Equal(t, created.ID, subject)
}

func TestLogin_Failures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerVerified(t, testEmail)
	_, err := f.svc.Register(ctx, registerInput("pending@example.com"))
	require.NoError(t, err)

	tests := []struct {
		name     string
		email    string
		password string
		want     error
	}{
		{"unknown email", "nobody@example.com", testPassword, auth.ErrInvalidCredentials},
		{"wrong password", testEmail, "wrong-password", auth.ErrInvalidCredentials},
		{"email differs in case", "Anna@Example.com", testPassword, auth.ErrInvalidCredentials},
		{"unverified", "pending@example.com", testPassword, auth.ErrEmailNotVerified},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.svc.Login(ctx, auth.LoginInput{Email: tt.email, Password: tt.password, ChallengeToken: "ok"})
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, res)
		})
	}
}

func TestLogin_WrongPasswordBeforeVerificationCheck(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Register(ctx, registerInput(testEmail))
	require.NoError(t, err)

	_, err = f.svc.Login(ctx, auth.LoginInput{Email: testEmail, Password: "wrong-password", ChallengeToken: "ok"})
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

func TestRequestPasswordReset_UnknownEmailIsSilent(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.svc.RequestPasswordReset(context.Background(), "nobody@example.com"))
	assert.Empty(t, f.mail.resets)
}

func TestRequestPasswordReset_SupersedesEarlierToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerVerified(t, testEmail)

	require.NoError(t, f.svc.RequestPasswordReset(ctx, testEmail))
	first := f.mail.lastReset(t)
	require.NoError(t, f.svc.RequestPasswordReset(ctx, testEmail))
	second := f.mail.lastReset(t)

	assert.Equal(t, testEmail, second.to)
	assert.NotEqual(t, first.token, second.token)
	assert.False(t, f.liveTokens(t, token.ScopePasswordReset, first.token))
	assert.True(t, f.liveTokens(t, token.ScopePasswordReset, second.token))

	assert.ErrorIs(t, f.svc.CompletePasswordReset(ctx, first.token, "brand-new-password"), auth.ErrTokenInvalid)
}

func TestRequestPasswordReset_SendFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerVerified(t, testEmail)
	f.mail.err = errors.New("smtp: 421 try later")

	err := f.svc.RequestPasswordReset(ctx, testEmail)
	require.Error(t, err)
	assert.False(t, auth.IsKnown(err))
	assert.Equal(t, []string{"internal_error"}, f.recorder.get(auth.FlowRequestReset))
}

func TestCompletePasswordReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerVerified(t, testEmail)

	require.NoError(t, f.svc.RequestPasswordReset(ctx, testEmail))
	value := f.mail.lastReset(t).token

	require.NoError(t, f.svc.CompletePasswordReset(ctx, value, "brand-new-password"))

	_, err := f.svc.Login(ctx, auth.LoginInput{Email: testEmail, Password: testPassword, ChallengeToken: "ok"})
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	_, err = f.svc.Login(ctx, auth.LoginInput{Email: testEmail, Password: "brand-new-password", ChallengeToken: "ok"})
	assert.NoError(t, err)

	assert.False(t, f.liveTokens(t, token.ScopePasswordReset, value))
	assert.ErrorIs(t, f.svc.CompletePasswordReset(ctx, value, "another-password"), auth.ErrTokenInvalid)
}

func TestCompletePasswordReset_UnchangedKeepsToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerVerified(t, testEmail)

	require.NoError(t, f.svc.RequestPasswordReset(ctx, testEmail))
	value := f.mail.lastReset(t).token

	err := f.svc.CompletePasswordReset(ctx, value, testPassword)
	require.ErrorIs(t, err, auth.ErrPasswordUnchanged)
	assert.True(t, f.liveTokens(t, token.ScopePasswordReset, value))

	assert.NoError(t, f.svc.CompletePasswordReset(ctx, value, "brand-new-password"))
}

func TestCompletePasswordReset_ExpiredTokenIsDeleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerVerified(t, testEmail)

	require.NoError(t, f.svc.RequestPasswordReset(ctx, testEmail))
	value := f.mail.lastReset(t).token

	f.clock.Advance(tokenTTL)

	err := f.svc.CompletePasswordReset(ctx, value, "brand-new-password")
	require.ErrorIs(t, err, auth.ErrTokenInvalid)
	assert.False(t, f.liveTokens(t, token.ScopePasswordReset, value))

	_, err = f.svc.Login(ctx, auth.LoginInput{Email: testEmail, Password: testPassword, ChallengeToken: "ok"})
	assert.NoError(t, err, "password is untouched")
}

func TestCompletePasswordReset_ExpiredTokenWinsOverInvalidPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerVerified(t, testEmail)

	require.NoError(t, f.svc.RequestPasswordReset(ctx, testEmail))
	value := f.mail.lastReset(t).token

	f.clock.Advance(tokenTTL + time.Hour)

	err := f.svc.CompletePasswordReset(ctx, value, "short")
	require.ErrorIs(t, err, auth.ErrTokenInvalid)
	assert.NotErrorIs(t, err, auth.ErrInvalidInput)
	assert.False(t, f.liveTokens(t, token.ScopePasswordReset, value))
}

func TestCompletePasswordReset_Invalid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerVerified(t, testEmail)
	require.NoError(t, f.svc.RequestPasswordReset(ctx, testEmail))
	value := f.mail.lastReset(t).token

	assert.ErrorIs(t, f.svc.CompletePasswordReset(ctx, "", "brand-new-password"), auth.ErrTokenInvalid)
	assert.ErrorIs(t, f.svc.CompletePasswordReset(ctx, "deadbeef", "brand-new-password"), auth.ErrTokenInvalid)

	err := f.svc.CompletePasswordReset(ctx, value, "short")
	assert.ErrorIs(t, err, auth.ErrInvalidInput)
	assert.True(t, f.liveTokens(t, token.ScopePasswordReset, value), "invalid input does not consume the token")

	_, err = f.svc.Register(ctx, registerInput("pending@example.com"))
	require.NoError(t, err)
	verification := f.mail.lastVerification(t).token
	assert.ErrorIs(t, f.svc.CompletePasswordReset(ctx, verification, "brand-new-password"), auth.ErrTokenInvalid)
	assert.True(t, f.liveTokens(t, token.ScopeEmailVerification, verification))
}

func TestSendEmailVerification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Register(ctx, registerInput(testEmail))
	require.NoError(t, err)
	first := f.mail.lastVerification(t)

	require.NoError(t, f.svc.SendEmailVerification(ctx, testEmail, ""))
	second := f.mail.lastVerification(t)

	assert.Equal(t, testEmail, second.to)
	assert.False(t, f.liveTokens(t, token.ScopeEmailVerification, first.token))
	assert.True(t, f.liveTokens(t, token.ScopeEmailVerification, second.token))
	assert.ErrorIs(t, f.svc.VerifyEmail(ctx, first.token), auth.ErrTokenInvalid)
}

func TestSendEmailVerification_FromSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.svc.Register(ctx, registerInput(testEmail))
	require.NoError(t, err)

	session, err := f.sessions.Issue(created.ID)
	require.NoError(t, err)
	before := len(f.mail.verifications)

	require.NoError(t, f.svc.SendEmailVerification(ctx, "", session))
	assert.Len(t, f.mail.verifications, before+1)
	assert.Equal(t, testEmail, f.mail.lastVerification(t).to)
}

func TestSendEmailVerification_Failures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	verified := f.registerVerified(t, "verified@example.com")
	verifiedSession, err := f.sessions.Issue(verified.ID)
	require.NoError(t, err)
	orphanSession, err := f.sessions.Issue(uuid.New())
	require.NoError(t, err)

	tests := []struct {
		name    string
		email   string
		session string
		want    error
	}{
		{"nothing given", "", "", auth.ErrEmailRequired},
		{"invalid session", "", "garbage", auth.ErrEmailRequired},
		{"session of deleted user", "", orphanSession, auth.ErrEmailRequired},
		{"unknown email", "nobody@example.com", "", auth.ErrUserNotFound},
		{"already verified", "verified@example.com", "", auth.ErrAlreadyVerified},
		{"already verified via session", "", verifiedSession, auth.ErrAlreadyVerified},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, f.svc.SendEmailVerification(ctx, tt.email, tt.session), tt.want)
		})
	}
}

func TestVerifyEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.svc.Register(ctx, registerInput(testEmail))
	require.NoError(t, err)
	value := f.mail.lastVerification(t).token

	f.clock.Advance(time.Hour)
	require.NoError(t, f.svc.VerifyEmail(ctx, value))

	stored, err := f.store.FindUserByID(ctx, created.ID)
	require.NoError(t, err)
	require.True(t, stored.IsVerified())
	assert.Equal(t, f.clock.Now(), *stored.EmailVerifiedAt)

	assert.False(t, f.liveTokens(t, token.ScopeEmailVerification, value))
	assert.ErrorIs(t, f.svc.VerifyEmail(ctx, value), auth.ErrTokenInvalid)
}

func TestVerifyEmail_ExpiredTokenIsDeleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.svc.Register(ctx, registerInput(testEmail))
	require.NoError(t, err)
	value := f.mail.lastVerification(t).token

	f.clock.Advance(tokenTTL + time.Second)

	require.ErrorIs(t, f.svc.VerifyEmail(ctx, value), auth.ErrTokenInvalid)
	assert.False(t, f.liveTokens(t, token.ScopeEmailVerification, value))

	stored, err := f.store.FindUserByID(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsVerified())
}

func TestVerifyEmail_ScopesAreSeparate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerVerified(t, testEmail)

	require.NoError(t, f.svc.RequestPasswordReset(ctx, testEmail))
	reset := f.mail.lastReset(t).token

	assert.ErrorIs(t, f.svc.VerifyEmail(ctx, reset), auth.ErrTokenInvalid)
	assert.True(t, f.liveTokens(t, token.ScopePasswordReset, reset))
}

func TestMe(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.registerVerified(t, testEmail)

	got, err := f.svc.Me(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, testEmail, got.Email)

	_, err = f.svc.Me(ctx, uuid.New())
	assert.ErrorIs(t, err, auth.ErrUserNotFound)
}

func TestSweepExpiredTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerVerified(t, testEmail)
	_, err := f.svc.Register(ctx, registerInput("pending@example.com"))
	require.NoError(t, err)
	require.NoError(t, f.svc.RequestPasswordReset(ctx, testEmail))

	n, err := f.svc.SweepExpiredTokens(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(tokenTTL)

	n, err = f.svc.SweepExpiredTokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestRunSweeper(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	_, err := f.svc.Register(ctx, registerInput(testEmail))
	require.NoError(t, err)
	value := f.mail.lastVerification(t).token
	f.clock.Advance(tokenTTL)

	done := make(chan struct{})
	go func() {
		f.svc.RunSweeper(ctx, 10*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return !f.liveTokens(t, token.ScopeEmailVerification, value)
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestEndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, registerInput(testEmail))
	require.NoError(t, err)

	_, err = f.svc.Login(ctx, auth.LoginInput{Email: testEmail, Password: testPassword, ChallengeToken: "ok"})
	require.ErrorIs(t, err, auth.ErrEmailNotVerified)

	require.NoError(t, f.svc.VerifyEmail(ctx, f.mail.lastVerification(t).token))

	res, err := f.svc.Login(ctx, auth.LoginInput{Email: testEmail, Password: testPassword, ChallengeToken: "ok"})
	require.NoError(t, err)

	me, err := f.svc.ValidateSession(res.Token)
	require.NoError(t, err)
	u, err := f.svc.Me(ctx, me)
	require.NoError(t, err)
	assert.True(t, u.IsVerified())

	assert.Equal(t, []string{"email_not_verified", "success"}, f.recorder.get(auth.FlowLogin))
	assert.Equal(t, []string{"success"}, f.recorder.get(auth.FlowVerifyEmail))
}
