package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/redmonkez12/go-auth-api/internal/auth"
	"github.com/redmonkez12/go-auth-api/internal/token"
	"github.com/redmonkez12/go-auth-api/internal/user"
)

// Memory is an in-process credential store for development and tests.
// Transactions are serialized: WithTx holds the store lock until fn returns
// and publishes its changes only when fn succeeds.
type Memory struct {
	mu    sync.Mutex
	state *memState
}

func NewMemory() *Memory {
	return &Memory{state: newMemState()}
}

func (m *Memory) FindUserByEmail(ctx context.Context, email string) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.FindUserByEmail(ctx, email)
}

func (m *Memory) FindUserByID(ctx context.Context, id uuid.UUID) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.FindUserByID(ctx, id)
}

func (m *Memory) InsertUser(ctx context.Context, u *user.User) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.InsertUser(ctx, u)
}

func (m *Memory) UpdatePassword(ctx context.Context, userID uuid.UUID, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.UpdatePassword(ctx, userID, passwordHash)
}

func (m *Memory) MarkEmailVerified(ctx context.Context, userID uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.MarkEmailVerified(ctx, userID, at)
}

func (m *Memory) LockUser(ctx context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.LockUser(ctx, userID)
}

func (m *Memory) Tokens(scope token.Scope) token.Store {
	return &lockedTokens{m: m, scope: scope}
}

func (m *Memory) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.DeleteExpiredTokens(ctx, now)
}

func (m *Memory) WithTx(ctx context.Context, fn func(tx auth.CredentialStore) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.WithTx(ctx, fn)
}

// memState holds the data and implements the store without locking. It is
// what a transaction's fn sees.
type memState struct {
	users   map[uuid.UUID]*user.User
	byEmail map[string]uuid.UUID
	tokens  map[token.Scope]map[string]*token.Record
}

func newMemState() *memState {
	s := &memState{
		users:   make(map[uuid.UUID]*user.User),
		byEmail: make(map[string]uuid.UUID),
		tokens:  make(map[token.Scope]map[string]*token.Record, len(scopes)),
	}
	for _, scope := range scopes {
		s.tokens[scope] = make(map[string]*token.Record)
	}
	return s
}

func (s *memState) clone() *memState {
	c := newMemState()
	for id, u := range s.users {
		c.users[id] = u.Clone()
	}
	for email, id := range s.byEmail {
		c.byEmail[email] = id
	}
	for scope, recs := range s.tokens {
		for hash, rec := range recs {
			r := *rec
			c.tokens[scope][hash] = &r
		}
	}
	return c
}

func (s *memState) FindUserByEmail(_ context.Context, email string) (*user.User, error) {
	id, ok := s.byEmail[email]
	if !ok {
		return nil, user.ErrNotFound
	}
	return s.users[id].Clone(), nil
}

func (s *memState) FindUserByID(_ context.Context, id uuid.UUID) (*user.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	return u.Clone(), nil
}

func (s *memState) InsertUser(_ context.Context, u *user.User) (*user.User, error) {
	if _, taken := s.byEmail[u.Email]; taken {
		return nil, user.ErrDuplicateEmail
	}

	stored := u.Clone()
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}

	s.users[stored.ID] = stored
	s.byEmail[stored.Email] = stored.ID
	return stored.Clone(), nil
}

func (s *memState) UpdatePassword(_ context.Context, userID uuid.UUID, passwordHash string) error {
	u, ok := s.users[userID]
	if !ok {
		return user.ErrNotFound
	}
	now := time.Now()
	u.PasswordHash = passwordHash
	u.UpdatedAt = &now
	return nil
}

func (s *memState) MarkEmailVerified(_ context.Context, userID uuid.UUID, at time.Time) error {
	u, ok := s.users[userID]
	if !ok {
		return user.ErrNotFound
	}
	u.EmailVerifiedAt = &at
	u.UpdatedAt = &at
	return nil
}

// LockUser only checks existence; the store lock already serializes
// transactions.
func (s *memState) LockUser(_ context.Context, userID uuid.UUID) error {
	if _, ok := s.users[userID]; !ok {
		return user.ErrNotFound
	}
	return nil
}

func (s *memState) Tokens(scope token.Scope) token.Store {
	return &memTokens{s: s, scope: scope}
}

func (s *memState) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	var total int64
	for _, scope := range scopes {
		n, _ := s.Tokens(scope).DeleteExpired(ctx, now)
		total += n
	}
	return total, nil
}

// WithTx runs fn against a copy and keeps the copy only if fn succeeds.
// Nested calls behave like savepoints.
func (s *memState) WithTx(_ context.Context, fn func(tx auth.CredentialStore) error) error {
	tx := s.clone()
	if err := fn(tx); err != nil {
		return err
	}
	*s = *tx
	return nil
}

// memTokens is the token.Store of one scope. It looks its map up on every
// call so it follows the state across committed transactions.
type memTokens struct {
	s     *memState
	scope token.Scope
}

func (t *memTokens) recs() map[string]*token.Record {
	return t.s.tokens[t.scope]
}

func (t *memTokens) Insert(_ context.Context, rec *token.Record) error {
	r := *rec
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	t.recs()[r.Hash] = &r
	return nil
}

func (t *memTokens) Find(_ context.Context, hash string) (*token.Record, error) {
	rec, ok := t.recs()[hash]
	if !ok {
		return nil, token.ErrNotFound
	}
	r := *rec
	return &r, nil
}

func (t *memTokens) Take(_ context.Context, hash string) (*token.Record, error) {
	recs := t.recs()
	rec, ok := recs[hash]
	if !ok {
		return nil, token.ErrNotFound
	}
	delete(recs, hash)
	return rec, nil
}

func (t *memTokens) DeleteForUser(_ context.Context, userID uuid.UUID) (int64, error) {
	var n int64
	recs := t.recs()
	for hash, rec := range recs {
		if rec.UserID == userID {
			delete(recs, hash)
			n++
		}
	}
	return n, nil
}

func (t *memTokens) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	var n int64
	recs := t.recs()
	for hash, rec := range recs {
		if rec.Expired(now) {
			delete(recs, hash)
			n++
		}
	}
	return n, nil
}

// lockedTokens guards memTokens with the store lock for use outside a
// transaction.
type lockedTokens struct {
	m     *Memory
	scope token.Scope
}

func (l *lockedTokens) Insert(ctx context.Context, rec *token.Record) error {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	return l.m.state.Tokens(l.scope).Insert(ctx, rec)
}

func (l *lockedTokens) Find(ctx context.Context, hash string) (*token.Record, error) {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	return l.m.state.Tokens(l.scope).Find(ctx, hash)
}

func (l *lockedTokens) Take(ctx context.Context, hash string) (*token.Record, error) {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	return l.m.state.Tokens(l.scope).Take(ctx, hash)
}

func (l *lockedTokens) DeleteForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	return l.m.state.Tokens(l.scope).DeleteForUser(ctx, userID)
}

func (l *lockedTokens) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	return l.m.state.Tokens(l.scope).DeleteExpired(ctx, now)
}

var (
	_ auth.CredentialStore = (*Memory)(nil)
	_ auth.CredentialStore = (*Postgres)(nil)
	_ token.Store          = (*memTokens)(nil)
	_ token.Store          = (*lockedTokens)(nil)
)
