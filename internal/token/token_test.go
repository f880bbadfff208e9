package token

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapStore is a minimal Store for exercising the Issuer.
type mapStore struct {
	mu   sync.Mutex
	recs map[string]*Record
}

func newMapStore() *mapStore {
	return &mapStore{recs: map[string]*Record{}}
}

func (s *mapStore) Insert(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[rec.Hash] = rec
	return nil
}

func (s *mapStore) Find(_ context.Context, hash string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[hash]
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

func (s *mapStore) Take(_ context.Context, hash string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[hash]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.recs, hash)
	return rec, nil
}

func (s *mapStore) DeleteForUser(_ context.Context, userID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for h, rec := range s.recs {
		if rec.UserID == userID {
			delete(s.recs, h)
			n++
		}
	}
	return n, nil
}

func (s *mapStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for h, rec := range s.recs {
		if rec.Expired(now) {
			delete(s.recs, h)
			n++
		}
	}
	return n, nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestIssue_ValueAndExpiry(t *testing.T) {
	c := &clock{t: time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)}
	issuer := NewIssuer(24*time.Hour, WithClock(c.now))
	store := newMapStore()
	userID := uuid.New()

	issued, err := issuer.Issue(context.Background(), store, userID)
	require.NoError(t, err)

	assert.Len(t, issued.Value, 2*valueBytes)
	assert.Equal(t, c.t.Add(24*time.Hour), issued.ExpiresAt)

	rec, err := store.Find(context.Background(), Hash(issued.Value))
	require.NoError(t, err)
	assert.Equal(t, userID, rec.UserID)
	assert.NotEqual(t, issued.Value, rec.Hash, "raw value must not be stored")
}

func TestIssue_UsesEntropySource(t *testing.T) {
	issuer := NewIssuer(time.Hour, WithEntropy(bytes.NewReader(make([]byte, valueBytes))))

	issued, err := issuer.Issue(context.Background(), newMapStore(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, string(bytes.Repeat([]byte("0"), 2*valueBytes)), issued.Value)
}

func TestIssue_ShortEntropyFails(t *testing.T) {
	issuer := NewIssuer(time.Hour, WithEntropy(bytes.NewReader([]byte{1, 2, 3})))

	_, err := issuer.Issue(context.Background(), newMapStore(), uuid.New())
	assert.Error(t, err)
}

func TestIssue_SupersedesPreviousTokens(t *testing.T) {
	issuer := NewIssuer(time.Hour)
	store := newMapStore()
	userID := uuid.New()
	other := uuid.New()

	first, err := issuer.Issue(context.Background(), store, userID)
	require.NoError(t, err)
	_, err = issuer.Issue(context.Background(), store, other)
	require.NoError(t, err)
	second, err := issuer.Issue(context.Background(), store, userID)
	require.NoError(t, err)

	_, err = issuer.Consume(context.Background(), store, first.Value)
	assert.ErrorIs(t, err, ErrNotFound)

	rec, err := issuer.Consume(context.Background(), store, second.Value)
	require.NoError(t, err)
	assert.Equal(t, userID, rec.UserID)

	assert.Len(t, store.recs, 1, "other user's token survives")
}

func TestConsume_IsSingleUse(t *testing.T) {
	issuer := NewIssuer(time.Hour)
	store := newMapStore()

	issued, err := issuer.Issue(context.Background(), store, uuid.New())
	require.NoError(t, err)

	_, err = issuer.Consume(context.Background(), store, issued.Value)
	require.NoError(t, err)

	_, err = issuer.Consume(context.Background(), store, issued.Value)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConsume_ExpiredIsRemoved(t *testing.T) {
	c := &clock{t: time.Now()}
	issuer := NewIssuer(time.Hour, WithClock(c.now))
	store := newMapStore()

	issued, err := issuer.Issue(context.Background(), store, uuid.New())
	require.NoError(t, err)

	c.t = issued.ExpiresAt
	rec, err := issuer.Consume(context.Background(), store, issued.Value)
	assert.ErrorIs(t, err, ErrExpired)
	require.NotNil(t, rec)

	_, err = store.Find(context.Background(), Hash(issued.Value))
	assert.ErrorIs(t, err, ErrNotFound, "expired token must not survive")
}

func TestConsume_EmptyValue(t *testing.T) {
	_, err := NewIssuer(time.Hour).Consume(context.Background(), newMapStore(), "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConsume_ConcurrentCallersGetOneRecord(t *testing.T) {
	issuer := NewIssuer(time.Hour)
	store := newMapStore()

	issued, err := issuer.Issue(context.Background(), store, uuid.New())
	require.NoError(t, err)

	const callers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := issuer.Consume(context.Background(), store, issued.Value); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}
