package suppression

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebridge/inbox-triage/internal/domain"
)

type memStore struct {
	rows      map[string]*domain.SenderSuppression
	listCalls int
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]*domain.SenderSuppression)}
}

func key(caregiverID string, p domain.Provider, d string) string {
	return caregiverID + "|" + string(p) + "|" + d
}

func (s *memStore) Increment(_ context.Context, caregiverID string, p domain.Provider, senderDomain string, threshold int) (*domain.SenderSuppression, error) {
	k := key(caregiverID, p, senderDomain)
	row, ok := s.rows[k]
	if !ok {
		row = &domain.SenderSuppression{CaregiverID: caregiverID, Provider: p, SenderDomain: senderDomain}
		s.rows[k] = row
	}
	row.IgnoreCount++
	now := time.Now().UTC()
	row.LastIgnoredAt = &now
	if row.IgnoreCount >= threshold {
		row.Suppressed = true
	}
	return row, nil
}

func (s *memStore) SetSuppressed(_ context.Context, caregiverID string, p domain.Provider, senderDomain string, suppressed bool) (*domain.SenderSuppression, error) {
	k := key(caregiverID, p, senderDomain)
	row, ok := s.rows[k]
	if !ok {
		row = &domain.SenderSuppression{CaregiverID: caregiverID, Provider: p, SenderDomain: senderDomain}
		s.rows[k] = row
	}
	row.Suppressed = suppressed
	if !suppressed {
		row.IgnoreCount = 0
	}
	return row, nil
}

func (s *memStore) ListSuppressed(_ context.Context, caregiverID string, p domain.Provider) ([]string, error) {
	s.listCalls++
	var out []string
	for _, row := range s.rows {
		if row.CaregiverID == caregiverID && row.Provider == p && row.Suppressed {
			out = append(out, row.SenderDomain)
		}
	}
	return out, nil
}

func (s *memStore) List(_ context.Context, caregiverID string) ([]*domain.SenderSuppression, error) {
	var out []*domain.SenderSuppression
	for _, row := range s.rows {
		if row.CaregiverID == caregiverID {
			out = append(out, row)
		}
	}
	return out, nil
}

func testCache(t *testing.T) *Cache {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewCache(rdb, time.Minute)
}

func TestLearnerPromotesAtThreshold(t *testing.T) {
	store := newMemStore()
	l := NewLearner(store, nil, 3)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		sup, err := l.RecordIgnore(ctx, "cg-1", domain.ProviderGoogle, "spammy.com")
		require.NoError(t, err)
		assert.False(t, sup.Suppressed, "below threshold stays unsuppressed")
	}

	sup, err := l.RecordIgnore(ctx, "cg-1", domain.ProviderGoogle, "spammy.com")
	require.NoError(t, err)
	assert.True(t, sup.Suppressed)
	assert.Equal(t, 3, sup.IgnoreCount)
}

func TestLearnerEmptyDomainTeachesNothing(t *testing.T) {
	store := newMemStore()
	l := NewLearner(store, nil, 3)

	sup, err := l.RecordIgnore(context.Background(), "cg-1", domain.ProviderGoogle, "")
	require.NoError(t, err)
	assert.Nil(t, sup)
	assert.Empty(t, store.rows)
}

func TestLearnerScopesPerCaregiver(t *testing.T) {
	store := newMemStore()
	l := NewLearner(store, nil, 2)
	ctx := context.Background()

	_, err := l.RecordIgnore(ctx, "cg-1", domain.ProviderGoogle, "spammy.com")
	require.NoError(t, err)
	_, err = l.RecordIgnore(ctx, "cg-1", domain.ProviderGoogle, "spammy.com")
	require.NoError(t, err)
	sup, err := l.RecordIgnore(ctx, "cg-2", domain.ProviderGoogle, "spammy.com")
	require.NoError(t, err)

	assert.False(t, sup.Suppressed, "one caregiver's ignores never suppress for another")
	assert.Equal(t, 1, sup.IgnoreCount)
}

func TestUnsuppressResetsCount(t *testing.T) {
	store := newMemStore()
	l := NewLearner(store, nil, 2)
	ctx := context.Background()

	_, _ = l.RecordIgnore(ctx, "cg-1", domain.ProviderGoogle, "spammy.com")
	_, _ = l.RecordIgnore(ctx, "cg-1", domain.ProviderGoogle, "spammy.com")

	sup, err := l.Unsuppress(ctx, "cg-1", domain.ProviderGoogle, "spammy.com")
	require.NoError(t, err)
	assert.False(t, sup.Suppressed)
	assert.Zero(t, sup.IgnoreCount)

	// One more ignore must not instantly re-promote.
	sup, err = l.RecordIgnore(ctx, "cg-1", domain.ProviderGoogle, "spammy.com")
	require.NoError(t, err)
	assert.False(t, sup.Suppressed)
}

func TestViewReadsThroughCache(t *testing.T) {
	store := newMemStore()
	cache := testCache(t)
	ctx := context.Background()

	_, err := store.SetSuppressed(ctx, "cg-1", domain.ProviderGoogle, "spammy.com", true)
	require.NoError(t, err)

	v := NewView(store, cache)
	set, err := v.SuppressedDomains(ctx, "cg-1", domain.ProviderGoogle)
	require.NoError(t, err)
	assert.Contains(t, set, "spammy.com")
	assert.Equal(t, 1, store.listCalls)

	// Second read is served from redis.
	set, err = v.SuppressedDomains(ctx, "cg-1", domain.ProviderGoogle)
	require.NoError(t, err)
	assert.Contains(t, set, "spammy.com")
	assert.Equal(t, 1, store.listCalls)
}

func TestLearnerInvalidatesCacheOnWrite(t *testing.T) {
	store := newMemStore()
	cache := testCache(t)
	ctx := context.Background()

	v := NewView(store, cache)
	l := NewLearner(store, cache, 1)

	set, err := v.SuppressedDomains(ctx, "cg-1", domain.ProviderGoogle)
	require.NoError(t, err)
	assert.Empty(t, set)

	_, err = l.RecordIgnore(ctx, "cg-1", domain.ProviderGoogle, "spammy.com")
	require.NoError(t, err)

	set, err = v.SuppressedDomains(ctx, "cg-1", domain.ProviderGoogle)
	require.NoError(t, err)
	assert.Contains(t, set, "spammy.com", "stale cache entry must not survive a write")
}

func TestViewWithoutCache(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	_, _ = store.SetSuppressed(ctx, "cg-1", domain.ProviderGoogle, "spammy.com", true)

	v := NewView(store, nil)
	set, err := v.SuppressedDomains(ctx, "cg-1", domain.ProviderGoogle)
	require.NoError(t, err)
	assert.Contains(t, set, "spammy.com")
}
