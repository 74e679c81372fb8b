package storage

import (
	"context"
	"testing"
	"time"

	"github.com/Veraticus/payproof/internal/common"
	"github.com/Veraticus/payproof/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingStore struct {
	*SQLiteStorage
	gets int
}

func (c *countingStore) GetDecisionByHash(ctx context.Context, hash string) (*model.PaymentDecision, error) {
	c.gets++
	return c.SQLiteStorage.GetDecisionByHash(ctx, hash)
}

func TestDecisionCache_ReadThrough(t *testing.T) {
	backing := &countingStore{SQLiteStorage: createTestStorage(t)}
	cache := NewDecisionCache(backing, time.Minute)
	ctx := context.Background()

	_, err := cache.GetDecisionByHash(ctx, "hash-a")
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.Equal(t, 1, backing.gets)
	assert.Equal(t, 0, cache.Len(), "misses are not cached")

	_, err = backing.SaveDecision(ctx, &model.PaymentDecision{
		ID: "dec-1", ContentHash: "hash-a", Outcome: model.StateUnmatched, Reason: model.ReasonNoMatch,
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		d, err := cache.GetDecisionByHash(ctx, "hash-a")
		require.NoError(t, err)
		assert.Equal(t, "dec-1", d.ID)
	}
	assert.Equal(t, 2, backing.gets)
}

func TestDecisionCache_SaveKeepsStoredDecision(t *testing.T) {
	backing := &countingStore{SQLiteStorage: createTestStorage(t)}
	cache := NewDecisionCache(backing, time.Minute)
	ctx := context.Background()

	_, err := cache.SaveDecision(ctx, &model.PaymentDecision{
		ID: "dec-1", ContentHash: "hash-a", Outcome: model.StateUnmatched, Reason: model.ReasonNoMatch,
	})
	require.NoError(t, err)
	stored, err := cache.SaveDecision(ctx, &model.PaymentDecision{
		ID: "dec-2", ContentHash: "hash-a", Outcome: model.StatePendingReview, Reason: model.ReasonLowConfidence,
	})
	require.NoError(t, err)
	assert.Equal(t, "dec-1", stored.ID)

	d, err := cache.GetDecisionByHash(ctx, "hash-a")
	require.NoError(t, err)
	assert.Equal(t, "dec-1", d.ID)
	assert.Equal(t, 0, backing.gets)
}

func TestDecisionCache_Expiry(t *testing.T) {
	backing := &countingStore{SQLiteStorage: createTestStorage(t)}
	cache := NewDecisionCache(backing, time.Minute)
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := cache.SaveDecision(ctx, &model.PaymentDecision{
		ID: "dec-1", ContentHash: "hash-a", Outcome: model.StateUnmatched, Reason: model.ReasonNoMatch,
	})
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = cache.GetDecisionByHash(ctx, "hash-a")
	require.NoError(t, err)
	assert.Equal(t, 1, backing.gets, "expired entry goes back to the store")

	now = now.Add(2 * time.Minute)
	cache.evictExpired()
	assert.Equal(t, 0, cache.Len())
}

func TestDecisionCache_StartStop(t *testing.T) {
	cache := NewDecisionCache(createTestStorage(t), 0)
	assert.Equal(t, DefaultCacheTTL, cache.ttl)

	cache.Start()
	cache.Start()
	cache.Stop()
	cache.Stop()

	cache.Start()
	cache.Stop()
}
