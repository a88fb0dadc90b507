package tenant

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arashbot/gateway/internal/models"
	"github.com/arashbot/gateway/internal/storage"
)

// flakyStore lets tests flip the tenant lookup into an error state while
// keeping the rest of the storage contract intact.
type flakyStore struct {
	*storage.MemoryStorage
	fail  bool
	loads int
}

func (s *flakyStore) GetTenant(ctx context.Context, id int64) (*models.Tenant, error) {
	if s.fail {
		return nil, errors.New("store down")
	}
	s.loads++
	return s.MemoryStorage.GetTenant(ctx, id)
}

func testDefaults() Defaults {
	return Defaults{
		Public: Config{
			Tier:            models.TierPublic,
			Model:           "google/gemini-2.0-flash-001",
			AvailableModels: []string{"google/gemini-2.0-flash-001"},
			RateLimit:       20,
			MaxHistory:      10,
			Commands:        []string{"start", "help"},
		},
		Private: Config{
			Tier:            models.TierPrivate,
			Model:           "openai/gpt-5-chat",
			AvailableModels: []string{"openai/gpt-5-chat", "anthropic/claude-sonnet-4"},
			RateLimit:       60,
			MaxHistory:      30,
			Commands:        []string{"start", "help", "settings"},
			RequiresAuth:    true,
		},
	}
}

func TestResolveNilTenantIsPublicDefaults(t *testing.T) {
	store := &flakyStore{MemoryStorage: storage.NewMemoryStorage()}
	r := NewResolver(store, testDefaults(), time.Minute, zap.NewNop())

	cfg, tenant, err := r.Resolve(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, tenant)
	assert.Equal(t, models.TierPublic, cfg.Tier)
	assert.Equal(t, 20, cfg.RateLimit)
	assert.Zero(t, store.loads)
}

func TestResolveMergesTenantOverrides(t *testing.T) {
	store := &flakyStore{MemoryStorage: storage.NewMemoryStorage()}
	ctx := context.Background()

	tn := &models.Tenant{
		Identifier: "acme",
		AccessTier: models.TierPrivate,
		RateLimit:  intPtr(5),
		IsActive:   true,
	}
	require.NoError(t, store.CreateTenant(ctx, tn))

	r := NewResolver(store, testDefaults(), time.Minute, zap.NewNop())

	cfg, resolved, err := r.Resolve(ctx, &tn.ID)
	require.NoError(t, err)
	require.NotNil(t, resolved)
	assert.Equal(t, "acme", resolved.Identifier)
	assert.Equal(t, 5, cfg.RateLimit)
	assert.Equal(t, 30, cfg.MaxHistory) // tier default survives
	assert.True(t, cfg.RequiresAuth)
}

func TestResolveInactiveTenantFails(t *testing.T) {
	store := &flakyStore{MemoryStorage: storage.NewMemoryStorage()}
	ctx := context.Background()

	tn := &models.Tenant{Identifier: "gone", AccessTier: models.TierPublic, IsActive: false}
	require.NoError(t, store.CreateTenant(ctx, tn))

	r := NewResolver(store, testDefaults(), time.Minute, zap.NewNop())

	_, _, err := r.Resolve(ctx, &tn.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not active")
}

func TestResolveUnknownTenantFails(t *testing.T) {
	store := &flakyStore{MemoryStorage: storage.NewMemoryStorage()}
	r := NewResolver(store, testDefaults(), time.Minute, zap.NewNop())

	id := int64(404)
	_, _, err := r.Resolve(context.Background(), &id)
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestResolveCachesWithinTTL(t *testing.T) {
	store := &flakyStore{MemoryStorage: storage.NewMemoryStorage()}
	ctx := context.Background()

	tn := &models.Tenant{Identifier: "cached", AccessTier: models.TierPublic, IsActive: true}
	require.NoError(t, store.CreateTenant(ctx, tn))

	r := NewResolver(store, testDefaults(), time.Minute, zap.NewNop())
	current := time.Now()
	r.now = func() time.Time { return current }

	for i := 0; i < 3; i++ {
		_, _, err := r.Resolve(ctx, &tn.ID)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, store.loads)

	// Past the TTL the store is consulted again.
	current = current.Add(2 * time.Minute)
	_, _, err := r.Resolve(ctx, &tn.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, store.loads)
}

func TestResolveServesStaleOnStoreError(t *testing.T) {
	store := &flakyStore{MemoryStorage: storage.NewMemoryStorage()}
	ctx := context.Background()

	tn := &models.Tenant{Identifier: "stale", AccessTier: models.TierPublic, IsActive: true}
	require.NoError(t, store.CreateTenant(ctx, tn))

	r := NewResolver(store, testDefaults(), time.Minute, zap.NewNop())
	current := time.Now()
	r.now = func() time.Time { return current }

	_, _, err := r.Resolve(ctx, &tn.ID)
	require.NoError(t, err)

	// TTL expires and the store starts failing; the stale entry still serves.
	current = current.Add(2 * time.Minute)
	store.fail = true

	cfg, resolved, err := r.Resolve(ctx, &tn.ID)
	require.NoError(t, err)
	assert.Equal(t, "stale", resolved.Identifier)
	assert.Equal(t, models.TierPublic, cfg.Tier)
}

func TestInvalidateDropsCacheEntry(t *testing.T) {
	store := &flakyStore{MemoryStorage: storage.NewMemoryStorage()}
	ctx := context.Background()

	tn := &models.Tenant{Identifier: "inv", AccessTier: models.TierPublic, IsActive: true}
	require.NoError(t, store.CreateTenant(ctx, tn))

	r := NewResolver(store, testDefaults(), time.Minute, zap.NewNop())

	_, _, err := r.Resolve(ctx, &tn.ID)
	require.NoError(t, err)
	r.Invalidate(tn.ID)

	_, _, err = r.Resolve(ctx, &tn.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, store.loads)
}
