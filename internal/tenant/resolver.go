package tenant

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arashbot/gateway/internal/models"
	"github.com/arashbot/gateway/internal/storage"
)

// Defaults carries the baseline configuration per access tier.
type Defaults struct {
	Public  Config
	Private Config
}

func (d Defaults) ForTier(tier models.AccessTier) Config {
	if tier == models.TierPublic {
		return d.Public
	}
	return d.Private
}

// Resolver turns a tenant id into its effective configuration: tier defaults
// with the tenant's own overrides merged on top. Loaded tenants are cached
// for a short TTL so every message does not hit the store.
type Resolver struct {
	store    storage.Storage
	defaults Defaults
	logger   *zap.Logger

	mu       sync.RWMutex
	cache    map[int64]cacheEntry
	cacheTTL time.Duration

	now func() time.Time
}

type cacheEntry struct {
	tenant   *models.Tenant
	loadedAt time.Time
}

func NewResolver(store storage.Storage, defaults Defaults, cacheTTL time.Duration, logger *zap.Logger) *Resolver {
	return &Resolver{
		store:    store,
		defaults: defaults,
		logger:   logger,
		cache:    make(map[int64]cacheEntry),
		cacheTTL: cacheTTL,
		now:      time.Now,
	}
}

// Resolve returns the effective config for a tenant. A nil tenant id is the
// untenanted public platform and resolves to the public tier defaults.
func (r *Resolver) Resolve(ctx context.Context, tenantID *int64) (Config, *models.Tenant, error) {
	if tenantID == nil {
		return r.defaults.Public.Clone(), nil, nil
	}

	t, err := r.loadTenant(ctx, *tenantID)
	if err != nil {
		return Config{}, nil, fmt.Errorf("failed to resolve tenant %d: %w", *tenantID, err)
	}
	if !t.IsActive {
		return Config{}, nil, fmt.Errorf("tenant %q is not active", t.Identifier)
	}

	return Merge(r.defaults.ForTier(t.AccessTier), t), t, nil
}

func (r *Resolver) loadTenant(ctx context.Context, id int64) (*models.Tenant, error) {
	r.mu.RLock()
	entry, cached := r.cache[id]
	r.mu.RUnlock()

	if cached && r.now().Sub(entry.loadedAt) < r.cacheTTL {
		return entry.tenant, nil
	}

	t, err := r.store.GetTenant(ctx, id)
	if err != nil {
		// A stale entry beats failing the request when the store hiccups.
		if cached {
			r.logger.Warn("Using stale tenant config after store error",
				zap.Error(err),
				zap.Int64("tenant_id", id))
			return entry.tenant, nil
		}
		return nil, err
	}

	r.mu.Lock()
	r.cache[id] = cacheEntry{tenant: t, loadedAt: r.now()}
	r.mu.Unlock()

	return t, nil
}

// Invalidate drops a tenant from the cache; admin tooling calls this after
// changing overrides.
func (r *Resolver) Invalidate(id int64) {
	r.mu.Lock()
	delete(r.cache, id)
	r.mu.Unlock()
}
