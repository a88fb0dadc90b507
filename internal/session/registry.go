package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arashbot/gateway/internal/models"
	"github.com/arashbot/gateway/internal/storage"
	"github.com/arashbot/gateway/internal/tenant"
)

// Registry is the tenant-scoped session cache. Lookups verify ownership,
// first touches seed history from the durable store, and an idle sweep
// evicts stale sessions from memory only.
type Registry struct {
	store       storage.MessageStore
	resolver    *tenant.Resolver
	logger      *zap.Logger
	idleTimeout time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session

	// Per-key locks serializing the lookup-then-insert creation path. The
	// history load between check and insert is a suspension point; without
	// this, two first requests for one new key race.
	createMu    sync.Mutex
	createLocks map[string]*sync.Mutex

	now func() time.Time
}

func NewRegistry(store storage.MessageStore, resolver *tenant.Resolver, idleTimeout time.Duration, logger *zap.Logger) *Registry {
	return &Registry{
		store:       store,
		resolver:    resolver,
		logger:      logger,
		idleTimeout: idleTimeout,
		sessions:    make(map[string]*Session),
		createLocks: make(map[string]*sync.Mutex),
		now:         time.Now,
	}
}

// GetOrCreate returns the session for the key, creating and seeding it on
// first touch. If the session exists and was created under a different API
// key, the call fails closed with *models.OwnershipError; it never adopts
// the session or creates a second one.
func (r *Registry) GetOrCreate(ctx context.Context, platform, userID string, tenantID, apiKeyID *int64) (*Session, error) {
	key := Key(platform, tenantID, userID)

	r.mu.RLock()
	existing, found := r.sessions[key]
	r.mu.RUnlock()

	if found {
		return r.admit(existing, apiKeyID)
	}

	lock := r.creationLock(key)
	lock.Lock()
	defer func() {
		lock.Unlock()
		r.releaseCreationLock(key)
	}()

	// A concurrent first request may have won the lock and created the
	// session while this caller waited.
	r.mu.RLock()
	existing, found = r.sessions[key]
	r.mu.RUnlock()
	if found {
		return r.admit(existing, apiKeyID)
	}

	cfg, _, err := r.resolver.Resolve(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	totalCount, history := r.loadHistory(ctx, platform, userID, tenantID)

	sess := newSession(platform, userID, tenantID, apiKeyID, cfg, history, totalCount, r.now)

	r.mu.Lock()
	r.sessions[key] = sess
	r.mu.Unlock()

	r.logger.Info("Created session",
		zap.String("platform", platform),
		zap.String("user_id", userID),
		zap.String("session_id", MaskID(sess.ID())),
		zap.Int("total_messages", totalCount),
		zap.Int("context_messages", len(history)))

	return sess, nil
}

func (r *Registry) admit(sess *Session, apiKeyID *int64) (*Session, error) {
	// Ownership guard: a presented key that differs from the creator is a
	// denial, full stop. A missing key is also a denial when the session has
	// an owner and its tier requires authentication; public sessions have no
	// owner to mismatch.
	denied := false
	if apiKeyID != nil {
		denied = !sameKey(sess.apiKeyID, apiKeyID)
	} else {
		denied = sess.apiKeyID != nil && sess.Config().RequiresAuth
	}

	if denied {
		r.logger.Warn("Cross-credential session access denied",
			zap.String("platform", sess.platform),
			zap.String("user_id", sess.userID),
			zap.Int64p("presented_key_id", apiKeyID))
		return nil, &models.OwnershipError{
			Platform:       sess.platform,
			UserID:         sess.userID,
			OwnerKeyID:     sess.apiKeyID,
			PresentedKeyID: apiKeyID,
		}
	}

	sess.Touch(r.now().UTC())
	return sess, nil
}

func sameKey(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// loadHistory seeds a new session from the store. A store failure degrades
// to an empty context: chat still works, just without prior turns.
func (r *Registry) loadHistory(ctx context.Context, platform, userID string, tenantID *int64) (int, []models.Turn) {
	totalCount, err := r.store.CountMessages(ctx, platform, userID, tenantID)
	if err != nil {
		r.logger.Error("Failed to load message count, starting at zero",
			zap.Error(err),
			zap.String("platform", platform),
			zap.String("user_id", userID))
		totalCount = 0
	}

	msgs, err := r.store.LoadUnclearedMessages(ctx, platform, userID, tenantID)
	if err != nil {
		r.logger.Error("Failed to load message history, starting with empty context",
			zap.Error(err),
			zap.String("platform", platform),
			zap.String("user_id", userID))
		return totalCount, nil
	}

	history := make([]models.Turn, 0, len(msgs))
	for _, msg := range msgs {
		history = append(history, models.Turn{Role: msg.Role, Content: msg.Content})
	}
	return totalCount, history
}

func (r *Registry) creationLock(key string) *sync.Mutex {
	r.createMu.Lock()
	defer r.createMu.Unlock()

	lock, exists := r.createLocks[key]
	if !exists {
		lock = &sync.Mutex{}
		r.createLocks[key] = lock
	}
	return lock
}

func (r *Registry) releaseCreationLock(key string) {
	r.createMu.Lock()
	defer r.createMu.Unlock()

	// Once the session exists the fast path never reaches the lock again.
	if _, exists := r.sessions[key]; exists {
		delete(r.createLocks, key)
	}
}

// Get returns an existing session without creating one.
func (r *Registry) Get(platform string, tenantID *int64, userID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, found := r.sessions[Key(platform, tenantID, userID)]
	return sess, found
}

// Count reports the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// SweepIdle evicts sessions idle past the timeout and returns how many were
// removed. Eviction is in-memory only; durable data is never touched. The
// sweep walks a snapshot of keys, not the live map.
func (r *Registry) SweepIdle() int {
	cutoff := r.now().UTC().Add(-r.idleTimeout)

	r.mu.RLock()
	keys := make([]string, 0, len(r.sessions))
	for key := range r.sessions {
		keys = append(keys, key)
	}
	r.mu.RUnlock()

	removed := 0
	for _, key := range keys {
		r.mu.Lock()
		if sess, exists := r.sessions[key]; exists && sess.LastActivity().Before(cutoff) {
			delete(r.sessions, key)
			removed++
		}
		r.mu.Unlock()
	}

	if removed > 0 {
		r.logger.Info("Evicted idle sessions", zap.Int("count", removed))
	}
	return removed
}

// Run sweeps on the given interval until the context is cancelled.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.SweepIdle()
		}
	}
}
