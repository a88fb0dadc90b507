package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/arashbot/gateway/internal/models"
)

// MemoryStorage keeps the whole store in process memory. Used for local
// development and as the test double behind the core packages.
type MemoryStorage struct {
	mu      sync.RWMutex
	nextID  int64
	tenants map[int64]*models.Tenant
	keys    map[int64]*models.APIKey
	msgs    []*models.Message
	usage   []*models.UsageRecord
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		tenants: make(map[int64]*models.Tenant),
		keys:    make(map[int64]*models.APIKey),
	}
}

func (s *MemoryStorage) nextSequence() int64 {
	s.nextID++
	return s.nextID
}

func (s *MemoryStorage) GetTenant(ctx context.Context, id int64) (*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if tenant, exists := s.tenants[id]; exists {
		copied := *tenant
		return &copied, nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStorage) GetTenantByIdentifier(ctx context.Context, identifier string) (*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, tenant := range s.tenants {
		if tenant.Identifier == identifier {
			copied := *tenant
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStorage) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tenant.ID == 0 {
		tenant.ID = s.nextSequence()
	}
	tenant.CreatedAt = time.Now().UTC()
	tenant.UpdatedAt = tenant.CreatedAt
	copied := *tenant
	s.tenants[tenant.ID] = &copied
	return nil
}

// PutTenant stores a tenant under its existing id, id 0 included. Test
// seams need this; CreateTenant assigns ids and would remap 0.
func (s *MemoryStorage) PutTenant(tenant *models.Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *tenant
	s.tenants[tenant.ID] = &copied
}

func (s *MemoryStorage) GetAPIKey(ctx context.Context, id int64) (*models.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if key, exists := s.keys[id]; exists {
		copied := *key
		return &copied, nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStorage) GetAPIKeyByHash(ctx context.Context, keyHash string) (*models.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, key := range s.keys {
		if key.KeyHash == keyHash {
			copied := *key
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStorage) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key.ID == 0 {
		key.ID = s.nextSequence()
	}
	key.CreatedAt = time.Now().UTC()
	copied := *key
	s.keys[key.ID] = &copied
	return nil
}

func (s *MemoryStorage) SetAPIKeyActive(ctx context.Context, id int64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, exists := s.keys[id]
	if !exists {
		return ErrNotFound
	}
	key.IsActive = active
	return nil
}

func (s *MemoryStorage) TouchAPIKey(ctx context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key, exists := s.keys[id]; exists {
		key.LastUsedAt = &at
	}
	return nil
}

func sameTenant(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (s *MemoryStorage) CountMessages(ctx context.Context, platform, userID string, tenantID *int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, msg := range s.msgs {
		if msg.Platform == platform && msg.UserID == userID && sameTenant(msg.TenantID, tenantID) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStorage) LoadUnclearedMessages(ctx context.Context, platform, userID string, tenantID *int64) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Message
	for _, msg := range s.msgs {
		if msg.Platform == platform && msg.UserID == userID &&
			sameTenant(msg.TenantID, tenantID) && msg.ClearedAt == nil {
			copied := *msg
			result = append(result, &copied)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStorage) AppendMessages(ctx context.Context, msgs []*models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, msg := range msgs {
		msg.ID = s.nextSequence()
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = time.Now().UTC()
		}
		copied := *msg
		s.msgs = append(s.msgs, &copied)
	}
	return nil
}

func (s *MemoryStorage) MarkCleared(ctx context.Context, platform, userID string, tenantID *int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, msg := range s.msgs {
		if msg.Platform == platform && msg.UserID == userID &&
			sameTenant(msg.TenantID, tenantID) && msg.ClearedAt == nil {
			cleared := at
			msg.ClearedAt = &cleared
		}
	}
	return nil
}

func (s *MemoryStorage) CountSuccessfulUsage(ctx context.Context, apiKeyID int64, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, rec := range s.usage {
		if rec.APIKeyID == apiKeyID && rec.Success && !rec.Timestamp.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStorage) InsertUsageRecord(ctx context.Context, rec *models.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.ID = s.nextSequence()
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	copied := *rec
	s.usage = append(s.usage, &copied)
	return nil
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}
