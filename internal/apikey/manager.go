// Package apikey creates and validates the hashed credentials that private
// integrations authenticate with.
package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/arashbot/gateway/internal/models"
	"github.com/arashbot/gateway/internal/storage"
)

// ErrInvalidKey covers every rejection: unknown, revoked, expired, or a key
// whose tenant is inactive. Callers get no finer detail; the logs do.
var ErrInvalidKey = errors.New("invalid api key")

const (
	keyPrefix   = "ak_"
	prefixLen   = 12 // "ak_" + first chars, safe to log
	secretBytes = 32
)

// Manager issues and validates API keys. Secrets are returned exactly once
// at creation; only the SHA-256 hash is stored.
type Manager struct {
	store  storage.Storage
	logger *zap.Logger

	now func() time.Time
}

func NewManager(store storage.Storage, logger *zap.Logger) *Manager {
	return &Manager{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Generate builds a fresh secret with its hash and loggable prefix.
func Generate() (secret, hash, prefix string, err error) {
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", "", "", fmt.Errorf("failed to generate key material: %w", err)
	}

	secret = keyPrefix + base64.RawURLEncoding.EncodeToString(raw)
	return secret, Hash(secret), secret[:prefixLen], nil
}

// Hash returns the SHA-256 hex digest stored and compared for a secret.
func Hash(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// Create provisions a key for a tenant and returns the secret once.
func (m *Manager) Create(ctx context.Context, tenantID int64, name string, dailyQuota, monthlyQuota *int, expiresAt *time.Time) (string, *models.APIKey, error) {
	secret, hash, prefix, err := Generate()
	if err != nil {
		return "", nil, err
	}

	key := &models.APIKey{
		KeyHash:      hash,
		KeyPrefix:    prefix,
		Name:         name,
		TenantID:     tenantID,
		DailyQuota:   dailyQuota,
		MonthlyQuota: monthlyQuota,
		IsActive:     true,
		ExpiresAt:    expiresAt,
	}

	if err := m.store.CreateAPIKey(ctx, key); err != nil {
		return "", nil, fmt.Errorf("failed to store api key: %w", err)
	}

	m.logger.Info("Created API key",
		zap.String("key_prefix", prefix),
		zap.Int64("tenant_id", tenantID),
		zap.String("name", name))

	return secret, key, nil
}

// Validate checks a presented secret and returns the key with its tenant.
// The chain is: hash lookup, key active, key not expired, tenant active.
// Valid keys get their last-used timestamp advanced.
func (m *Manager) Validate(ctx context.Context, secret string) (*models.APIKey, *models.Tenant, error) {
	hash := Hash(secret)

	key, err := m.store.GetAPIKeyByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			m.logger.Warn("Unknown API key presented", zap.String("hash_prefix", hash[:16]))
			return nil, nil, ErrInvalidKey
		}
		return nil, nil, fmt.Errorf("failed to look up api key: %w", err)
	}

	if !key.IsActive {
		m.logger.Warn("Revoked API key presented", zap.String("key_prefix", key.KeyPrefix))
		return nil, nil, ErrInvalidKey
	}
	if key.Expired(m.now().UTC()) {
		m.logger.Warn("Expired API key presented", zap.String("key_prefix", key.KeyPrefix))
		return nil, nil, ErrInvalidKey
	}

	t, err := m.store.GetTenant(ctx, key.TenantID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load tenant for key %s: %w", key.KeyPrefix, err)
	}
	if !t.IsActive {
		m.logger.Warn("API key of inactive tenant presented",
			zap.String("key_prefix", key.KeyPrefix),
			zap.String("tenant", t.Identifier))
		return nil, nil, ErrInvalidKey
	}

	if err := m.store.TouchAPIKey(ctx, key.ID, m.now().UTC()); err != nil {
		m.logger.Warn("Failed to update key last-used timestamp", zap.Error(err))
	}

	return key, t, nil
}

// Revoke deactivates a key. Revocation is reversible through storage but
// never through this manager.
func (m *Manager) Revoke(ctx context.Context, keyID int64) error {
	if err := m.store.SetAPIKeyActive(ctx, keyID, false); err != nil {
		return fmt.Errorf("failed to revoke api key %d: %w", keyID, err)
	}

	m.logger.Info("Revoked API key", zap.Int64("api_key_id", keyID))
	return nil
}
