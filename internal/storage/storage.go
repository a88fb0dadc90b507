package storage

import (
	"context"
	"errors"
	"time"

	"github.com/arashbot/gateway/internal/models"
)

// ErrNotFound is returned when a tenant or API key does not exist.
var ErrNotFound = errors.New("not found")

// Storage is the durable store behind the gateway core: tenants, API keys,
// the append-only message log and the usage log. Message and usage
// operations take nullable tenant/key ids as *int64 so the untenanted public
// platform and a tenant with id 0 stay distinct.
type Storage interface {
	GetTenant(ctx context.Context, id int64) (*models.Tenant, error)
	GetTenantByIdentifier(ctx context.Context, identifier string) (*models.Tenant, error)
	CreateTenant(ctx context.Context, tenant *models.Tenant) error

	GetAPIKey(ctx context.Context, id int64) (*models.APIKey, error)
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*models.APIKey, error)
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	SetAPIKeyActive(ctx context.Context, id int64, active bool) error
	TouchAPIKey(ctx context.Context, id int64, at time.Time) error

	Close() error

	// Embed message and usage log interfaces
	MessageStore
	UsageStore
}

// MessageStore is the durable conversation log consumed by the session
// registry and the command interpreter.
type MessageStore interface {
	// CountMessages counts all rows for the triple, cleared or not. This is
	// the lifetime counter: it never decreases.
	CountMessages(ctx context.Context, platform, userID string, tenantID *int64) (int, error)
	// LoadUnclearedMessages returns rows with no cleared_at marker in
	// creation order; they seed a new session's context window.
	LoadUnclearedMessages(ctx context.Context, platform, userID string, tenantID *int64) ([]*models.Message, error)
	// AppendMessages inserts the given rows as one unit.
	AppendMessages(ctx context.Context, msgs []*models.Message) error
	// MarkCleared stamps cleared_at on all currently-uncleared rows for the
	// triple. Rows are never deleted.
	MarkCleared(ctx context.Context, platform, userID string, tenantID *int64, at time.Time) error
}

// UsageStore is the append-only usage log behind quota accounting.
type UsageStore interface {
	// CountSuccessfulUsage counts successful records for the key since the
	// given period boundary.
	CountSuccessfulUsage(ctx context.Context, apiKeyID int64, since time.Time) (int, error)
	InsertUsageRecord(ctx context.Context, rec *models.UsageRecord) error
}
