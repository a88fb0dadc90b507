package models

import "time"

// AccessTier controls which configuration defaults a tenant starts from.
type AccessTier string

const (
	TierPublic  AccessTier = "public"
	TierPrivate AccessTier = "private"
)

// Roles of stored chat messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Tenant is an integration endpoint (a bot channel or a private client
// integration). Overrides are pointers: nil means "use the tier default".
type Tenant struct {
	ID         int64      `json:"id"`
	Identifier string     `json:"identifier"` // routing key, globally unique
	Title      string     `json:"title"`      // display name for admin tooling
	AccessTier AccessTier `json:"access_tier"`

	RateLimit        *int    `json:"rate_limit,omitempty"`
	MaxHistory       *int    `json:"max_history,omitempty"`
	DefaultModel     *string `json:"default_model,omitempty"`
	AvailableModels  *string `json:"available_models,omitempty"` // CSV of technical ids
	AllowModelSwitch *bool   `json:"allow_model_switch,omitempty"`
	DailyQuota       *int    `json:"daily_quota,omitempty"`
	MonthlyQuota     *int    `json:"monthly_quota,omitempty"`

	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// APIKey is a credential bound to exactly one tenant. Only the SHA-256 hash
// of the secret is ever stored.
type APIKey struct {
	ID        int64  `json:"id"`
	KeyHash   string `json:"-"`
	KeyPrefix string `json:"key_prefix"` // first chars, for logs only
	Name      string `json:"name"`
	TenantID  int64  `json:"tenant_id"`

	DailyQuota   *int `json:"daily_quota,omitempty"`   // overrides tenant quota when set
	MonthlyQuota *int `json:"monthly_quota,omitempty"` // overrides tenant quota when set

	IsActive   bool       `json:"is_active"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"` // nil = never expires
}

// Expired reports whether the key is past its expiry at the given time.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

// Message is one durable chat turn. Rows are append-only: /clear stamps
// ClearedAt instead of deleting, so lifetime counts never decrease.
// TenantID and APIKeyID are pointers because the public platform is
// untenanted; a tenant id of 0 is a value, not absence.
type Message struct {
	ID        int64      `json:"id"`
	TenantID  *int64     `json:"tenant_id,omitempty"`
	APIKeyID  *int64     `json:"api_key_id,omitempty"`
	Platform  string     `json:"platform"`
	UserID    string     `json:"user_id"`
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ClearedAt *time.Time `json:"cleared_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// UsageRecord is one row per completed request attempt, successful or not.
// Never mutated after insert; quota consumption is derived from it.
type UsageRecord struct {
	ID             int64     `json:"id"`
	RequestID      string    `json:"request_id"`
	APIKeyID       int64     `json:"api_key_id"`
	TenantID       int64     `json:"tenant_id"`
	SessionID      string    `json:"session_id"`
	Platform       string    `json:"platform"`
	Model          string    `json:"model"` // display name, not technical id
	Success        bool      `json:"success"`
	ResponseTimeMs *int      `json:"response_time_ms,omitempty"`
	TokensUsed     *int      `json:"tokens_used,omitempty"`
	EstimatedCost  *float64  `json:"estimated_cost,omitempty"`
	ErrorMessage   *string   `json:"error_message,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Turn is one entry of a session's in-memory context window.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Attachment is a file forwarded to the upstream backend alongside a query.
type Attachment struct {
	Data     string `json:"data"` // base64 payload
	MIMEType string `json:"mime_type"`
}
