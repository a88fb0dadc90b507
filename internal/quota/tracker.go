// Package quota enforces daily and monthly request budgets per API key,
// derived from the append-only usage log.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arashbot/gateway/internal/models"
	"github.com/arashbot/gateway/internal/storage"
	"github.com/arashbot/gateway/internal/tenant"
)

// Period is a quota accounting window.
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodMonthly Period = "monthly"
)

// Limit sources, in resolution order.
const (
	SourceAPIKey    = "api_key"
	SourceTenant    = "tenant"
	SourceUnlimited = "unlimited"
)

// Status is the outcome of a quota check.
type Status struct {
	Allowed      bool
	CurrentUsage int
	Limit        *int // nil = unlimited
	Source       string
	ResetTime    *time.Time
}

// Tracker checks and records usage. Quota consumption counts successful
// requests only; the log itself records every attempt.
type Tracker struct {
	store  storage.UsageStore
	logger *zap.Logger

	now func() time.Time
}

func NewTracker(store storage.UsageStore, logger *zap.Logger) *Tracker {
	return &Tracker{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Check resolves the applicable limit (key override, else the tenant's
// merged config, else unlimited) and compares it against successful usage
// since the period boundary. Usage equal to the limit denies the next
// request.
func (t *Tracker) Check(ctx context.Context, key *models.APIKey, cfg tenant.Config, period Period) (Status, error) {
	var limit *int
	source := SourceAPIKey

	switch period {
	case PeriodDaily:
		limit = key.DailyQuota
		if limit == nil {
			limit = cfg.DailyQuota
			source = SourceTenant
		}
	case PeriodMonthly:
		limit = key.MonthlyQuota
		if limit == nil {
			limit = cfg.MonthlyQuota
			source = SourceTenant
		}
	default:
		return Status{}, fmt.Errorf("invalid quota period %q", period)
	}

	if limit == nil {
		return Status{
			Allowed:      true,
			CurrentUsage: 0,
			Limit:        nil,
			Source:       SourceUnlimited,
			ResetTime:    nil,
		}, nil
	}

	periodStart, resetTime := t.periodBounds(period)

	usage, err := t.store.CountSuccessfulUsage(ctx, key.ID, periodStart)
	if err != nil {
		return Status{}, fmt.Errorf("failed to count usage for key %s: %w", key.KeyPrefix, err)
	}

	allowed := usage < *limit
	if !allowed {
		t.logger.Warn("Quota exceeded",
			zap.String("key_prefix", key.KeyPrefix),
			zap.String("period", string(period)),
			zap.Int("usage", usage),
			zap.Int("limit", *limit))
	}

	return Status{
		Allowed:      allowed,
		CurrentUsage: usage,
		Limit:        limit,
		Source:       source,
		ResetTime:    &resetTime,
	}, nil
}

// periodBounds returns the UTC start of the current period and the moment
// the quota resets. Months roll over the calendar year at December.
func (t *Tracker) periodBounds(period Period) (time.Time, time.Time) {
	now := t.now().UTC()

	if period == PeriodDaily {
		start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 0, 1)
	}

	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// LogEntry is one request attempt to record, denied and failed attempts
// included.
type LogEntry struct {
	APIKeyID       int64
	TenantID       int64
	SessionID      string
	Platform       string
	Model          string // technical id; stored as display name
	Success        bool
	ResponseTimeMs *int
	TokensUsed     *int
	EstimatedCost  *float64
	ErrorMessage   *string
}

// Log inserts exactly one usage record for the attempt.
func (t *Tracker) Log(ctx context.Context, entry LogEntry) error {
	rec := &models.UsageRecord{
		RequestID:      uuid.New().String(),
		APIKeyID:       entry.APIKeyID,
		TenantID:       entry.TenantID,
		SessionID:      entry.SessionID,
		Platform:       entry.Platform,
		Model:          tenant.DisplayModelName(entry.Model),
		Success:        entry.Success,
		ResponseTimeMs: entry.ResponseTimeMs,
		TokensUsed:     entry.TokensUsed,
		EstimatedCost:  entry.EstimatedCost,
		ErrorMessage:   entry.ErrorMessage,
	}

	if err := t.store.InsertUsageRecord(ctx, rec); err != nil {
		return fmt.Errorf("failed to insert usage record: %w", err)
	}

	t.logger.Debug("Logged usage",
		zap.Int64("api_key_id", entry.APIKeyID),
		zap.Int64("tenant_id", entry.TenantID),
		zap.String("model", rec.Model),
		zap.Bool("success", entry.Success))

	return nil
}
