package quota

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arashbot/gateway/internal/models"
	"github.com/arashbot/gateway/internal/storage"
	"github.com/arashbot/gateway/internal/tenant"
)

func intPtr(v int) *int { return &v }

func testTracker(store storage.UsageStore, now time.Time) *Tracker {
	tr := NewTracker(store, zap.NewNop())
	tr.now = func() time.Time { return now }
	return tr
}

func seedUsage(t *testing.T, store *storage.MemoryStorage, keyID int64, success bool, at time.Time) {
	t.Helper()
	require.NoError(t, store.InsertUsageRecord(context.Background(), &models.UsageRecord{
		RequestID: "req",
		APIKeyID:  keyID,
		Success:   success,
		Timestamp: at,
	}))
}

func TestCheckUnlimitedWhenNoLimitSet(t *testing.T) {
	store := storage.NewMemoryStorage()
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	tr := testTracker(store, now)

	seedUsage(t, store, 1, true, now.Add(-time.Hour))

	status, err := tr.Check(context.Background(), &models.APIKey{ID: 1}, tenant.Config{}, PeriodDaily)
	require.NoError(t, err)
	assert.True(t, status.Allowed)
	assert.Nil(t, status.Limit)
	assert.Equal(t, SourceUnlimited, status.Source)
	// Unlimited checks skip the usage count entirely.
	assert.Zero(t, status.CurrentUsage)
	assert.Nil(t, status.ResetTime)
}

func TestCheckTenantLimitApplies(t *testing.T) {
	store := storage.NewMemoryStorage()
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	tr := testTracker(store, now)
	cfg := tenant.Config{DailyQuota: intPtr(3)}

	for i := 0; i < 2; i++ {
		seedUsage(t, store, 1, true, now.Add(-time.Duration(i)*time.Minute))
	}

	status, err := tr.Check(context.Background(), &models.APIKey{ID: 1}, cfg, PeriodDaily)
	require.NoError(t, err)
	assert.True(t, status.Allowed)
	assert.Equal(t, 2, status.CurrentUsage)
	assert.Equal(t, SourceTenant, status.Source)
	require.NotNil(t, status.ResetTime)
	assert.Equal(t, time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC), *status.ResetTime)
}

func TestCheckUsageEqualToLimitDenies(t *testing.T) {
	store := storage.NewMemoryStorage()
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	tr := testTracker(store, now)
	cfg := tenant.Config{DailyQuota: intPtr(100)}

	for i := 0; i < 100; i++ {
		seedUsage(t, store, 1, true, now.Add(-time.Duration(i)*time.Second))
	}

	status, err := tr.Check(context.Background(), &models.APIKey{ID: 1}, cfg, PeriodDaily)
	require.NoError(t, err)
	assert.False(t, status.Allowed, "usage 100 against limit 100 must deny")
	assert.Equal(t, 100, status.CurrentUsage)
}

func TestCheckKeyOverrideBeatsTenantLimit(t *testing.T) {
	store := storage.NewMemoryStorage()
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	tr := testTracker(store, now)
	cfg := tenant.Config{DailyQuota: intPtr(1)}
	key := &models.APIKey{ID: 1, DailyQuota: intPtr(10)}

	for i := 0; i < 5; i++ {
		seedUsage(t, store, 1, true, now.Add(-time.Duration(i)*time.Minute))
	}

	status, err := tr.Check(context.Background(), key, cfg, PeriodDaily)
	require.NoError(t, err)
	assert.True(t, status.Allowed)
	assert.Equal(t, SourceAPIKey, status.Source)
	assert.Equal(t, 10, *status.Limit)
}

func TestCheckCountsOnlySuccessesInPeriod(t *testing.T) {
	store := storage.NewMemoryStorage()
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	tr := testTracker(store, now)
	cfg := tenant.Config{DailyQuota: intPtr(2)}

	seedUsage(t, store, 1, true, now.Add(-time.Hour))    // counts
	seedUsage(t, store, 1, false, now.Add(-time.Hour))   // failed, ignored
	seedUsage(t, store, 1, true, now.Add(-13*time.Hour)) // yesterday 23:00 UTC, ignored
	seedUsage(t, store, 2, true, now.Add(-time.Hour))    // other key, ignored

	status, err := tr.Check(context.Background(), &models.APIKey{ID: 1}, cfg, PeriodDaily)
	require.NoError(t, err)
	assert.True(t, status.Allowed)
	assert.Equal(t, 1, status.CurrentUsage)
}

func TestCheckMonthlyBounds(t *testing.T) {
	store := storage.NewMemoryStorage()
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	tr := testTracker(store, now)
	cfg := tenant.Config{MonthlyQuota: intPtr(10)}

	seedUsage(t, store, 1, true, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))    // first of month counts
	seedUsage(t, store, 1, true, time.Date(2026, 7, 31, 23, 59, 0, 0, time.UTC)) // last month, ignored

	status, err := tr.Check(context.Background(), &models.APIKey{ID: 1}, cfg, PeriodMonthly)
	require.NoError(t, err)
	assert.Equal(t, 1, status.CurrentUsage)
	require.NotNil(t, status.ResetTime)
	assert.Equal(t, time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), *status.ResetTime)
}

func TestCheckMonthlyDecemberRollsIntoJanuary(t *testing.T) {
	store := storage.NewMemoryStorage()
	now := time.Date(2026, 12, 15, 8, 0, 0, 0, time.UTC)
	tr := testTracker(store, now)
	cfg := tenant.Config{MonthlyQuota: intPtr(10)}

	status, err := tr.Check(context.Background(), &models.APIKey{ID: 1}, cfg, PeriodMonthly)
	require.NoError(t, err)
	require.NotNil(t, status.ResetTime)
	assert.Equal(t, time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC), *status.ResetTime)
}

func TestCheckInvalidPeriod(t *testing.T) {
	store := storage.NewMemoryStorage()
	tr := NewTracker(store, zap.NewNop())

	_, err := tr.Check(context.Background(), &models.APIKey{ID: 1}, tenant.Config{}, Period("weekly"))
	assert.Error(t, err)
}

func TestLogInsertsRecordWithDisplayModel(t *testing.T) {
	store := storage.NewMemoryStorage()
	tr := NewTracker(store, zap.NewNop())
	ctx := context.Background()

	elapsed := 420
	require.NoError(t, tr.Log(ctx, LogEntry{
		APIKeyID:       1,
		TenantID:       2,
		SessionID:      "abc",
		Platform:       "api",
		Model:          "google/gemini-2.5-flash",
		Success:        true,
		ResponseTimeMs: &elapsed,
	}))

	count, err := store.CountSuccessfulUsage(ctx, 1, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
