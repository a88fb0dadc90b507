package processor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arashbot/gateway/internal/command"
	"github.com/arashbot/gateway/internal/models"
	"github.com/arashbot/gateway/internal/quota"
	"github.com/arashbot/gateway/internal/ratelimit"
	"github.com/arashbot/gateway/internal/session"
	"github.com/arashbot/gateway/internal/storage"
	"github.com/arashbot/gateway/internal/tenant"
	"github.com/arashbot/gateway/internal/upstream"
)

type fakeUpstream struct {
	reply   string
	err     error
	calls   int
	lastReq upstream.Request
	healthy bool
}

func (f *fakeUpstream) Send(ctx context.Context, req upstream.Request) (*upstream.Response, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	tokens := 7
	return &upstream.Response{Text: f.reply, TokensUsed: &tokens}, nil
}

func (f *fakeUpstream) Health(ctx context.Context) bool { return f.healthy }

type fixture struct {
	store    *storage.MemoryStorage
	upstream *fakeUpstream
	proc     *Processor
}

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := storage.NewMemoryStorage()
	logger := zap.NewNop()

	defaults := tenant.Defaults{
		Public: tenant.Config{
			Tier:             models.TierPublic,
			Model:            "google/gemini-2.0-flash-001",
			AvailableModels:  []string{"google/gemini-2.0-flash-001", "google/gemini-2.5-flash"},
			RateLimit:        2,
			MaxHistory:       10,
			Commands:         []string{"start", "help", "status", "clear", "model", "models"},
			AllowModelSwitch: true,
		},
		Private: tenant.Config{
			Tier:             models.TierPrivate,
			Model:            "openai/gpt-5-chat",
			AvailableModels:  []string{"openai/gpt-5-chat", "anthropic/claude-sonnet-4"},
			RateLimit:        60,
			MaxHistory:       30,
			Commands:         []string{"start", "help", "status", "clear", "model", "models", "settings"},
			AllowModelSwitch: true,
			RequiresAuth:     true,
		},
	}
	resolver := tenant.NewResolver(store, defaults, time.Minute, logger)
	registry := session.NewRegistry(store, resolver, 30*time.Minute, logger)
	limiter := ratelimit.NewSlidingWindowLimiter(logger)
	tracker := quota.NewTracker(store, logger)
	up := &fakeUpstream{reply: "assistant reply", healthy: true}
	commands := command.NewInterpreter(store, logger)

	return &fixture{
		store:    store,
		upstream: up,
		proc:     New(registry, limiter, tracker, up, commands, store, logger),
	}
}

func (f *fixture) seedPrivateTenant(t *testing.T, dailyQuota *int) (int64, int64) {
	t.Helper()
	ctx := context.Background()

	tn := &models.Tenant{
		Identifier: "acme",
		AccessTier: models.TierPrivate,
		DailyQuota: dailyQuota,
		IsActive:   true,
	}
	require.NoError(t, f.store.CreateTenant(ctx, tn))

	key := &models.APIKey{KeyHash: "h", KeyPrefix: "ak_test", Name: "t", TenantID: tn.ID, IsActive: true}
	require.NoError(t, f.store.CreateAPIKey(ctx, key))

	return tn.ID, key.ID
}

func TestHandleChatSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp := f.proc.Handle(ctx, Request{Platform: "telegram", UserID: "42", Text: "hello"})

	require.True(t, resp.Success)
	assert.Equal(t, "assistant reply", resp.Response)
	assert.Equal(t, "Gemini 2.0 Flash", resp.Model)
	assert.Equal(t, 2, resp.TotalMessageCount)
	assert.Empty(t, resp.ErrorKind)

	assert.Equal(t, 1, f.upstream.calls)
	assert.Equal(t, "hello", f.upstream.lastReq.Query)

	// Both turns persisted durably.
	msgs, err := f.store.LoadUnclearedMessages(ctx, "telegram", "42", nil)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, models.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "assistant reply", msgs[1].Content)
}

func TestHandleSendsPriorHistoryUpstream(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.proc.Handle(ctx, Request{Platform: "telegram", UserID: "42", Text: "first"})
	f.proc.Handle(ctx, Request{Platform: "telegram", UserID: "42", Text: "second"})

	// The second call carries the first exchange as context.
	require.Len(t, f.upstream.lastReq.History, 2)
	assert.Equal(t, "first", f.upstream.lastReq.History[0].Content)
	assert.Equal(t, "assistant reply", f.upstream.lastReq.History[1].Content)
	assert.Equal(t, "second", f.upstream.lastReq.Query)
}

func TestHandleRateLimitDenied(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Public tier allows 2 per minute in this fixture.
	for i := 0; i < 2; i++ {
		resp := f.proc.Handle(ctx, Request{Platform: "telegram", UserID: "42", Text: "hi"})
		require.True(t, resp.Success)
	}

	resp := f.proc.Handle(ctx, Request{Platform: "telegram", UserID: "42", Text: "hi"})
	require.False(t, resp.Success)
	assert.Equal(t, models.ErrKindRateLimitExceeded, resp.ErrorKind)
	assert.Contains(t, resp.Response, "Rate limit reached (2 messages/minute)")
	assert.Equal(t, 2, f.upstream.calls, "denied request must not reach upstream")
}

func TestHandleQuotaExceeded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenantID, keyID := f.seedPrivateTenant(t, intPtr(1))

	req := Request{TenantID: &tenantID, APIKeyID: &keyID, Platform: "api", UserID: "alice", Text: "hi"}

	resp := f.proc.Handle(ctx, req)
	require.True(t, resp.Success, "first request fits the quota")

	resp = f.proc.Handle(ctx, req)
	require.False(t, resp.Success)
	assert.Equal(t, models.ErrKindQuotaExceeded, resp.ErrorKind)
	assert.Contains(t, resp.Response, "daily")
	assert.Contains(t, resp.Response, "1/1")
	assert.Equal(t, 1, f.upstream.calls)

	// The denied attempt is still logged, as a failure.
	total, err := f.store.CountSuccessfulUsage(ctx, keyID, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestHandleOwnershipDenied(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenantID, keyID := f.seedPrivateTenant(t, nil)

	resp := f.proc.Handle(ctx, Request{TenantID: &tenantID, APIKeyID: &keyID, Platform: "api", UserID: "alice", Text: "hi"})
	require.True(t, resp.Success)

	intruder := keyID + 1
	resp = f.proc.Handle(ctx, Request{TenantID: &tenantID, APIKeyID: &intruder, Platform: "api", UserID: "alice", Text: "hi"})
	require.False(t, resp.Success)
	assert.Equal(t, models.ErrKindAccessDenied, resp.ErrorKind)
	assert.Equal(t, 1, f.upstream.calls)
}

func TestHandleUpstreamUnavailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.upstream.err = &models.UpstreamError{Attempts: 3, Transient: true}

	resp := f.proc.Handle(ctx, Request{Platform: "telegram", UserID: "42", Text: "hi"})
	require.False(t, resp.Success)
	assert.Equal(t, models.ErrKindUpstreamUnavailable, resp.ErrorKind)
	assert.Contains(t, resp.Response, "currently unavailable")

	// The failed exchange never entered the durable log.
	count, err := f.store.CountMessages(ctx, "telegram", "42", nil)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestHandleUpstreamClientError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.upstream.err = &models.UpstreamError{StatusCode: 422, Attempts: 1, Transient: false}

	resp := f.proc.Handle(ctx, Request{Platform: "telegram", UserID: "42", Text: "hi"})
	require.False(t, resp.Success)
	assert.Equal(t, models.ErrKindUpstreamClientError, resp.ErrorKind)
	assert.Contains(t, resp.Response, "rejected")
}

func TestHandleCommandSkipsUpstream(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp := f.proc.Handle(ctx, Request{Platform: "telegram", UserID: "42", Text: "/clear"})
	require.True(t, resp.Success)
	assert.Contains(t, resp.Response, "Conversation cleared")
	assert.Zero(t, f.upstream.calls)
}

func TestHandleFailureRecordsUsageRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenantID, keyID := f.seedPrivateTenant(t, nil)

	f.upstream.err = &models.UpstreamError{Attempts: 3, Transient: true}

	resp := f.proc.Handle(ctx, Request{TenantID: &tenantID, APIKeyID: &keyID, Platform: "api", UserID: "alice", Text: "hi"})
	require.False(t, resp.Success)

	// Logged, but as a failure: it must not consume quota.
	successes, err := f.store.CountSuccessfulUsage(ctx, keyID, time.Time{})
	require.NoError(t, err)
	assert.Zero(t, successes)
}

func TestHandlePublicTrafficLogsNoUsage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp := f.proc.Handle(ctx, Request{Platform: "telegram", UserID: "42", Text: "hi"})
	require.True(t, resp.Success)

	// No credential, no accounting rows for any key.
	count, err := f.store.CountSuccessfulUsage(ctx, 0, time.Time{})
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestHandleTenantIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t1, k1 := f.seedPrivateTenant(t, nil)

	tn2 := &models.Tenant{Identifier: "other", AccessTier: models.TierPrivate, IsActive: true}
	require.NoError(t, f.store.CreateTenant(ctx, tn2))
	key2 := &models.APIKey{KeyHash: "h2", KeyPrefix: "ak_two", Name: "t2", TenantID: tn2.ID, IsActive: true}
	require.NoError(t, f.store.CreateAPIKey(ctx, key2))

	resp := f.proc.Handle(ctx, Request{TenantID: &t1, APIKeyID: &k1, Platform: "api", UserID: "shared", Text: "tenant one message"})
	require.True(t, resp.Success)

	// The same user id under another tenant starts from a clean context.
	resp = f.proc.Handle(ctx, Request{TenantID: &tn2.ID, APIKeyID: &key2.ID, Platform: "api", UserID: "shared", Text: "tenant two message"})
	require.True(t, resp.Success)
	assert.Empty(t, f.upstream.lastReq.History)
	assert.Equal(t, 2, resp.TotalMessageCount)
}

func TestHealthy(t *testing.T) {
	f := newFixture(t)
	assert.True(t, f.proc.Healthy(context.Background()))

	f.upstream.healthy = false
	assert.False(t, f.proc.Healthy(context.Background()))
}
