// Package processor composes the gateway core per inbound message: tenant
// config, ownership, rate limit, quota, command or chat, persistence and
// usage accounting.
package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

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

// Request is one inbound message from the boundary layer. Tenant and key
// ids are nil for the untenanted public platform.
type Request struct {
	TenantID    *int64
	APIKeyID    *int64
	Platform    string
	UserID      string
	Text        string
	Attachments []models.Attachment
}

// Response is the outcome handed back to the boundary layer. ErrorKind is
// set only when Success is false; the Response text is always user-facing,
// degraded messages included.
type Response struct {
	Success           bool   `json:"success"`
	Response          string `json:"response"`
	Model             string `json:"model,omitempty"` // display name
	TotalMessageCount int    `json:"total_message_count,omitempty"`
	ErrorKind         string `json:"error,omitempty"`
}

const (
	msgAccessDenied = "❌ Access denied. This conversation belongs to a different API key."

	msgRateLimited = "⚠️ Rate limit reached (%d messages/minute). Please wait a moment before sending the next message."

	msgQuotaExceeded = "⚠️ Your %s request quota is exhausted (%d/%d). It resets at %s."

	msgUpstreamDown = "⚠️ The AI service is currently unavailable. Please try again in a few moments."

	msgUpstreamRejected = "❌ The AI service rejected this request. Please rephrase and try again."

	msgProcessingError = "❌ Sorry, something went wrong while processing your message. Please try again."
)

// Processor implements the inbound contract of the gateway core.
type Processor struct {
	registry *session.Registry
	limiter  ratelimit.Limiter
	quota    *quota.Tracker
	upstream upstream.Client
	commands *command.Interpreter
	store    storage.Storage
	logger   *zap.Logger

	now func() time.Time
}

func New(
	registry *session.Registry,
	limiter ratelimit.Limiter,
	tracker *quota.Tracker,
	client upstream.Client,
	commands *command.Interpreter,
	store storage.Storage,
	logger *zap.Logger,
) *Processor {
	return &Processor{
		registry: registry,
		limiter:  limiter,
		quota:    tracker,
		upstream: client,
		commands: commands,
		store:    store,
		logger:   logger,
		now:      time.Now,
	}
}

// Handle processes one message end to end. Expected denials (ownership,
// rate limit, quota) and upstream failures come back as unsuccessful
// responses with an error kind, never as returned errors; the error return
// is reserved for faults the boundary layer cannot present to a user.
func (p *Processor) Handle(ctx context.Context, req Request) Response {
	start := p.now()

	sess, err := p.registry.GetOrCreate(ctx, req.Platform, req.UserID, req.TenantID, req.APIKeyID)
	if err != nil {
		var ownership *models.OwnershipError
		if errors.As(err, &ownership) {
			return Response{
				Success:   false,
				Response:  msgAccessDenied,
				ErrorKind: models.ErrKindAccessDenied,
			}
		}
		p.logger.Error("Failed to open session",
			zap.Error(err),
			zap.String("platform", req.Platform),
			zap.String("user_id", req.UserID))
		return Response{
			Success:   false,
			Response:  msgProcessingError,
			ErrorKind: models.ErrKindProcessingError,
		}
	}

	cfg := sess.Config()

	allowed, err := p.limiter.Allow(ctx, req.Platform, req.UserID, cfg.RateLimit)
	if err != nil {
		// A broken limiter backend should not take chat down with it.
		p.logger.Warn("Rate limiter check failed, admitting request", zap.Error(err))
		allowed = true
	}
	if !allowed {
		p.logAttempt(ctx, req, sess, start, false, strPtr(models.ErrKindRateLimitExceeded), nil)
		return Response{
			Success:   false,
			Response:  fmt.Sprintf(msgRateLimited, cfg.RateLimit),
			ErrorKind: models.ErrKindRateLimitExceeded,
		}
	}

	if denied, resp := p.checkQuota(ctx, req, sess, cfg, start); denied {
		return resp
	}

	var (
		responseText string
		tokens       *int
	)
	if command.IsCommand(req.Text) {
		responseText, err = p.commands.Execute(ctx, sess, req.Text)
		if err != nil {
			p.logAttempt(ctx, req, sess, start, false, strPtr(err.Error()), nil)
			return Response{
				Success:   false,
				Response:  msgProcessingError,
				ErrorKind: models.ErrKindProcessingError,
			}
		}
	} else {
		responseText, tokens, err = p.handleChat(ctx, req, sess, cfg)
		if err != nil {
			return p.upstreamFailure(ctx, req, sess, start, err)
		}
	}

	sess.Touch(p.now().UTC())
	p.logAttempt(ctx, req, sess, start, true, nil, tokens)

	return Response{
		Success:           true,
		Response:          responseText,
		Model:             tenant.DisplayModelName(sess.Model()),
		TotalMessageCount: sess.TotalMessages(),
	}
}

// checkQuota enforces daily then monthly budgets for credentialed requests.
// The public platform carries no key and is exempt.
func (p *Processor) checkQuota(ctx context.Context, req Request, sess *session.Session, cfg tenant.Config, start time.Time) (bool, Response) {
	if req.APIKeyID == nil || req.TenantID == nil {
		return false, Response{}
	}

	key, err := p.store.GetAPIKey(ctx, *req.APIKeyID)
	if err != nil {
		p.logger.Error("Failed to load api key for quota check",
			zap.Error(err),
			zap.Int64("api_key_id", *req.APIKeyID))
		return true, Response{
			Success:   false,
			Response:  msgProcessingError,
			ErrorKind: models.ErrKindProcessingError,
		}
	}

	for _, period := range []quota.Period{quota.PeriodDaily, quota.PeriodMonthly} {
		status, err := p.quota.Check(ctx, key, cfg, period)
		if err != nil {
			p.logger.Error("Quota check failed",
				zap.Error(err),
				zap.String("period", string(period)))
			continue // best effort: accounting trouble must not block chat
		}
		if !status.Allowed {
			p.logAttempt(ctx, req, sess, start, false, strPtr(models.ErrKindQuotaExceeded), nil)
			return true, Response{
				Success: false,
				Response: fmt.Sprintf(msgQuotaExceeded,
					period, status.CurrentUsage, *status.Limit,
					status.ResetTime.UTC().Format(time.RFC3339)),
				ErrorKind: models.ErrKindQuotaExceeded,
			}
		}
	}

	return false, Response{}
}

// handleChat runs the upstream completion and persists both turns. Durable
// write failures are logged and swallowed: the in-memory context already
// holds the exchange, so persistence is best-effort behind the live
// conversation.
func (p *Processor) handleChat(ctx context.Context, req Request, sess *session.Session, cfg tenant.Config) (string, *int, error) {
	reply, err := p.upstream.Send(ctx, upstream.Request{
		SessionID:   sess.ID(),
		Query:       req.Text,
		History:     sess.RecentHistory(cfg.MaxHistory),
		Model:       sess.Model(),
		Attachments: req.Attachments,
	})
	if err != nil {
		return "", nil, err
	}

	sess.AppendTurn(models.RoleUser, req.Text)
	sess.AppendTurn(models.RoleAssistant, reply.Text)

	rows := []*models.Message{
		{
			TenantID: req.TenantID,
			APIKeyID: req.APIKeyID,
			Platform: req.Platform,
			UserID:   req.UserID,
			Role:     models.RoleUser,
			Content:  req.Text,
		},
		{
			TenantID: req.TenantID,
			APIKeyID: req.APIKeyID,
			Platform: req.Platform,
			UserID:   req.UserID,
			Role:     models.RoleAssistant,
			Content:  reply.Text,
		},
	}
	if err := p.store.AppendMessages(ctx, rows); err != nil {
		p.logger.Error("Failed to persist messages",
			zap.Error(err),
			zap.String("session_id", session.MaskID(sess.ID())))
	}

	// The lifetime counter comes from the store, not from local increments,
	// so it stays honest when the durable write above fails.
	if count, err := p.store.CountMessages(ctx, req.Platform, req.UserID, req.TenantID); err != nil {
		p.logger.Error("Failed to reload message count", zap.Error(err))
	} else {
		sess.SetTotalMessages(count)
	}

	return reply.Text, reply.TokensUsed, nil
}

func (p *Processor) upstreamFailure(ctx context.Context, req Request, sess *session.Session, start time.Time, err error) Response {
	kind := models.ErrKindUpstreamUnavailable
	text := msgUpstreamDown

	var upErr *models.UpstreamError
	if errors.As(err, &upErr) && !upErr.Transient {
		kind = models.ErrKindUpstreamClientError
		text = msgUpstreamRejected
	}

	p.logger.Error("Upstream request failed",
		zap.Error(err),
		zap.String("session_id", session.MaskID(sess.ID())),
		zap.String("kind", kind))

	p.logAttempt(ctx, req, sess, start, false, strPtr(err.Error()), nil)

	return Response{
		Success:   false,
		Response:  text,
		ErrorKind: kind,
	}
}

// logAttempt records one usage row for credentialed traffic. Failures here
// are logged and swallowed; accounting must not break the conversation.
func (p *Processor) logAttempt(ctx context.Context, req Request, sess *session.Session, start time.Time, success bool, errMsg *string, tokens *int) {
	if req.APIKeyID == nil || req.TenantID == nil {
		return
	}

	elapsed := int(p.now().Sub(start).Milliseconds())

	err := p.quota.Log(ctx, quota.LogEntry{
		APIKeyID:       *req.APIKeyID,
		TenantID:       *req.TenantID,
		SessionID:      sess.ID(),
		Platform:       req.Platform,
		Model:          sess.Model(),
		Success:        success,
		ResponseTimeMs: &elapsed,
		TokensUsed:     tokens,
		ErrorMessage:   errMsg,
	})
	if err != nil {
		p.logger.Error("Failed to log usage", zap.Error(err))
	}
}

// Healthy probes the upstream backend.
func (p *Processor) Healthy(ctx context.Context) bool {
	return p.upstream.Health(ctx)
}

func strPtr(s string) *string { return &s }
