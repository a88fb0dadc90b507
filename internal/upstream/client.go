// Package upstream talks to the AI completion backend. The gateway client
// speaks the backend's own JSON schema; the openai client adapts the same
// contract onto the OpenAI protocol. Both apply the bounded retry policy:
// three attempts, exponential backoff, client errors never retried.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/arashbot/gateway/internal/models"
)

// SystemInstruction leads every formatted history sent upstream.
const SystemInstruction = "You are a helpful assistant. Answer clearly and concisely, " +
	"and stay on the user's language unless asked otherwise."

const maxAttempts = 3

// Request is one completion call.
type Request struct {
	SessionID   string
	Query       string
	History     []models.Turn
	Model       string // technical identifier
	Attachments []models.Attachment
}

// Response is the upstream's answer.
type Response struct {
	Text       string
	TokensUsed *int
}

// Client is the completion backend boundary.
type Client interface {
	// Send runs the completion with retries and returns a typed
	// *models.UpstreamError on failure.
	Send(ctx context.Context, req Request) (*Response, error)
	// Health probes the backend once; any failure is unhealthy, never
	// retried.
	Health(ctx context.Context) bool
}

// backoffDelay grows exponentially with the attempt index: 1s, 2s, 4s.
func backoffDelay(attempt int) time.Duration {
	return time.Duration(1<<attempt) * time.Second
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// GatewayClient posts completions to the backend's chat endpoint.
type GatewayClient struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger

	// Overridable in tests to skip real backoff waits.
	backoff func(attempt int) time.Duration
}

type GatewayConfig struct {
	BaseURL        string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

func NewGatewayClient(cfg GatewayConfig, logger *zap.Logger) *GatewayClient {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: cfg.ConnectTimeout,
		}).DialContext,
		MaxIdleConnsPerHost: 10,
	}

	return &GatewayClient{
		baseURL: cfg.BaseURL,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.RequestTimeout,
		},
		logger:  logger,
		backoff: backoffDelay,
	}
}

type wireTurn struct {
	Role    string      `json:"Role"`
	Message string      `json:"Message"`
	Files   interface{} `json:"Files"`
}

type wireFile struct {
	Data     string `json:"Data"`
	MIMEType string `json:"MIMEType"`
}

type chatPayload struct {
	UserID    string     `json:"UserId"`
	UserName  string     `json:"UserName"`
	SessionID string     `json:"SessionId"`
	History   []wireTurn `json:"History"`
	Pipeline  string     `json:"Pipeline"`
	Query     string     `json:"Query"`
	AudioFile *string    `json:"AudioFile"`
	Files     []wireFile `json:"Files"`
}

type chatReply struct {
	Response string `json:"Response"`
	Tokens   *int   `json:"TokensUsed,omitempty"`
}

func (c *GatewayClient) Send(ctx context.Context, req Request) (*Response, error) {
	history := make([]wireTurn, 0, len(req.History)+1)
	history = append(history, wireTurn{Role: models.RoleSystem, Message: SystemInstruction})
	for _, turn := range req.History {
		history = append(history, wireTurn{Role: turn.Role, Message: turn.Content})
	}

	files := make([]wireFile, 0, len(req.Attachments))
	for _, att := range req.Attachments {
		files = append(files, wireFile{Data: att.Data, MIMEType: att.MIMEType})
	}

	payload := chatPayload{
		UserID:    req.SessionID,
		UserName:  "MessengerBot",
		SessionID: req.SessionID,
		History:   history,
		Pipeline:  req.Model,
		Query:     req.Query,
		Files:     files,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode chat payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		resp, retryable, err := c.attempt(ctx, body, attempt)
		if err == nil {
			return resp, nil
		}
		if !retryable {
			return nil, err
		}

		lastErr = err
		c.logger.Warn("Upstream attempt failed",
			zap.Error(err),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", maxAttempts))

		if attempt < maxAttempts-1 {
			if err := sleepCtx(ctx, c.backoff(attempt)); err != nil {
				return nil, &models.UpstreamError{Attempts: attempt + 1, Transient: true, Cause: err}
			}
		}
	}

	c.logger.Error("Upstream request failed after all attempts",
		zap.Error(lastErr),
		zap.Int("attempts", maxAttempts))
	return nil, &models.UpstreamError{Attempts: maxAttempts, Transient: true, Cause: lastErr}
}

// attempt runs one HTTP call. The second return value reports whether the
// failure is worth retrying: timeouts, transport faults and 5xx are, 4xx is
// not.
func (c *GatewayClient) attempt(ctx context.Context, body []byte, attempt int) (*Response, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/chat", bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, true, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(httpResp.Body, 500))
		err := fmt.Errorf("upstream returned status %d: %s", httpResp.StatusCode, snippet)

		if httpResp.StatusCode < 500 {
			return nil, false, &models.UpstreamError{
				StatusCode: httpResp.StatusCode,
				Attempts:   attempt + 1,
				Transient:  false,
				Cause:      err,
			}
		}
		return nil, true, err
	}

	var reply chatReply
	if err := json.NewDecoder(httpResp.Body).Decode(&reply); err != nil {
		return nil, true, fmt.Errorf("failed to decode upstream response: %w", err)
	}

	return &Response{Text: reply.Response, TokensUsed: reply.Tokens}, false, nil
}

func (c *GatewayClient) Health(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("Upstream health check failed", zap.Error(err))
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}
