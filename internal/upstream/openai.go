package upstream

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/arashbot/gateway/internal/models"
)

// OpenAIClient serves deployments whose backend speaks the OpenAI protocol
// instead of the gateway schema. Same contract, same retry policy.
type OpenAIClient struct {
	client      *openai.Client
	maxTokens   int
	temperature float64
	logger      *zap.Logger

	backoff func(attempt int) time.Duration
}

type OpenAIConfig struct {
	APIKey      string
	BaseURL     string // empty = api.openai.com
	MaxTokens   int
	Temperature float64
}

func NewOpenAIClient(cfg OpenAIConfig, logger *zap.Logger) *OpenAIClient {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIClient{
		client:      openai.NewClientWithConfig(clientCfg),
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		logger:      logger,
		backoff:     backoffDelay,
	}
}

// routingModel strips the provider prefix from a technical id; OpenAI-style
// backends route on the bare model name.
func routingModel(technical string) string {
	if idx := strings.Index(technical, "/"); idx >= 0 {
		return technical[idx+1:]
	}
	return technical
}

func (c *OpenAIClient) Send(ctx context.Context, req Request) (*Response, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: SystemInstruction,
	})
	for _, turn := range req.History {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    turn.Role,
			Content: turn.Content,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Query,
	})

	completionReq := openai.ChatCompletionRequest{
		Model:       routingModel(req.Model),
		Messages:    messages,
		MaxTokens:   c.maxTokens,
		Temperature: float32(c.temperature),
		User:        req.SessionID,
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		resp, err := c.client.CreateChatCompletion(ctx, completionReq)
		if err == nil {
			if len(resp.Choices) == 0 {
				return nil, &models.UpstreamError{
					Attempts:  attempt + 1,
					Transient: true,
					Cause:     errors.New("upstream returned no choices"),
				}
			}
			tokens := resp.Usage.TotalTokens
			return &Response{
				Text:       strings.TrimSpace(resp.Choices[0].Message.Content),
				TokensUsed: &tokens,
			}, nil
		}

		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode >= 400 && apiErr.HTTPStatusCode < 500 {
			return nil, &models.UpstreamError{
				StatusCode: apiErr.HTTPStatusCode,
				Attempts:   attempt + 1,
				Transient:  false,
				Cause:      err,
			}
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

	return nil, &models.UpstreamError{Attempts: maxAttempts, Transient: true, Cause: lastErr}
}

func (c *OpenAIClient) Health(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := c.client.ListModels(ctx); err != nil {
		c.logger.Error("Upstream health check failed", zap.Error(err))
		return false
	}
	return true
}
