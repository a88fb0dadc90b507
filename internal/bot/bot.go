// Package bot is the public-channel shim: it feeds Telegram traffic into
// the gateway core as untenanted requests on the "telegram" platform.
package bot

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/arashbot/gateway/internal/processor"
)

const platformName = "telegram"

type Bot struct {
	api       *tgbotapi.BotAPI
	processor *processor.Processor
	logger    *zap.Logger
}

func New(token string, proc *processor.Processor, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	return &Bot{
		api:       api,
		processor: proc,
		logger:    logger,
	}, nil
}

// Start long-polls for updates until the context is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			go b.handleMessage(ctx, update.Message)
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	text := message.Text
	if message.Caption != "" {
		text = message.Caption
	}
	if text == "" {
		return
	}

	resp := b.processor.Handle(ctx, processor.Request{
		Platform: platformName,
		UserID:   strconv.FormatInt(message.From.ID, 10),
		Text:     text,
	})

	if !resp.Success {
		b.logger.Warn("Request not processed",
			zap.String("error_kind", resp.ErrorKind),
			zap.Int64("user_id", message.From.ID))
	}

	b.sendReply(message.Chat.ID, message.MessageID, resp.Response)
}

func (b *Bot) sendReply(chatID int64, replyToID int, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyToMessageID = replyToID

	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}
