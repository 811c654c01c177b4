package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"frontdesk/internal/domain"
)

const telegramMaxSendRetries = 2

// BotSender is the part of *tgbotapi.BotAPI the transport uses.
type BotSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram sends messages through the Bot API.
type Telegram struct {
	bot    BotSender
	logger *slog.Logger
}

// NewTelegram connects to the Bot API with token.
func NewTelegram(token string, logger *slog.Logger) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	return NewTelegramWithBot(bot, logger), nil
}

func NewTelegramWithBot(bot BotSender, logger *slog.Logger) *Telegram {
	if logger == nil {
		logger = slog.Default()
	}
	return &Telegram{bot: bot, logger: logger}
}

func (t *Telegram) Platform() domain.Platform { return domain.PlatformTelegram }

// Send replies in the originating chat, which differs from the sender id in
// groups. Rate-limit answers are retried with a short backoff.
func (t *Telegram) Send(ctx context.Context, msg domain.OutboundMessage) error {
	chatID, err := strconv.ParseInt(msg.Meta(domain.MetaChatID, msg.RecipientID), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id: %w", err)
	}
	for _, chunk := range splitMessage(msg.Content, telegramMaxLen) {
		if err := t.sendChunk(ctx, chatID, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (t *Telegram) sendChunk(ctx context.Context, chatID int64, text string) error {
	var lastErr error
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		_, err := t.bot.Send(tgbotapi.NewMessage(chatID, text))
		if err == nil {
			return nil
		}
		lastErr = err
		if !strings.Contains(err.Error(), "Too Many Requests") || attempt == telegramMaxSendRetries {
			break
		}
		backoff := time.Duration(attempt+1) * time.Second
		t.logger.Warn("telegram rate limited, backing off", "retry_after", backoff, "attempt", attempt+1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("telegram send: %w", lastErr)
}
