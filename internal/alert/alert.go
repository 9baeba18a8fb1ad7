// Package alert delivers operator alerts about background work.
package alert

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/ticketbot/pkg/logger"
)

// Notifier sends a short text alert to the operators.
type Notifier interface {
	Alert(ctx context.Context, text string) error
}

// Nop discards alerts.
type Nop struct{}

// Alert implements Notifier.
func (Nop) Alert(context.Context, string) error { return nil }

// sender is the part of the Telegram bot API the notifier uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram sends alerts to a Telegram chat.
type Telegram struct {
	bot    sender
	chatID int64
	prefix string
}

// NewTelegram authorizes a Telegram bot and returns a notifier posting to chatID.
func NewTelegram(token string, chatID int64, prefix string) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	logger.Info().Str("username", api.Self.UserName).Int64("chat_id", chatID).Msg("Telegram alerts enabled")
	return &Telegram{bot: api, chatID: chatID, prefix: prefix}, nil
}

// Alert implements Notifier.
func (t *Telegram) Alert(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(t.chatID, t.format(text))
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableWebPagePreview = true

	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send alert: %w", err)
	}
	return nil
}

func (t *Telegram) format(text string) string {
	if t.prefix == "" {
		return text
	}
	return fmt.Sprintf("*%s*\n\n%s", tgbotapi.EscapeText(tgbotapi.ModeMarkdown, t.prefix), text)
}

// Safe sends an alert and only logs a failure. Background jobs use it so a broken
// alert sink never stops them.
func Safe(ctx context.Context, n Notifier, text string) {
	if n == nil {
		return
	}
	if err := n.Alert(ctx, text); err != nil {
		logger.Warn().Err(err).Msg("Failed to deliver alert")
	}
}
