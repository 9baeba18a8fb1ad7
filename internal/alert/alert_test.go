package alert

import (
	"context"
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

func TestTelegramAlert(t *testing.T) {
	s := &fakeSender{}
	n := &Telegram{bot: s, chatID: 42, prefix: "ticketbot"}

	require.NoError(t, n.Alert(context.Background(), "transcript abandoned"))
	require.Len(t, s.sent, 1)
	assert.Equal(t, int64(42), s.sent[0].ChatID)
	assert.Equal(t, tgbotapi.ModeMarkdown, s.sent[0].ParseMode)
	assert.Contains(t, s.sent[0].Text, "*ticketbot*")
	assert.Contains(t, s.sent[0].Text, "transcript abandoned")
}

func TestTelegramAlertError(t *testing.T) {
	n := &Telegram{bot: &fakeSender{err: errors.New("boom")}, chatID: 1}
	assert.ErrorContains(t, n.Alert(context.Background(), "x"), "boom")

	// Safe swallows the failure
	Safe(context.Background(), n, "x")
	Safe(context.Background(), nil, "x")
}

func TestNop(t *testing.T) {
	assert.NoError(t, Nop{}.Alert(context.Background(), "x"))
}
