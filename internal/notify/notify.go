// Package notify implements Guardian's alert sink: a thin Telegram-backed
// adapter for the guardian.Notifier interface. Grounded on bot.TelegramBot's
// NewTelegramBot/sendMarkdown wiring, generalized from trade/P&L
// notifications to Guardian mode-transition and anomaly alerts.
package notify

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// TelegramSink implements guardian.Notifier by pushing a Markdown-formatted
// message to a single configured chat. New never returns a half-initialized
// sink — it returns an error instead — and NewFromEnv returns a nil sink
// when no token is set; in both cases callers fall back to running
// Guardian with a nil notifier (alerts skipped).
type TelegramSink struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

// New builds a TelegramSink from a bot token and chat id. Returns an error
// if the token is rejected by Telegram's API at construction time.
func New(token string, chatID int64) (*TelegramSink, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("notify: create telegram bot: %w", err)
	}
	log.Info().Str("username", api.Self.UserName).Msg("🤖 notify: telegram sink initialized")
	return &TelegramSink{api: api, chatID: chatID}, nil
}

// NewFromEnv is a convenience constructor reading TELEGRAM_BOT_TOKEN and
// TELEGRAM_CHAT_ID the same way bot.NewTelegramBot does, returning
// (nil, nil) when the token is unset so Guardian can run notifier-less.
func NewFromEnv(token, chatIDStr string) (*TelegramSink, error) {
	if token == "" {
		return nil, nil
	}
	chatID, err := strconv.ParseInt(chatIDStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("notify: invalid chat id %q: %w", chatIDStr, err)
	}
	return New(token, chatID)
}

var levelEmoji = map[string]string{
	"info":     "ℹ️",
	"warning":  "⚠️",
	"critical": "🚨",
}

// Alert implements guardian.Notifier. level is one of "info", "warning",
// "critical"; unrecognized levels still send, just without a matched emoji.
func (s *TelegramSink) Alert(ctx context.Context, level, message string) error {
	msg := tgbotapi.NewMessage(s.chatID, formatAlert(level, message))
	msg.ParseMode = "Markdown"

	if _, err := s.api.Send(msg); err != nil {
		log.Error().Err(err).Str("level", level).Msg("notify: failed to send telegram alert")
		return fmt.Errorf("notify: send: %w", err)
	}
	return nil
}

// formatAlert builds the Markdown alert body. Split out from Alert so the
// formatting logic is testable without a live Telegram connection.
func formatAlert(level, message string) string {
	emoji, ok := levelEmoji[level]
	if !ok {
		emoji = "🔔"
	}
	return fmt.Sprintf("%s *GUARDIAN %s*\n\n%s", emoji, level, message)
}
