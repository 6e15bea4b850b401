package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v4"

	"feedwatch/internal/source"
)

// TelegramSink sends matched items as plain-text messages to a single chat.
// The bot never polls for updates; it only sends.
type TelegramSink struct {
	bot    *tele.Bot
	chatID int64
}

func NewTelegram(cfg TelegramConfig) (*TelegramSink, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram: token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram: chat_id is required")
	}
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}
	return &TelegramSink{bot: b, chatID: cfg.ChatID}, nil
}

func (t *TelegramSink) Name() string { return "telegram" }

func (t *TelegramSink) Send(ctx context.Context, item source.Item, pattern string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chat := &tele.Chat{ID: t.chatID}
	opt := &tele.SendOptions{DisableWebPagePreview: true}
	if _, err := t.bot.Send(chat, formatMessage(item, pattern), opt); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

func formatMessage(item source.Item, pattern string) string {
	var b strings.Builder
	b.WriteString("🔔 ")
	b.WriteString(item.Source)
	b.WriteString(": ")
	b.WriteString(embedTitle(item))
	if item.Author != "" {
		b.WriteString("\nby ")
		b.WriteString(item.Author)
	}
	b.WriteString("\nmatched: ")
	b.WriteString(pattern)
	if item.URL != "" {
		b.WriteString("\n")
		b.WriteString(item.URL)
	}
	return b.String()
}
