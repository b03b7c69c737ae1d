// internal/notify/telegram.go
package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// botSender is the part of tgbotapi.BotAPI the sink uses.
type botSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSink posts Markdown messages to one chat.
type TelegramSink struct {
	bot    botSender
	chatID int64
}

// NewTelegramSink connects to the Bot API and verifies the token.
func NewTelegramSink(token string, chatID int64) (*TelegramSink, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: connect: %w", err)
	}
	return &TelegramSink{bot: bot, chatID: chatID}, nil
}

func (t *TelegramSink) Name() string { return "telegram" }

// Send delivers title in bold followed by body. The Bot API call cannot be
// cancelled, so ctx only bounds how long the caller waits.
func (t *TelegramSink) Send(ctx context.Context, title, body string) error {
	msg := tgbotapi.NewMessage(t.chatID, fmt.Sprintf("*%s*\n%s", escape(title), body))
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableWebPagePreview = true

	done := make(chan error, 1)
	go func() {
		_, err := t.bot.Send(msg)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("telegram: send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("telegram: %w", ctx.Err())
	}
}

func escape(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdown, s)
}
