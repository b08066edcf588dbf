package notifier

import (
	"context"
	"errors"
	"strings"

	tele "gopkg.in/telebot.v4"
)

const telegramTextLimit = 4096

type telegramSender struct {
	bot    *tele.Bot
	chat   *tele.Chat
	thread int
}

// NewTelegram builds a Sender posting to cfg.ChatID. It contacts the Bot
// API once to validate the token.
func NewTelegram(cfg TelegramConfig) (Sender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat id is empty")
	}
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}
	return &telegramSender{bot: b, chat: &tele.Chat{ID: cfg.ChatID}, thread: cfg.ThreadID}, nil
}

func (t *telegramSender) Send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r := []rune(text); len(r) > telegramTextLimit {
		text = string(r[:telegramTextLimit-1]) + "…"
	}
	_, err := t.bot.Send(t.chat, text, &tele.SendOptions{
		ThreadID:              t.thread,
		DisableWebPagePreview: true,
	})
	return err
}
