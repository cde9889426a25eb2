// Package telegram delivers operator alerts to a Telegram chat. It is the
// sink behind the logging alert writer and never polls for updates.
package telegram

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
)

const sendTimeout = 8 * time.Second

type Config struct {
	Token    string
	ChatID   int64
	ThreadID int // forum topic; 0 for the main chat
}

type botSender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

type Alerter struct {
	bot    botSender
	chat   *tele.Chat
	thread int
}

func New(cfg Config) (*Alerter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Offline: true,
		Client:  &http.Client{Timeout: sendTimeout},
	})
	if err != nil {
		return nil, err
	}
	return newAlerter(b, cfg), nil
}

func newAlerter(bot botSender, cfg Config) *Alerter {
	return &Alerter{bot: bot, chat: &tele.Chat{ID: cfg.ChatID}, thread: cfg.ThreadID}
}

// SendAlert posts text as a plain message. ctx only gates the call; telebot
// bounds the request with its own client timeout.
func (a *Alerter) SendAlert(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	_, err := a.bot.Send(a.chat, text, &tele.SendOptions{
		ThreadID:              a.thread,
		DisableWebPagePreview: true,
	})
	return err
}
