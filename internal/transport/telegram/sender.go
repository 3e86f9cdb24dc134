// Package telegram sends operator log alerts through a Telegram bot.
//
// The sender is send-only: it never polls for updates, so it can share a
// token with another bot process.
package telegram

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
)

const textLimit = 4000

type Config struct {
	Token   string
	Timeout time.Duration
}

// Sender implements logx.Sender.
type Sender struct {
	bot *tele.Bot
}

func New(cfg Config) (*Sender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Offline: true,
		Client:  &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	return &Sender{bot: b}, nil
}

// SendLog sends text to the chat, split into chunks Telegram accepts.
func (s *Sender) SendLog(ctx context.Context, chatID int64, threadID int, text string) error {
	if chatID == 0 {
		return errors.New("telegram chat id is empty")
	}
	chat := &tele.Chat{ID: chatID}
	for _, chunk := range splitText(text, textLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := s.bot.Send(chat, chunk, &tele.SendOptions{
			DisableWebPagePreview: true,
			ThreadID:              threadID,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// splitText splits long messages, preferring newline boundaries.
func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))

		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				// Avoid extremely small chunks.
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
