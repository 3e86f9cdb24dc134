package sink

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"caseobserver/internal/task/engine"

	mailjet "github.com/mailjet/mailjet-apiv3-go"
)

// MailjetConfig configures the Mailjet email sink.
type MailjetConfig struct {
	PublicKey  string
	PrivateKey string
	FromEmail  string
	FromName   string
	// BaseURL overrides the Mailjet API root (tests, regional endpoints).
	BaseURL string
}

// Mailjet sends plain-text email through the Mailjet v3.1 send API.
type Mailjet struct {
	client *mailjet.Client
	from   mailjet.RecipientV31
}

func NewMailjet(cfg MailjetConfig) (*Mailjet, error) {
	if strings.TrimSpace(cfg.PublicKey) == "" || strings.TrimSpace(cfg.PrivateKey) == "" {
		return nil, errors.New("mailjet: public and private keys required")
	}
	if _, err := mail.ParseAddress(cfg.FromEmail); err != nil {
		return nil, fmt.Errorf("mailjet: invalid from address %q: %w", cfg.FromEmail, err)
	}
	var clt *mailjet.Client
	if cfg.BaseURL != "" {
		clt = mailjet.NewMailjetClient(cfg.PublicKey, cfg.PrivateKey, cfg.BaseURL)
	} else {
		clt = mailjet.NewMailjetClient(cfg.PublicKey, cfg.PrivateKey)
	}
	return &Mailjet{
		client: clt,
		from:   mailjet.RecipientV31{Email: cfg.FromEmail, Name: cfg.FromName},
	}, nil
}

// SendEmail sends one plain-text message. When ctx ends first it returns
// ctx.Err(), but the in-flight API request is not canceled and runs to
// completion in the background.
func (m *Mailjet) SendEmail(ctx context.Context, to, subject, body string) error {
	if _, err := mail.ParseAddress(to); err != nil {
		return engine.NoRetry(fmt.Errorf("mailjet: invalid recipient %q: %w", to, err))
	}
	msgs := mailjet.MessagesV31{Info: []mailjet.InfoMessagesV31{{
		From:     &m.from,
		To:       &mailjet.RecipientsV31{mailjet.RecipientV31{Email: to}},
		Subject:  subject,
		TextPart: body,
	}}}

	// The client is not context-aware; the send runs on its own goroutine so
	// the caller's deadline still bounds the wait.
	done := make(chan error, 1)
	go func() {
		_, err := m.client.SendMailV31(&msgs)
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("mailjet: send mail: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
