package notifier

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"
)

// Config controls the async delivery pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	SendTimeout     time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 512
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 5
	}
	c.RetryMax = max(c.RetryMax, 0)
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 15 * time.Second
	}
	c.DedupWindow = max(c.DedupWindow, 0)
	if c.DedupMaxEntries <= 0 {
		c.DedupMaxEntries = 2000
	}
	return c
}

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Delivery is one message on one channel to one address.
type Delivery struct {
	Channel        Channel
	To             string
	Subject        string // email only
	Body           string
	NotificationID string
	CaseID         string

	key string
}

// dedupKey identifies identical content sent to the same address about the
// same case.
func (d Delivery) dedupKey() string {
	h := fnv.New64a()
	for _, part := range []string{string(d.Channel), d.To, d.CaseID, d.Subject, d.Body} {
		_, _ = h.Write([]byte(part))
		_, _ = h.Write([]byte{0})
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

// EmailSender delivers one email. Implementations wrap permanent failures
// with engine.NoRetry.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SMSSender delivers one text message.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

type HistoryItem struct {
	At       time.Time
	Channel  Channel
	To       string
	CaseID   string
	Attempts int
	Error    string
}

// DeliveryEvent is emitted on the event bus for delivery lifecycle events.
// Bodies are never included.
type DeliveryEvent struct {
	Channel        Channel   `json:"channel"`
	To             string    `json:"to"`
	NotificationID string    `json:"notification_id,omitempty"`
	CaseID         string    `json:"case_id,omitempty"`
	Key            string    `json:"key,omitempty"`
	Attempts       int       `json:"attempts,omitempty"`
	At             time.Time `json:"at"`
	Error          string    `json:"error,omitempty"`
}

// NotificationEvent is emitted when a notification record is persisted.
type NotificationEvent struct {
	ID           string    `json:"id"`
	SubscriberID string    `json:"subscriber_id"`
	CaseID       string    `json:"case_id"`
	Subject      string    `json:"subject"`
	At           time.Time `json:"at"`
}
