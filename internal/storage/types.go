package storage

import (
	"context"
	"time"

	"caseobserver/internal/domain"
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file at Path
//   - "postgres": PostgreSQL server at DSN
type Config struct {
	Driver       string
	Path         string
	DSN          string
	BusyTimeout  time.Duration // sqlite only; 0 means default
	MaxOpenConns int           // postgres only; 0 means default
}

// SettingsFunc mutates settings inside an atomic read-modify-write.
// Returning an error aborts the write.
type SettingsFunc func(s *domain.Settings) error

// Store is the persistence API used by the monitor.
type Store interface {
	CreateCase(ctx context.Context, c domain.Case, s domain.Settings) error
	GetCase(ctx context.Context, id string) (domain.Case, error)
	FindCase(ctx context.Context, number, court string) (domain.Case, error)
	SaveSnapshot(ctx context.Context, caseID string, snap domain.Snapshot, at time.Time) error

	GetSettings(ctx context.Context, caseID string) (domain.Settings, error)
	UpdateSettings(ctx context.Context, caseID string, fn SettingsFunc) (domain.Settings, error)
	SetMonitoring(ctx context.Context, caseID string, enabled bool, fn SettingsFunc) (domain.Settings, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Settings, error)
	ListMonitored(ctx context.Context) ([]domain.Settings, error)

	SaveSubscriber(ctx context.Context, s domain.Subscriber) error
	GetSubscriber(ctx context.Context, id string) (domain.Subscriber, error)
	Subscribe(ctx context.Context, subscriberID, caseID string, at time.Time) error
	Unsubscribe(ctx context.Context, subscriberID, caseID string) error
	ListSubscribers(ctx context.Context, caseID string) ([]domain.Subscriber, error)

	InsertNotification(ctx context.Context, n domain.Notification) error
	ListNotifications(ctx context.Context, q domain.NotificationQuery) ([]domain.Notification, error)
	MarkNotificationRead(ctx context.Context, id string, at time.Time) error

	Close() error
}
