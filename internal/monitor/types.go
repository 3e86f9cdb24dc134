package monitor

import (
	"context"
	"time"

	"caseobserver/internal/changes"
	"caseobserver/internal/domain"
	"caseobserver/internal/storage"
	"caseobserver/internal/task/engine"
)

// Config holds the monitoring knobs.
type Config struct {
	// DefaultIntervalMinutes applies when monitoring starts with interval 0.
	DefaultIntervalMinutes int
	// CheckTimeout bounds one check end to end.
	CheckTimeout time.Duration
	// SweepLimit caps the due cases read per sweep; 0 means no cap.
	SweepLimit int
	// NotifyConcurrency bounds the per-check subscriber fan-out.
	NotifyConcurrency int
	// RescheduleTimeout bounds the settings write that closes every check.
	RescheduleTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.DefaultIntervalMinutes <= 0 {
		c.DefaultIntervalMinutes = domain.DefaultIntervalMinutes
	}
	if c.CheckTimeout <= 0 {
		c.CheckTimeout = 2 * time.Minute
	}
	if c.SweepLimit < 0 {
		c.SweepLimit = 0
	}
	if c.NotifyConcurrency <= 0 {
		c.NotifyConcurrency = 4
	}
	if c.RescheduleTimeout <= 0 {
		c.RescheduleTimeout = 10 * time.Second
	}
	return c
}

// Store is the persistence the monitor needs.
type Store interface {
	CreateCase(ctx context.Context, c domain.Case, s domain.Settings) error
	GetCase(ctx context.Context, id string) (domain.Case, error)
	FindCase(ctx context.Context, number, court string) (domain.Case, error)
	SaveSnapshot(ctx context.Context, caseID string, snap domain.Snapshot, at time.Time) error

	GetSettings(ctx context.Context, caseID string) (domain.Settings, error)
	UpdateSettings(ctx context.Context, caseID string, fn storage.SettingsFunc) (domain.Settings, error)
	SetMonitoring(ctx context.Context, caseID string, enabled bool, fn storage.SettingsFunc) (domain.Settings, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Settings, error)
	ListMonitored(ctx context.Context) ([]domain.Settings, error)

	SaveSubscriber(ctx context.Context, s domain.Subscriber) error
	GetSubscriber(ctx context.Context, id string) (domain.Subscriber, error)
	Subscribe(ctx context.Context, subscriberID, caseID string, at time.Time) error
	Unsubscribe(ctx context.Context, subscriberID, caseID string) error
	ListSubscribers(ctx context.Context, caseID string) ([]domain.Subscriber, error)
}

// Fetcher retrieves the current registry snapshot of a case.
type Fetcher interface {
	Fetch(ctx context.Context, number, court string) (domain.Snapshot, error)
}

// Notifier decides, renders and persists notifications.
type Notifier interface {
	MaybeNotify(ctx context.Context, sub domain.Subscriber, c domain.Case, cs changes.ChangeSet, st domain.Settings, at time.Time) (*domain.Notification, error)
	List(ctx context.Context, q domain.NotificationQuery) ([]domain.Notification, error)
	MarkRead(ctx context.Context, id string, at time.Time) error
}

// Executor runs checks with per-key exclusion; *engine.Service implements it.
type Executor interface {
	Enqueue(t engine.Task) error
	Run(ctx context.Context, t engine.Task) error
	InFlight(key string) bool
}

// CheckResult reports one completed check.
type CheckResult struct {
	CaseID    string
	CheckedAt time.Time
	// Skipped is set when a sweep-triggered check found monitoring disabled.
	Skipped       bool
	Changes       changes.ChangeSet
	Notifications []domain.Notification
	// NotifyErrors holds per-subscriber failures; they never fail the check.
	NotifyErrors []error
}

// SweepReport summarizes one sweep.
type SweepReport struct {
	At       time.Time     `json:"at"`
	Due      int           `json:"due"`
	Enqueued int           `json:"enqueued"`
	InFlight int           `json:"in_flight"`
	Deferred int           `json:"deferred"`
	Took     time.Duration `json:"took"`
}

// CheckEvent is published on the bus for check lifecycle events.
type CheckEvent struct {
	CaseID        string    `json:"case_id"`
	Trigger       string    `json:"trigger"`
	At            time.Time `json:"at"`
	Changed       bool      `json:"changed,omitempty"`
	Notifications int       `json:"notifications,omitempty"`
	Error         string    `json:"error,omitempty"`
}
