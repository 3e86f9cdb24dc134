package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"caseobserver/internal/domain"
	"caseobserver/internal/task/engine"
	logx "caseobserver/pkg/logx"

	"github.com/google/uuid"
)

// CreateCase registers a case after fetching its first snapshot. Monitoring
// starts disabled with default settings.
func (s *Service) CreateCase(ctx context.Context, number, court string) (domain.Case, error) {
	number, court = strings.TrimSpace(number), strings.TrimSpace(court)
	if err := domain.ValidateKey(number, court); err != nil {
		return domain.Case{}, err
	}
	if _, err := s.store.FindCase(ctx, number, court); err == nil {
		return domain.Case{}, fmt.Errorf("case %s at %s: %w", number, court, domain.ErrConflict)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.Case{}, err
	}

	snap, err := s.fetcher.Fetch(ctx, number, court)
	if err != nil {
		return domain.Case{}, fmt.Errorf("fetch case %s: %w", number, err)
	}

	now := s.now()
	c := domain.Case{
		ID:        uuid.NewString(),
		Number:    number,
		Court:     court,
		Snapshot:  snap,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateCase(ctx, c, domain.DefaultSettings(c.ID, s.cfg.DefaultIntervalMinutes, now)); err != nil {
		return domain.Case{}, err
	}
	s.log.Info("case registered", logx.String("case_id", c.ID), logx.String("number", number), logx.String("court", court))
	return c, nil
}

func (s *Service) GetCase(ctx context.Context, caseID string) (domain.Case, error) {
	return s.store.GetCase(ctx, caseID)
}

func (s *Service) GetSettings(ctx context.Context, caseID string) (domain.Settings, error) {
	return s.store.GetSettings(ctx, caseID)
}

// Refetch overwrites the stored snapshot with the registry's current one
// without notifying anyone or touching the schedule.
func (s *Service) Refetch(ctx context.Context, caseID string) (domain.Case, error) {
	c, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return domain.Case{}, err
	}
	err = s.exec.Run(ctx, engine.Task{
		Name:           "case.refetch",
		ConcurrencyKey: caseID,
		Timeout:        s.cfg.CheckTimeout,
		Run: func(ctx context.Context) error {
			snap, err := s.fetcher.Fetch(ctx, c.Number, c.Court)
			if err != nil {
				return fmt.Errorf("fetch case %s: %w", caseID, err)
			}
			now := s.now()
			if err := s.store.SaveSnapshot(ctx, caseID, snap, now); err != nil {
				return err
			}
			c.Snapshot, c.UpdatedAt = snap, now
			return nil
		},
	})
	if err != nil {
		return domain.Case{}, mapExecError(caseID, err)
	}
	return c, nil
}

// StartMonitoring enables monitoring and schedules the next check one
// interval from now. interval 0 selects the configured default.
func (s *Service) StartMonitoring(ctx context.Context, caseID string, intervalMinutes int) (domain.Settings, error) {
	if intervalMinutes < 0 {
		return domain.Settings{}, domain.NewValidationError("interval_minutes", fmt.Sprintf("must be at least 1, got %d", intervalMinutes))
	}
	if intervalMinutes == 0 {
		intervalMinutes = s.cfg.DefaultIntervalMinutes
	}
	now := s.now()
	st, err := s.store.SetMonitoring(ctx, caseID, true, func(st *domain.Settings) error {
		st.IntervalMinutes = intervalMinutes
		st.MarkChecked(now)
		return nil
	})
	if err != nil {
		return domain.Settings{}, err
	}
	s.log.Info("monitoring started", logx.String("case_id", caseID), logx.Int("interval_minutes", intervalMinutes))
	return st, nil
}

// StopMonitoring disables monitoring; timestamps are left as they are.
func (s *Service) StopMonitoring(ctx context.Context, caseID string) error {
	if _, err := s.store.SetMonitoring(ctx, caseID, false, nil); err != nil {
		return err
	}
	s.log.Info("monitoring stopped", logx.String("case_id", caseID))
	return nil
}

// IsMonitored reports the case's monitoring flag. Unknown cases yield ErrNotFound.
func (s *Service) IsMonitored(ctx context.Context, caseID string) (bool, error) {
	c, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return false, err
	}
	return c.MonitoringEnabled, nil
}

// ActiveMonitoring returns the settings of every monitored case.
func (s *Service) ActiveMonitoring(ctx context.Context) ([]domain.Settings, error) {
	return s.store.ListMonitored(ctx)
}

// UpdateSettings replaces the user-editable settings. An interval change
// moves the next check relative to the last one.
func (s *Service) UpdateSettings(ctx context.Context, caseID string, p domain.Preferences) (domain.Settings, error) {
	if p.IntervalMinutes < 1 {
		return domain.Settings{}, domain.NewValidationError("interval_minutes", fmt.Sprintf("must be at least 1, got %d", p.IntervalMinutes))
	}
	now := s.now()
	return s.store.UpdateSettings(ctx, caseID, func(st *domain.Settings) error {
		st.Apply(p, now)
		return nil
	})
}

// CheckNow runs a check in the caller's goroutine, ignoring the due time.
// It fails with ErrCheckInProgress while another check of the case runs.
func (s *Service) CheckNow(ctx context.Context, caseID string) (CheckResult, error) {
	if _, err := s.store.GetCase(ctx, caseID); err != nil {
		return CheckResult{}, err
	}
	var res CheckResult
	err := s.exec.Run(ctx, engine.Task{
		Name:           checkTaskName,
		ConcurrencyKey: caseID,
		Timeout:        s.cfg.CheckTimeout,
		Run: func(ctx context.Context) error {
			var err error
			res, err = s.runCheck(ctx, caseID, triggerManual)
			return err
		},
	})
	if err != nil {
		return res, mapExecError(caseID, err)
	}
	return res, nil
}

// CheckInFlight reports whether a check of caseID is queued or running.
func (s *Service) CheckInFlight(caseID string) bool {
	return s.exec.InFlight(caseID)
}

// SaveSubscriber validates and upserts sub, assigning an ID when empty.
func (s *Service) SaveSubscriber(ctx context.Context, sub domain.Subscriber) (domain.Subscriber, error) {
	sub.Email = strings.TrimSpace(sub.Email)
	sub.Phone = strings.TrimSpace(sub.Phone)
	if err := sub.Validate(); err != nil {
		return domain.Subscriber{}, err
	}
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = s.now()
	}
	if err := s.store.SaveSubscriber(ctx, sub); err != nil {
		return domain.Subscriber{}, err
	}
	return sub, nil
}

// Subscribe links a subscriber to a case. Repeating it is a no-op.
func (s *Service) Subscribe(ctx context.Context, subscriberID, caseID string) error {
	if _, err := s.store.GetSubscriber(ctx, subscriberID); err != nil {
		return err
	}
	if _, err := s.store.GetCase(ctx, caseID); err != nil {
		return err
	}
	return s.store.Subscribe(ctx, subscriberID, caseID, s.now())
}

func (s *Service) Unsubscribe(ctx context.Context, subscriberID, caseID string) error {
	return s.store.Unsubscribe(ctx, subscriberID, caseID)
}

// ListNotifications returns notifications for one subscriber or one case,
// newest first.
func (s *Service) ListNotifications(ctx context.Context, q domain.NotificationQuery) ([]domain.Notification, error) {
	return s.notifier.List(ctx, q)
}

func (s *Service) MarkRead(ctx context.Context, notificationID string) error {
	return s.notifier.MarkRead(ctx, notificationID, s.now())
}

func mapExecError(caseID string, err error) error {
	switch {
	case errors.Is(err, engine.ErrOverlapSkip):
		return fmt.Errorf("case %s: %w", caseID, domain.ErrCheckInProgress)
	default:
		return err
	}
}
