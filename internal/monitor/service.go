package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"caseobserver/internal/changes"
	"caseobserver/internal/domain"
	"caseobserver/internal/eventbus"
	"caseobserver/internal/task/engine"
	logx "caseobserver/pkg/logx"

	"golang.org/x/sync/errgroup"
)

const (
	triggerSweep  = "sweep"
	triggerManual = "manual"

	checkTaskName = "case.check"
)

type Service struct {
	cfg      Config
	store    Store
	fetcher  Fetcher
	notifier Notifier
	exec     Executor
	log      logx.Logger
	bus      eventbus.Bus
	now      func() time.Time
}

type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithBus(bus eventbus.Bus) Option {
	return func(s *Service) { s.bus = bus }
}

func New(cfg Config, store Store, fetcher Fetcher, notifier Notifier, exec Executor, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:      cfg.withDefaults(),
		store:    store,
		fetcher:  fetcher,
		notifier: notifier,
		exec:     exec,
		log:      log,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Sweep enqueues a check for every due case. Cases already queued or
// running are skipped; when the engine queue is full the rest of the due
// list waits for the next sweep.
func (s *Service) Sweep(ctx context.Context) error {
	_, err := s.sweep(ctx)
	return err
}

func (s *Service) sweep(ctx context.Context) (SweepReport, error) {
	began := time.Now()
	rep := SweepReport{At: s.now()}

	due, err := s.store.ListDue(ctx, rep.At, s.cfg.SweepLimit)
	if err != nil {
		return rep, fmt.Errorf("listing due cases: %w", err)
	}
	rep.Due = len(due)

loop:
	for i, st := range due {
		err := s.exec.Enqueue(s.checkTask(st.CaseID))
		switch {
		case err == nil:
			rep.Enqueued++
		case errors.Is(err, engine.ErrOverlapSkip):
			rep.InFlight++
		case errors.Is(err, engine.ErrQueueFull):
			rep.Deferred = len(due) - i
			s.log.Warn("check queue full; deferring due cases to next sweep", logx.Int("deferred", rep.Deferred))
			break loop
		default:
			return rep, fmt.Errorf("enqueue check for case %s: %w", st.CaseID, err)
		}
	}

	rep.Took = time.Since(began)
	if rep.Due > 0 {
		s.log.Info("sweep completed",
			logx.Int("due", rep.Due),
			logx.Int("enqueued", rep.Enqueued),
			logx.Int("in_flight", rep.InFlight),
			logx.Int("deferred", rep.Deferred),
		)
	}
	s.publish(eventbus.TypeSweep, rep)
	return rep, nil
}

func (s *Service) checkTask(caseID string) engine.Task {
	return engine.Task{
		Name:           checkTaskName,
		ConcurrencyKey: caseID,
		Timeout:        s.cfg.CheckTimeout,
		Opt:            engine.TaskOptions{Overlap: engine.OverlapSkipIfRunning},
		Run: func(ctx context.Context) error {
			_, err := s.runCheck(ctx, caseID, triggerSweep)
			return err
		},
	}
}

// runCheck performs one check. It reschedules the case on return, including
// after failures, timeouts and panics. A sweep check that finds monitoring
// disabled leaves the timestamps alone.
func (s *Service) runCheck(ctx context.Context, caseID, trigger string) (res CheckResult, err error) {
	res.CaseID = caseID
	log := s.log.With(logx.String("case_id", caseID), logx.String("trigger", trigger))
	defer func() {
		if !res.Skipped {
			s.reschedule(ctx, caseID, log)
		}
	}()

	c, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return res, err
	}
	if trigger == triggerSweep && !c.MonitoringEnabled {
		res.Skipped = true
		log.Debug("monitoring disabled; check skipped")
		s.publish(eventbus.TypeCheckSkipped, CheckEvent{CaseID: caseID, Trigger: trigger, At: s.now()})
		return res, nil
	}
	settings, err := s.store.GetSettings(ctx, caseID)
	if err != nil {
		return res, err
	}

	s.publish(eventbus.TypeCheckStarted, CheckEvent{CaseID: caseID, Trigger: trigger, At: s.now()})
	snap, err := s.fetcher.Fetch(ctx, c.Number, c.Court)
	if err != nil {
		log.Warn("case fetch failed", logx.String("number", c.Number), logx.Err(err))
		s.publish(eventbus.TypeCheckFailed, CheckEvent{CaseID: caseID, Trigger: trigger, At: s.now(), Error: err.Error()})
		return res, fmt.Errorf("fetch case %s: %w", caseID, err)
	}

	now := s.now()
	res.CheckedAt = now
	res.Changes = changes.Detect(c.Snapshot, snap)
	if !res.Changes.HasAnyChanges() {
		log.Debug("no changes")
		s.publish(eventbus.TypeCheckCompleted, CheckEvent{CaseID: caseID, Trigger: trigger, At: now})
		return res, nil
	}

	subs, err := s.store.ListSubscribers(ctx, caseID)
	if err != nil {
		log.Warn("subscriber lookup failed; snapshot kept for the next check", logx.Err(err))
		s.publish(eventbus.TypeCheckFailed, CheckEvent{CaseID: caseID, Trigger: trigger, At: now, Error: err.Error()})
		return res, fmt.Errorf("list subscribers of case %s: %w", caseID, err)
	}
	res.Notifications, res.NotifyErrors = s.notifyAll(ctx, subs, c, res.Changes, settings, now)
	for _, nerr := range res.NotifyErrors {
		log.Warn("notification failed", logx.Err(nerr))
	}

	if err := s.store.SaveSnapshot(ctx, caseID, snap, now); err != nil {
		return res, fmt.Errorf("save snapshot of case %s: %w", caseID, err)
	}
	log.Info("changes detected",
		logx.Bool("status", res.Changes.Status.Changed),
		logx.Int("hearings", len(res.Changes.Hearings)),
		logx.Int("parties", len(res.Changes.Parties)),
		logx.Int("notifications", len(res.Notifications)),
	)
	s.publish(eventbus.TypeCheckCompleted, CheckEvent{CaseID: caseID, Trigger: trigger, At: now, Changed: true, Notifications: len(res.Notifications)})
	return res, nil
}

// notifyAll runs the dispatcher for every subscriber in subs. One
// subscriber's failure does not stop the others.
func (s *Service) notifyAll(ctx context.Context, subs []domain.Subscriber, c domain.Case, cs changes.ChangeSet, st domain.Settings, at time.Time) ([]domain.Notification, []error) {
	var (
		mu   sync.Mutex
		out  []domain.Notification
		errs []error
	)
	var g errgroup.Group
	g.SetLimit(s.cfg.NotifyConcurrency)
	for _, sub := range subs {
		g.Go(func() error {
			n, err := s.notifier.MaybeNotify(ctx, sub, c, cs, st, at)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
			} else if n != nil {
				out = append(out, *n)
			}
			return nil
		})
	}
	_ = g.Wait()
	return out, errs
}

// reschedule stamps LastCheckedAt and moves NextCheckAt one interval ahead.
// It runs detached from ctx so a canceled or timed-out check still advances.
func (s *Service) reschedule(ctx context.Context, caseID string, log logx.Logger) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.RescheduleTimeout)
	defer cancel()

	at := s.now()
	st, err := s.store.UpdateSettings(wctx, caseID, func(st *domain.Settings) error {
		st.MarkChecked(at)
		return nil
	})
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			log.Error("reschedule failed", logx.Err(err))
		}
		return
	}
	if st.NextCheckAt != nil {
		log.Debug("next check scheduled", logx.Time("next_check_at", *st.NextCheckAt))
	}
}

func (s *Service) publish(typ string, data any) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Time: s.now(), Data: data})
	}
}
