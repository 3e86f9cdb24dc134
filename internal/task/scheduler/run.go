package scheduler

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"caseobserver/internal/eventbus"
	logx "caseobserver/pkg/logx"

	"github.com/robfig/cron/v3"
)

const (
	defaultStartupSpread = 30 * time.Second
	jobErrorWarnEvery    = 5 * time.Second
)

// RunEvent is published after every scheduled run.
type RunEvent struct {
	Name     string        `json:"name"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// registerLocked hands e to the running cron. Interval jobs get a random
// first-run delay so instances started together do not query storage in
// lockstep.
func (s *Service) registerLocked(e *entry) {
	ctx := s.runCtx
	fn := cron.FuncJob(func() { s.run(ctx, e.name, e.timeout, e.job) })

	if e.sched.Every > 0 {
		e.spread = spreadFor(e.sched.Every, s.spreadCap())
		e.id = s.cron.Schedule(delayedFirst{
			base:  cron.Every(e.sched.Every),
			first: time.Now().In(s.loc).Add(e.sched.Every + e.spread),
		}, fn)
	} else {
		id, err := s.cron.AddJob(e.sched.Expr, fn)
		if err != nil {
			s.log.Error("schedule rejected by cron", logx.String("job", e.name), logx.String("schedule", e.sched.Expr), logx.Err(err))
			return
		}
		e.id, e.spread = id, 0
	}
	s.log.Debug("job scheduled",
		logx.String("job", e.name),
		logx.String("schedule", e.sched.String()),
		logx.Duration("timeout", e.timeout),
		logx.Duration("spread", e.spread),
	)
}

func (s *Service) spreadCap() time.Duration {
	switch {
	case s.cfg.StartupSpread < 0:
		return 0
	case s.cfg.StartupSpread == 0:
		return defaultStartupSpread
	}
	return s.cfg.StartupSpread
}

func (s *Service) run(ctx context.Context, name string, timeout time.Duration, job Job) {
	if ctx.Err() != nil {
		return
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	began := time.Now()
	err := job(ctx)
	ev := RunEvent{Name: name, Started: began, Duration: time.Since(began)}
	typ := "schedule.finished"
	if err != nil {
		ev.Error = err.Error()
		typ = "schedule.failed"
		s.warnJobError(name, err)
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: ev})
	}
}

// warnJobError logs a failed run at most once per jobErrorWarnEvery per job.
func (s *Service) warnJobError(name string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	now := time.Now()
	s.errMu.Lock()
	last := s.lastWarn[name]
	quiet := !last.IsZero() && now.Sub(last) < jobErrorWarnEvery
	if !quiet {
		s.lastWarn[name] = now
	}
	s.errMu.Unlock()
	if !quiet {
		s.log.Warn("scheduled job failed", logx.String("job", name), logx.Err(err))
	}
}

// delayedFirst fires first at a fixed time, then follows base.
type delayedFirst struct {
	base  cron.Schedule
	first time.Time
}

func (d delayedFirst) Next(t time.Time) time.Time {
	if t.Before(d.first) {
		return d.first
	}
	return d.base.Next(t)
}

// spreadFor picks a random delay in [0, min(every, limit)).
func spreadFor(every, limit time.Duration) time.Duration {
	n := min(every, limit)
	if n <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(n)))
}
