package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"time"

	logx "caseobserver/pkg/logx"
)

// slowTask is the duration above which a completed task logs at INFO.
const slowTask = 750 * time.Millisecond

func (s *Service) work(ctx context.Context, stopCh <-chan struct{}, queue <-chan queuedTask) error {
	for {
		// A stop request wins over queued work.
		select {
		case <-stopCh:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		select {
		case <-stopCh:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case qt := <-queue:
			s.running.Add(1)
			s.execute(ctx, stopCh, qt)
			s.running.Add(-1)
		}
	}
}

func (s *Service) execute(ctx context.Context, stopCh <-chan struct{}, qt queuedTask) {
	t := qt.task
	if qt.exclusive {
		defer s.keys.release(t.key())
	}

	start := time.Now()
	ev := TaskEvent{ID: t.ID, Name: t.Name, Key: t.key(), Started: start, QueueDelay: max(start.Sub(qt.enqueuedAt), 0)}
	s.publish("task.started", start, ev)

	err := s.withRetries(ctx, stopCh, qt, &ev.Attempts)

	ev.Duration = time.Since(start)
	fields := []logx.Field{
		logx.String("task", t.Name),
		logx.String("key", ev.Key),
		logx.Duration("queue_delay", ev.QueueDelay),
		logx.Duration("took", ev.Duration),
		logx.Int("attempts", ev.Attempts),
	}
	switch {
	case err != nil:
		s.failed.Add(1)
		ev.Error = err.Error()
		s.log.Warn("task failed", append(fields, logx.Err(err))...)
		s.publish("task.failed", time.Now(), ev)
	case ev.Duration >= slowTask:
		s.completed.Add(1)
		s.log.Info("task completed", fields...)
		s.publish("task.finished", time.Now(), ev)
	default:
		s.completed.Add(1)
		s.log.Debug("task completed", fields...)
		s.publish("task.finished", time.Now(), ev)
	}
	s.record(HistoryItem{ID: ev.ID, Name: ev.Name, Key: ev.Key, Started: start, QueueDelay: ev.QueueDelay, Duration: ev.Duration, Error: ev.Error})
}

func (s *Service) withRetries(ctx context.Context, stopCh <-chan struct{}, qt queuedTask, attempts *int) error {
	limit := 1 + max(qt.opt.RetryMax, 0)
	for n := 1; ; n++ {
		*attempts = n
		err := s.attempt(ctx, qt.task, qt.timeout)
		switch {
		case err == nil:
			return nil
		case IsNoRetry(err):
			return Unwrapped(err)
		case n >= limit:
			return err
		}

		delay := retryDelay(qt.opt, n)
		s.log.Debug("task retry scheduled", logx.String("task", qt.task.Name), logx.Int("next_attempt", n+1), logx.Duration("delay", delay), logx.Err(err))
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			tmr.Stop()
			return ctx.Err()
		case <-stopCh:
			tmr.Stop()
			return errors.Join(ErrStopping, err)
		case <-tmr.C:
		}
	}
}

// attempt runs t once under its timeout and turns a panic into an error.
func (s *Service) attempt(ctx context.Context, t Task, timeout time.Duration) (err error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("task panicked", logx.String("task", t.Name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	return t.Run(ctx)
}

// retryDelay is RetryBase doubled per retry, capped at RetryMaxDelay, with
// ±RetryJitter applied.
func retryDelay(opt TaskOptions, retry int) time.Duration {
	d := opt.RetryBase
	for i := 1; i < retry && d < opt.RetryMaxDelay; i++ {
		d *= 2
	}
	d = min(d, opt.RetryMaxDelay)
	if opt.RetryJitter > 0 {
		f := 1 + (rand.Float64()*2-1)*opt.RetryJitter
		d = time.Duration(float64(d) * f)
	}
	return min(max(d, time.Millisecond), opt.RetryMaxDelay)
}
