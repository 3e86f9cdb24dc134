package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	logx "caseobserver/pkg/logx"
)

const queueFullWarnEvery = 5 * time.Second

type queuedTask struct {
	task       Task
	opt        TaskOptions
	timeout    time.Duration
	enqueuedAt time.Time
	exclusive  bool
}

// Enqueue admits t without blocking. A full queue drops t with
// ErrQueueFull; an exclusive task whose key is busy gets ErrOverlapSkip.
func (s *Service) Enqueue(t Task) error {
	return s.admit(context.Background(), t, false)
}

// Submit is Enqueue with backpressure: it waits for queue space until ctx
// is done or the engine stops.
func (s *Service) Submit(ctx context.Context, t Task) error {
	return s.admit(ctx, t, true)
}

// Run executes t in the caller's goroutine under the same key exclusion as
// queued work, regardless of t.Opt.Overlap. It does not retry.
func (s *Service) Run(ctx context.Context, t Task) error {
	if err := s.normalize(&t); err != nil {
		return err
	}
	s.mu.Lock()
	stopping := s.stopping
	s.mu.Unlock()
	if stopping {
		return ErrStopping
	}

	key := t.key()
	now := time.Now()
	if !s.keys.acquire(key) {
		s.publish("task.skipped", now, TaskEvent{ID: t.ID, Name: t.Name, Key: key, Started: now, Error: "overlap_skip"})
		return ErrOverlapSkip
	}
	defer s.keys.release(key)

	err := s.attempt(ctx, t, s.timeoutFor(t))
	s.record(HistoryItem{ID: t.ID, Name: t.Name, Key: key, Started: now, Duration: time.Since(now), Error: errText(err)})
	return Unwrapped(err)
}

func (s *Service) normalize(t *Task) error {
	if t.Run == nil {
		return errors.New("task: Run is nil")
	}
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return errors.New("task: Name is required")
	}
	t.ConcurrencyKey = strings.TrimSpace(t.ConcurrencyKey)
	if t.ID == "" {
		t.ID = fmt.Sprintf("tsk-%x-%x", time.Now().UnixNano(), s.seq.Add(1))
	}
	return nil
}

func (s *Service) timeoutFor(t Task) time.Duration {
	if t.Timeout > 0 {
		return t.Timeout
	}
	return s.cfg.DefaultTimeout
}

func (s *Service) admit(ctx context.Context, t Task, wait bool) error {
	if err := s.normalize(&t); err != nil {
		return err
	}
	if !s.cfg.Enabled {
		return ErrDisabled
	}
	s.mu.Lock()
	queue, stopCh, stopping := s.queue, s.stopCh, s.stopping
	s.mu.Unlock()
	switch {
	case queue == nil:
		return ErrStopped
	case stopping:
		return ErrStopping
	}

	now := time.Now()
	qt := queuedTask{
		task:       t,
		opt:        t.Opt.withDefaults(s.cfg),
		timeout:    s.timeoutFor(t),
		enqueuedAt: now,
		exclusive:  t.Opt.Overlap == OverlapSkipIfRunning,
	}
	key := t.key()
	if qt.exclusive && !s.keys.acquire(key) {
		s.publish("task.skipped", now, TaskEvent{ID: t.ID, Name: t.Name, Key: key, Started: now, Error: "overlap_skip"})
		s.log.Debug("task skipped: key busy", logx.String("task", t.Name), logx.String("key", key))
		return ErrOverlapSkip
	}
	unadmit := func() {
		if qt.exclusive {
			s.keys.release(key)
		}
	}

	if !wait {
		select {
		case queue <- qt:
			return nil
		default:
			unadmit()
			s.dropFull(now, t, queue)
			return ErrQueueFull
		}
	}
	select {
	case queue <- qt:
		return nil
	case <-ctx.Done():
		unadmit()
		return ctx.Err()
	case <-stopCh:
		unadmit()
		return ErrStopping
	}
}

// dropFull counts a queue-full rejection and warns at most once per
// queueFullWarnEvery.
func (s *Service) dropFull(now time.Time, t Task, queue chan queuedTask) {
	n := s.dropped.Add(1)
	s.publish("task.dropped", now, TaskEvent{ID: t.ID, Name: t.Name, Key: t.key(), Started: now, Error: "queue_full"})

	prev := s.lastWarn.Load()
	if prev != 0 && now.UnixNano()-prev < int64(queueFullWarnEvery) {
		return
	}
	if s.lastWarn.CompareAndSwap(prev, now.UnixNano()) {
		s.log.Warn("task dropped: queue full",
			logx.String("task", t.Name),
			logx.Int("queue_cap", cap(queue)),
			logx.Uint64("dropped_total", n),
		)
	}
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
