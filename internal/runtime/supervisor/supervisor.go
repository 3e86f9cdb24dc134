// Package supervisor runs caseobserver's background loops under one
// cancellable context with panic recovery.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	logx "caseobserver/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    logx.Logger

	cancelOnErr bool

	wg       sync.WaitGroup
	waitOnce sync.Once
	done     chan struct{}

	mu       sync.Mutex
	firstErr error

	running  atomic.Int64
	restarts atomic.Uint64
	panics   atomic.Uint64
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError cancels the shared context on the first loop failure.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

// Stats is a point-in-time view of the supervised loops.
type Stats struct {
	Running  int64
	Restarts uint64
	Panics   uint64
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{ctx: ctx, cancel: cancel, done: make(chan struct{})}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the shared context without waiting.
func (s *Supervisor) Cancel() { s.cancel() }

// Err returns the first failure recorded, or nil.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstErr
}

func (s *Supervisor) Stats() Stats {
	return Stats{
		Running:  s.running.Load(),
		Restarts: s.restarts.Load(),
		Panics:   s.panics.Load(),
	}
}

// Go runs fn once. A returned error or a panic is recorded as a failure;
// context.Canceled is a clean exit.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	s.spawn(name, func(ctx context.Context) {
		err := s.guard(ctx, name, fn)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.fail(fmt.Errorf("%s: %w", name, err))
		}
	})
}

// Go0 is Go for functions that cannot fail.
func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

// LoopOption configures Loop.
type LoopOption func(*loopConfig)

type loopConfig struct {
	minDelay    time.Duration
	maxDelay    time.Duration
	maxRestarts int
	healthyRun  time.Duration
}

// WithBackoff bounds the delay between restarts.
func WithBackoff(minDelay, maxDelay time.Duration) LoopOption {
	return func(c *loopConfig) {
		if minDelay > 0 {
			c.minDelay = minDelay
		}
		if maxDelay > 0 {
			c.maxDelay = maxDelay
		}
	}
}

// WithMaxRestarts makes Loop give up and record a failure after n
// consecutive restarts. Zero means restart forever.
func WithMaxRestarts(n int) LoopOption {
	return func(c *loopConfig) { c.maxRestarts = n }
}

// Loop runs a long-lived fn and restarts it with jittered exponential
// backoff when it fails or panics. A nil return ends the loop.
func (s *Supervisor) Loop(name string, fn func(ctx context.Context) error, opts ...LoopOption) {
	cfg := loopConfig{minDelay: 250 * time.Millisecond, maxDelay: 30 * time.Second, healthyRun: 30 * time.Second}
	for _, o := range opts {
		o(&cfg)
	}
	cfg.maxDelay = max(cfg.maxDelay, cfg.minDelay)

	s.spawn(name, func(ctx context.Context) {
		attempt := 0
		for {
			began := time.Now()
			err := s.guard(ctx, name, fn)
			if err == nil || ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			if time.Since(began) >= cfg.healthyRun {
				attempt = 0
			}
			attempt++
			if cfg.maxRestarts > 0 && attempt > cfg.maxRestarts {
				s.log.Error("loop gave up", logx.String("loop", name), logx.Int("restarts", attempt-1), logx.Err(err))
				s.fail(fmt.Errorf("%s: %w", name, err))
				return
			}
			s.restarts.Add(1)
			wait := restartDelay(attempt, cfg.minDelay, cfg.maxDelay)
			s.log.Warn("loop restarting", logx.String("loop", name), logx.Duration("backoff", wait), logx.Err(err))

			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
		}
	})
}

// Stop cancels the shared context and waits for every loop to exit.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until every loop exits or ctx is done.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.waitOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.done)
		}()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return s.Err()
	}
}

func (s *Supervisor) spawn(name string, body func(ctx context.Context)) {
	s.wg.Add(1)
	s.running.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Add(-1)
		s.log.Debug("loop started", logx.String("loop", name))
		body(s.ctx)
		s.log.Debug("loop stopped", logx.String("loop", name))
	}()
}

// guard calls fn and turns a panic into an error.
func (s *Supervisor) guard(ctx context.Context, name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.panics.Add(1)
			s.log.Error("loop panicked", logx.String("loop", name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

func (s *Supervisor) fail(err error) {
	s.mu.Lock()
	if s.firstErr == nil {
		s.firstErr = err
	}
	s.mu.Unlock()
	if s.cancelOnErr {
		s.cancel()
	}
}

// restartDelay doubles from minDelay per attempt, caps at maxDelay and adds
// up to 20% jitter.
func restartDelay(attempt int, minDelay, maxDelay time.Duration) time.Duration {
	d := minDelay
	for i := 1; i < attempt && d < maxDelay; i++ {
		d *= 2
	}
	d = min(d, maxDelay)
	if j := int64(d) / 5; j > 0 {
		d += time.Duration(rand.Int64N(j + 1))
	}
	return d
}
