// Package engine is a bounded worker pool for caseobserver's background
// work. Tasks carry a concurrency key; the engine guarantees at most one
// admitted task per key when the task asks for it.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"caseobserver/internal/eventbus"
	"caseobserver/internal/runtime/supervisor"
	logx "caseobserver/pkg/logx"
)

// Config controls the engine. The app maps task_engine.* onto it.
type Config struct {
	Enabled   bool
	Workers   int
	QueueSize int

	// DefaultTimeout applies when Task.Timeout is 0. Zero means no limit.
	DefaultTimeout time.Duration

	HistorySize int

	// RetryMax is the retry budget for tasks that do not set their own.
	RetryMax int
}

type Service struct {
	cfg  Config
	log  logx.Logger
	bus  eventbus.Bus
	keys *keySet

	mu       sync.Mutex
	queue    chan queuedTask
	stopCh   chan struct{}
	sup      *supervisor.Supervisor
	stopping bool

	running   atomic.Int32
	seq       atomic.Uint64
	dropped   atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	lastWarn  atomic.Int64

	hmu     sync.Mutex
	history []HistoryItem
}

// Stats is a diagnostic view of the engine.
type Stats struct {
	Enabled   bool
	Workers   int
	Queued    int
	QueueCap  int
	Running   int
	BusyKeys  int
	Dropped   uint64
	Completed uint64
	Failed    uint64
	Recent    []HistoryItem
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 200
	}
	cfg.RetryMax = max(cfg.RetryMax, 0)
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log, bus: bus, keys: newKeySet()}
}

func (s *Service) Enabled() bool { return s.cfg.Enabled }

// Start launches the workers. Calling it on a running or disabled engine
// does nothing.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.stopCh != nil {
		return
	}

	s.queue = make(chan queuedTask, s.cfg.QueueSize)
	s.stopCh = make(chan struct{})
	s.stopping = false
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log))

	queue, stopCh := s.queue, s.stopCh
	for i := range s.cfg.Workers {
		s.sup.Loop(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			return s.work(c, stopCh, queue)
		})
	}
	s.log.Info("task engine started", logx.Int("workers", s.cfg.Workers), logx.Int("queue", s.cfg.QueueSize))
}

// Stop refuses new work and waits for running tasks until ctx is done,
// then cancels them. Tasks still queued are dropped and their keys freed.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh == nil || s.stopping {
		s.mu.Unlock()
		return
	}
	s.stopping = true
	close(s.stopCh)
	sup, queue := s.sup, s.queue
	s.mu.Unlock()

	if err := sup.Wait(ctx); err != nil && ctx.Err() != nil {
		s.log.Warn("task engine stop deadline reached; canceling running tasks", logx.Int("running", int(s.running.Load())))
		sup.Cancel()
		_ = sup.Wait(context.Background())
	}

	dropped := 0
	for drained := false; !drained; {
		select {
		case qt := <-queue:
			if qt.exclusive {
				s.keys.release(qt.task.key())
			}
			dropped++
		default:
			drained = true
		}
	}

	s.mu.Lock()
	s.queue, s.stopCh, s.sup = nil, nil, nil
	s.stopping = false
	s.mu.Unlock()

	s.log.Info("task engine stopped", logx.Int("dropped_queued", dropped))
}

// InFlight reports whether work for key is queued or running.
func (s *Service) InFlight(key string) bool { return s.keys.busy(key) }

func (s *Service) Stats() Stats {
	s.mu.Lock()
	queue := s.queue
	s.mu.Unlock()

	st := Stats{
		Enabled:   s.cfg.Enabled,
		Workers:   s.cfg.Workers,
		Running:   int(s.running.Load()),
		BusyKeys:  s.keys.len(),
		Dropped:   s.dropped.Load(),
		Completed: s.completed.Load(),
		Failed:    s.failed.Load(),
	}
	if queue != nil {
		st.Queued, st.QueueCap = len(queue), cap(queue)
	}
	s.hmu.Lock()
	st.Recent = append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return st
}

func (s *Service) publish(typ string, at time.Time, ev TaskEvent) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Time: at, Data: ev})
	}
}

func (s *Service) record(item HistoryItem) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, item)
	if over := len(s.history) - s.cfg.HistorySize; over > 0 {
		s.history = append(s.history[:0:0], s.history[over:]...)
	}
}
