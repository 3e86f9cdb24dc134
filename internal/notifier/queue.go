package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"caseobserver/internal/eventbus"
	"caseobserver/internal/runtime/supervisor"
	logx "caseobserver/pkg/logx"

	"golang.org/x/time/rate"
)

var (
	ErrDisabled  = errors.New("delivery queue disabled")
	ErrQueueFull = errors.New("delivery queue full")
	ErrStopped   = errors.New("delivery queue stopped")
)

const historySize = 300

// Service is the asynchronous delivery queue. Deliveries pass a dedup
// window, wait in a bounded queue and are sent by a worker pool through a
// shared token bucket with bounded retries.
type Service struct {
	log   logx.Logger
	email EmailSender
	sms   SMSSender
	bus   eventbus.Bus
	seen  *recentSet

	mu        sync.Mutex
	cfg       Config
	limiter   *rate.Limiter
	queue     chan Delivery
	sup       *supervisor.Supervisor
	accepting bool
	pending   sync.WaitGroup // Enqueue calls holding a queue reference

	sent    atomic.Uint64
	failed  atomic.Uint64
	deduped atomic.Uint64

	hmu     sync.Mutex
	history []HistoryItem
}

// Stats counts delivery outcomes since the process started.
type Stats struct {
	Queued  int
	Sent    uint64
	Failed  uint64
	Deduped uint64
}

func New(cfg Config, email EmailSender, sms SMSSender, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{email: email, sms: sms, log: log, bus: bus, seen: newRecentSet()}
	s.Apply(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps rate, retry, timeout and dedup settings in place. Workers and
// QueueSize apply from the next Start.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	s.mu.Unlock()
	s.seen.resize(cfg.DedupMaxEntries)
}

// Start launches the workers. It does nothing when disabled or running.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.queue != nil {
		return
	}
	s.queue = make(chan Delivery, s.cfg.QueueSize)
	s.accepting = true
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log))

	queue := s.queue
	for i := range s.cfg.Workers {
		s.sup.Loop(fmt.Sprintf("delivery.%d", i), func(c context.Context) error {
			return s.work(c, queue)
		})
	}
	s.log.Info("delivery queue started", logx.Int("workers", s.cfg.Workers), logx.Int("queue", s.cfg.QueueSize))
}

// Stop refuses new deliveries and lets the workers drain the queue until
// ctx is done. Whatever is still queued after that is abandoned.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	queue, sup := s.queue, s.sup
	if queue == nil || !s.accepting {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	s.mu.Unlock()

	s.pending.Wait()
	close(queue)

	if err := sup.Wait(ctx); err != nil && ctx.Err() != nil {
		s.log.Warn("delivery queue stop deadline reached; abandoning pending deliveries", logx.Int("pending", len(queue)))
		sup.Cancel()
		_ = sup.Wait(context.Background())
	} else {
		s.log.Info("delivery queue stopped")
	}

	s.mu.Lock()
	s.queue, s.sup = nil, nil
	s.mu.Unlock()
}

// Enqueue hands d to the workers without blocking. A duplicate of a
// delivery accepted within the dedup window is dropped silently.
func (s *Service) Enqueue(ctx context.Context, d Delivery) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	switch {
	case !s.cfg.Enabled:
		s.mu.Unlock()
		return ErrDisabled
	case !s.accepting:
		s.mu.Unlock()
		return ErrStopped
	}
	queue, window := s.queue, s.cfg.DedupWindow
	s.pending.Add(1)
	s.mu.Unlock()
	defer s.pending.Done()

	d.key = d.dedupKey()
	if window > 0 && !s.seen.add(d.key, time.Now().Add(window)) {
		s.deduped.Add(1)
		s.publish(eventbus.TypeDeliveryDeduped, d, 0, nil)
		return nil
	}

	select {
	case queue <- d:
		return nil
	default:
		s.failed.Add(1)
		s.publish(eventbus.TypeDeliveryFailed, d, 0, ErrQueueFull)
		return ErrQueueFull
	}
}

func (s *Service) Stats() Stats {
	s.mu.Lock()
	queue := s.queue
	s.mu.Unlock()
	st := Stats{Sent: s.sent.Load(), Failed: s.failed.Load(), Deduped: s.deduped.Load()}
	if queue != nil {
		st.Queued = len(queue)
	}
	return st
}

// History returns the most recent delivery outcomes, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) remember(d Delivery, attempts int, err error) {
	item := HistoryItem{At: time.Now(), Channel: d.Channel, To: d.To, CaseID: d.CaseID, Attempts: attempts}
	if err != nil {
		item.Error = err.Error()
	}
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, item)
	if over := len(s.history) - historySize; over > 0 {
		s.history = append(s.history[:0:0], s.history[over:]...)
	}
}

func (s *Service) publish(typ string, d Delivery, attempts int, err error) {
	if s.bus == nil {
		return
	}
	now := time.Now()
	ev := DeliveryEvent{Channel: d.Channel, To: d.To, NotificationID: d.NotificationID, CaseID: d.CaseID, Key: d.key, Attempts: attempts, At: now}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: ev})
}
