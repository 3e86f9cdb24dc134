package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"caseobserver/internal/eventbus"
	logx "caseobserver/pkg/logx"

	"github.com/robfig/cron/v3"
)

type Config struct {
	Enabled  bool
	Timezone string // IANA name, e.g. "Europe/Bucharest"; empty means Local

	// StartupSpread caps the random delay added to the first run of an
	// interval schedule. 0 applies the default (30s); negative disables it.
	StartupSpread time.Duration
}

// Job is the body of a scheduled trigger. Its context is canceled by Stop
// and bounded by the job's timeout.
type Job func(ctx context.Context) error

type entry struct {
	name    string
	sched   Schedule
	timeout time.Duration
	job     Job

	id     cron.EntryID
	spread time.Duration
}

// Entry describes one registered job.
type Entry struct {
	Name     string
	Schedule string
	Timeout  time.Duration
	Spread   time.Duration
	Next     time.Time
	Prev     time.Time
}

type Service struct {
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	mu      sync.Mutex
	entries []*entry
	cron    *cron.Cron
	loc     *time.Location
	runCtx  context.Context
	cancel  context.CancelFunc

	errMu    sync.Mutex
	lastWarn map[string]time.Time
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log, bus: bus, lastWarn: map[string]time.Time{}}
}

// Add registers job under name, replacing any job with that name. timeout
// bounds each run; 0 means unbounded.
func (s *Service) Add(name, schedule string, timeout time.Duration, job Job) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("schedule name required")
	}
	if job == nil {
		return "", errors.New("job required")
	}
	sched, err := ParseSchedule(schedule)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	e := &entry{name: name, sched: sched, timeout: timeout, job: job}
	s.entries = append(s.entries, e)
	if s.cron != nil {
		s.registerLocked(e)
	}
	return name, nil
}

// Remove unregisters name and reports whether it existed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(strings.TrimSpace(name))
}

func (s *Service) removeLocked(name string) bool {
	kept := s.entries[:0]
	removed := false
	for _, e := range s.entries {
		if e.name != name {
			kept = append(kept, e)
			continue
		}
		removed = true
		if s.cron != nil && e.id != 0 {
			s.cron.Remove(e.id)
		}
	}
	s.entries = kept
	return removed
}

// Start begins triggering. Runs of one job never overlap: a trigger that
// fires while the previous run is active is skipped.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return
	}
	if !s.cfg.Enabled {
		s.log.Info("scheduler disabled")
		return
	}

	s.loc = s.location()
	s.runCtx, s.cancel = context.WithCancel(ctx)
	cl := cronLogger{log: s.log}
	s.cron = cron.New(
		cron.WithParser(cronParser),
		cron.WithLocation(s.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	for _, e := range s.entries {
		s.registerLocked(e)
	}
	s.cron.Start()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.entries)))
}

// Stop ends triggering, cancels running jobs' contexts and waits for them
// until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	for _, e := range s.entries {
		e.id = 0
	}
	s.mu.Unlock()
	if c == nil {
		return
	}

	began := time.Now()
	stopped := c.Stop()
	cancel()
	select {
	case <-stopped.Done():
		s.log.Info("scheduler stopped", logx.Duration("took", time.Since(began)))
	case <-ctx.Done():
		s.log.Warn("scheduler stop deadline reached with jobs still running")
	}
}

func (s *Service) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		it := Entry{Name: e.name, Schedule: e.sched.String(), Timeout: e.timeout, Spread: e.spread}
		if s.cron != nil && e.id != 0 {
			ce := s.cron.Entry(e.id)
			it.Next, it.Prev = ce.Next, ce.Prev
		}
		out = append(out, it)
	}
	return out
}

func (s *Service) location() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("unknown timezone; using Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
