package config

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"os"
	"strconv"
	"sync"
	"time"

	logx "caseobserver/pkg/logx"
)

// Validator vets a reloaded config before it is committed and published.
type Validator func(ctx context.Context, cfg *Config) error

// Manager holds the current config and fans reloaded versions out to
// subscribers. Each subscriber channel keeps only the newest config.
type Manager struct {
	path     string
	debounce time.Duration
	log      logx.Logger
	validate Validator

	mu      sync.RWMutex
	current *Config
	digest  uint64

	subsMu sync.Mutex
	subs   map[chan *Config]struct{}
}

func NewManager(path string) *Manager {
	return &Manager{
		path:     path,
		debounce: 250 * time.Millisecond,
		log:      logx.Nop(),
		subs:     make(map[chan *Config]struct{}),
	}
}

func (m *Manager) Path() string { return m.path }

func (m *Manager) SetLogger(log logx.Logger) {
	if !log.IsZero() {
		m.log = log
	}
}

func (m *Manager) SetValidator(fn Validator) { m.validate = fn }

// Parse reads the file, decodes it strictly, overlays environment
// variables and validates the result. It does not commit.
func (m *Manager) Parse() (*Config, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	cfg, err := decode(m.path, b)
	if err != nil {
		return nil, err
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load parses and commits the file.
func (m *Manager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.commit(cfg)
	return cfg, nil
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

func (m *Manager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, max(buffer, 1))
	m.subsMu.Lock()
	m.subs[ch] = struct{}{}
	m.subsMu.Unlock()
	return ch
}

// Unsubscribe removes and closes ch.
func (m *Manager) Unsubscribe(ch chan *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	if _, ok := m.subs[ch]; ok {
		delete(m.subs, ch)
		close(ch)
	}
}

func (m *Manager) commit(cfg *Config) {
	m.mu.Lock()
	m.current = cfg
	m.digest = digest(cfg)
	m.mu.Unlock()
}

func (m *Manager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for ch := range m.subs {
		for {
			select {
			case ch <- cfg:
			default:
				// Full: discard the stale pending config and try again.
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// reload re-reads the file and publishes it when its content changed and
// the validator accepts it.
func (m *Manager) reload(ctx context.Context) {
	cfg, err := m.Parse()
	if err != nil {
		m.log.Warn("config reload failed", logx.String("path", m.path), logx.Err(err))
		return
	}
	d := digest(cfg)
	m.mu.RLock()
	same := d == m.digest
	m.mu.RUnlock()
	if same {
		m.log.Debug("config content unchanged", logx.String("path", m.path))
		return
	}
	if m.validate != nil {
		vctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := m.validate(vctx, cfg)
		cancel()
		if err != nil {
			m.log.Warn("config rejected", logx.String("path", m.path), logx.Err(err))
			return
		}
	}
	m.commit(cfg)
	m.publish(cfg)
	m.log.Debug("config committed", logx.String("path", m.path), logx.String("digest", strconv.FormatUint(d, 16)))
}

// digest fingerprints the effective config, env overrides included.
func digest(cfg *Config) uint64 {
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
