package logx

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

type Config struct {
	Level    string
	Console  bool
	File     FileConfig
	Telegram TelegramConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// TelegramConfig routes events at MinLevel and above to an operator chat.
type TelegramConfig struct {
	Enabled    bool
	ChatID     int64
	ThreadID   int
	MinLevel   string
	RatePerSec int
}

// Sender delivers one rendered alert to an operator chat.
type Sender interface {
	SendLog(ctx context.Context, chatID int64, threadID int, text string) error
}

const defaultLogFile = "./caseobserver.log"

// Service owns the log outputs. Apply rebuilds them; Loggers handed out
// earlier pick up the new outputs on their next event.
type Service struct {
	mu     sync.Mutex
	file   *os.File
	alerts *alertSink

	root atomic.Pointer[zerolog.Logger]
}

// New builds a Service from cfg and returns it with its root Logger. A nil
// sender leaves the Telegram output inert.
func New(cfg Config, sender Sender) (*Service, Logger) {
	configureGlobals()
	s := &Service{alerts: newAlertSink(sender)}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

// Apply swaps levels and outputs. Safe for concurrent use.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	var outs []io.Writer
	if cfg.Console {
		outs = append(outs, consoleWriter())
	}
	if cfg.File.Enabled {
		if f, err := openLogFile(cfg.File.Path); err != nil {
			fmt.Fprintf(os.Stderr, "logx: %v\n", err)
		} else {
			s.file = f
			outs = append(outs, zerolog.SyncWriter(f))
		}
	}
	s.alerts.configure(cfg.Telegram)
	if cfg.Telegram.Enabled {
		outs = append(outs, s.alerts)
		if cfg.Telegram.ChatID == 0 {
			fmt.Fprintln(os.Stderr, "logx: telegram alerts enabled without a chat id")
		}
	}
	if len(outs) == 0 {
		outs = append(outs, consoleWriter())
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(outs...)).
		Level(parseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.root.Store(&zl)
}

// Close stops the alert worker and closes the log file.
func (s *Service) Close() error {
	s.alerts.stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func openLogFile(path string) (*os.File, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = defaultLogFile
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir %q: %w", dir, err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %q: %w", path, err)
	}
	return f, nil
}

func configureGlobals() {
	zerolog.ErrorFieldName = "err"
	zerolog.TimeFieldFormat = timeFormat
}

func consoleWriter() io.Writer {
	return zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: timeFormat}
}
