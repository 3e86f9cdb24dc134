package logx

import (
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

type Level = zerolog.Level

const (
	LevelDebug = zerolog.DebugLevel
	LevelInfo  = zerolog.InfoLevel
	LevelWarn  = zerolog.WarnLevel
	LevelError = zerolog.ErrorLevel
)

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

// Logger is a value type; the zero value discards everything. Loggers
// obtained from a Service follow its outputs across Service.Apply.
type Logger struct {
	svc    *Service
	static *zerolog.Logger
	fields []Field
}

// Nop returns a logger that never writes.
func Nop() Logger {
	zl := zerolog.Nop()
	return Logger{static: &zl}
}

// NewConsole returns a standalone console logger for code that runs before
// the Service exists.
func NewConsole(level string) Logger {
	configureGlobals()
	zl := zerolog.New(consoleWriter()).Level(parseLevel(level, zerolog.InfoLevel)).With().Timestamp().Logger()
	return Logger{static: &zl}
}

func (l Logger) IsZero() bool { return l.svc == nil && l.static == nil && len(l.fields) == 0 }

// Enabled reports whether an event at level would be written.
func (l Logger) Enabled(level Level) bool {
	zl := l.target()
	return level >= zl.GetLevel()
}

// With returns a logger that adds fields to every event.
func (l Logger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	out := l
	out.fields = make([]Field, 0, len(l.fields)+len(fields))
	out.fields = append(out.fields, l.fields...)
	out.fields = append(out.fields, fields...)
	return out
}

func (l Logger) Debug(msg string, fields ...Field) { l.emit(zerolog.DebugLevel, msg, fields) }
func (l Logger) Info(msg string, fields ...Field)  { l.emit(zerolog.InfoLevel, msg, fields) }
func (l Logger) Warn(msg string, fields ...Field)  { l.emit(zerolog.WarnLevel, msg, fields) }
func (l Logger) Error(msg string, fields ...Field) { l.emit(zerolog.ErrorLevel, msg, fields) }

func (l Logger) target() zerolog.Logger {
	switch {
	case l.svc != nil:
		return l.svc.current()
	case l.static != nil:
		return *l.static
	default:
		return zerolog.Nop()
	}
}

func (l Logger) emit(level zerolog.Level, msg string, fields []Field) {
	zl := l.target()
	e := zl.WithLevel(level)
	if e == nil {
		return
	}
	if _, file, line, ok := runtime.Caller(2); ok {
		e.Str(zerolog.CallerFieldName, filepath.Base(file)+":"+strconv.Itoa(line))
	}
	apply(e, l.fields)
	apply(e, fields)
	e.Msg(msg)
}

func parseLevel(s string, def zerolog.Level) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return def
	}
}
