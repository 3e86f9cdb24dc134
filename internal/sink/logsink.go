package sink

import (
	"context"

	logx "caseobserver/pkg/logx"
)

// Log writes deliveries to the log instead of sending them. It is the
// default for channels with no provider configured.
type Log struct{ log logx.Logger }

func NewLog(log logx.Logger) *Log {
	return &Log{log: log.With(logx.String("comp", "sink.log"))}
}

func (l *Log) SendEmail(_ context.Context, to, subject, body string) error {
	l.log.Info("email (log only)", logx.String("to", to), logx.String("subject", subject), logx.Int("body_len", len(body)))
	return nil
}

func (l *Log) SendSMS(_ context.Context, to, body string) error {
	l.log.Info("sms (log only)", logx.String("to", to), logx.Int("body_len", len(body)))
	return nil
}
