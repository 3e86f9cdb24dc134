package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	alertQueueSize   = 128
	alertSendTimeout = 10 * time.Second
	alertMaxLen      = 3500
	alertMaxValueLen = 600
)

// Keys rendered first, in this order, when present in an alert.
var alertLeadKeys = []string{"comp", "case_id", "number", "court", "err"}

type alert struct {
	chatID   int64
	threadID int
	text     string
}

// alertSink forwards WARN+ events to an operator chat. Writes never block:
// events over the rate limit or a full queue are counted and reported with
// the next alert that goes out.
type alertSink struct {
	sender Sender
	queue  chan alert

	mu       sync.Mutex
	chatID   int64
	threadID int
	minLevel zerolog.Level
	limiter  *rate.Limiter

	dropped atomic.Int64

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

func newAlertSink(sender Sender) *alertSink {
	return &alertSink{
		sender:   sender,
		queue:    make(chan alert, alertQueueSize),
		minLevel: zerolog.WarnLevel,
		done:     make(chan struct{}),
	}
}

func (a *alertSink) configure(cfg TelegramConfig) {
	rps := cfg.RatePerSec
	if rps < 1 {
		rps = 1
	}
	a.mu.Lock()
	a.chatID = cfg.ChatID
	a.threadID = cfg.ThreadID
	a.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	a.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	a.mu.Unlock()

	if cfg.Enabled && a.sender != nil {
		a.startOnce.Do(func() {
			ctx, cancel := context.WithCancel(context.Background())
			a.cancel = cancel
			go a.run(ctx)
		})
	}
}

func (a *alertSink) stop() {
	a.stopOnce.Do(func() {
		a.startOnce.Do(func() { close(a.done) })
		if a.cancel != nil {
			a.cancel()
			<-a.done
		}
	})
}

func (a *alertSink) run(ctx context.Context) {
	defer close(a.done)
	for {
		select {
		case <-ctx.Done():
			return
		case it := <-a.queue:
			sctx, cancel := context.WithTimeout(ctx, alertSendTimeout)
			_ = a.sender.SendLog(sctx, it.chatID, it.threadID, it.text)
			cancel()
		}
	}
}

func (a *alertSink) Write(p []byte) (int, error) {
	return a.WriteLevel(zerolog.NoLevel, p)
}

func (a *alertSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	a.mu.Lock()
	chatID, threadID, minLevel, lim := a.chatID, a.threadID, a.minLevel, a.limiter
	a.mu.Unlock()

	if a.sender == nil || chatID == 0 || level == zerolog.NoLevel || level < minLevel {
		return len(p), nil
	}
	if lim != nil && !lim.Allow() {
		a.dropped.Add(1)
		return len(p), nil
	}

	text := renderAlert(p, a.dropped.Swap(0))
	select {
	case a.queue <- alert{chatID: chatID, threadID: threadID, text: text}:
	default:
		a.dropped.Add(1)
	}
	return len(p), nil
}

// renderAlert turns one zerolog JSON line into a chat message: a level and
// message headline followed by one "key: value" line per field.
func renderAlert(p []byte, suppressed int64) string {
	var ev map[string]any
	if err := json.Unmarshal(p, &ev); err != nil {
		return clip(strings.TrimSpace(string(p)), alertMaxLen)
	}

	var b strings.Builder
	if lvl, _ := ev[zerolog.LevelFieldName].(string); lvl != "" {
		b.WriteString(strings.ToUpper(lvl))
		b.WriteString(": ")
	}
	msg, _ := ev[zerolog.MessageFieldName].(string)
	b.WriteString(msg)

	for _, k := range alertKeys(ev) {
		v := fmt.Sprint(ev[k])
		if k == "stack" {
			fmt.Fprintf(&b, "\nstack:\n%s", clip(v, 900))
			continue
		}
		fmt.Fprintf(&b, "\n%s: %s", k, clip(v, alertMaxValueLen))
	}
	if suppressed > 0 {
		fmt.Fprintf(&b, "\n(%d earlier alerts suppressed)", suppressed)
	}
	return clip(b.String(), alertMaxLen)
}

func alertKeys(ev map[string]any) []string {
	skip := map[string]bool{
		zerolog.TimestampFieldName: true,
		zerolog.LevelFieldName:     true,
		zerolog.MessageFieldName:   true,
		zerolog.CallerFieldName:    true,
	}
	keys := make([]string, 0, len(ev))
	for _, k := range alertLeadKeys {
		if _, ok := ev[k]; ok {
			keys = append(keys, k)
			skip[k] = true
		}
	}
	rest := make([]string, 0, len(ev))
	for k := range ev {
		if !skip[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}

func clip(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n < 10 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
