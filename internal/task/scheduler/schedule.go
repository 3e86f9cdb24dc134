package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts 5-field specs, 6-field specs with seconds and
// descriptors such as @hourly or @every 5m.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Schedule is a parsed trigger: either a fixed interval (Every > 0) or a
// cron expression.
type Schedule struct {
	Every time.Duration
	Expr  string
}

// String renders s in robfig/cron syntax.
func (s Schedule) String() string {
	if s.Every > 0 {
		return "@every " + s.Every.String()
	}
	return s.Expr
}

// ParseSchedule accepts
//   - "interval:<duration>" or a bare Go duration ("5m")
//   - "cron:<expr>" or a bare cron expression ("*/5 * * * *", "@hourly")
//
// "@every <duration>" is normalized to an interval.
func ParseSchedule(raw string) (Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Schedule{}, errors.New("schedule required")
	}
	if rest, ok := cutPrefixFold(s, "interval:"); ok {
		return parseEvery(rest)
	}
	if rest, ok := cutPrefixFold(s, "@every"); ok {
		return parseEvery(rest)
	}
	expr, forced := cutPrefixFold(s, "cron:")
	if !forced {
		if d, err := time.ParseDuration(s); err == nil {
			return parseEvery(d.String())
		}
		expr = s
	}
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Schedule{}, errors.New("cron expression required")
	}
	if _, err := cronParser.Parse(expr); err != nil {
		return Schedule{}, fmt.Errorf("invalid schedule %q: %w", raw, err)
	}
	return Schedule{Expr: expr}, nil
}

func parseEvery(v string) (Schedule, error) {
	v = strings.TrimSpace(v)
	d, err := time.ParseDuration(v)
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid interval %q: %w", v, err)
	}
	if d <= 0 {
		return Schedule{}, fmt.Errorf("interval %q must be positive", v)
	}
	return Schedule{Every: d}, nil
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
		return s[len(prefix):], true
	}
	return s, false
}
