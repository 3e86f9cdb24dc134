package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"caseobserver/internal/task/scheduler"
)

// DefaultSweepSchedule runs the due-case sweep every five minutes.
const DefaultSweepSchedule = "interval:5m"

// DefaultRegistryRetries bounds portal retries when registry.retries is unset.
const DefaultRegistryRetries = 2

// Validate checks the whole config and returns every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "sqlite", "sqlite3":
		if strings.TrimSpace(c.Storage.Path) == "" {
			add(errors.New("storage.path: required for sqlite"))
		}
	case "postgres", "postgresql", "pgx":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			add(errors.New("storage.dsn: required for postgres"))
		}
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	dur("storage.busy_timeout", c.Storage.BusyTimeout)

	if strings.TrimSpace(c.Registry.BaseURL) == "" {
		add(errors.New("registry.base_url: required"))
	}
	if c.Registry.Retries != nil && *c.Registry.Retries < 0 {
		add(errors.New("registry.retries: must be >= 0"))
	}
	if c.Registry.RatePerSec < 0 {
		add(errors.New("registry.rate_per_sec: must be >= 0"))
	}
	dur("registry.connect_timeout", c.Registry.ConnectTimeout)
	dur("registry.read_timeout", c.Registry.ReadTimeout)
	dur("registry.retry_base", c.Registry.RetryBase)
	dur("registry.retry_max_delay", c.Registry.RetryMaxDelay)

	if c.Monitor.DefaultIntervalMinutes < 0 {
		add(errors.New("monitor.default_interval_minutes: must be >= 1"))
	}
	if c.Monitor.SweepLimit < 0 {
		add(errors.New("monitor.sweep_limit: must be >= 0"))
	}
	if _, err := scheduler.ParseSchedule(c.SweepSchedule()); err != nil {
		add(fmt.Errorf("monitor.sweep_schedule: %w", err))
	}
	dur("monitor.sweep_timeout", c.Monitor.SweepTimeout)
	dur("monitor.check_timeout", c.Monitor.CheckTimeout)

	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	dur("scheduler.startup_spread", c.Scheduler.StartupSpread)

	if c.TaskEngine.Workers < 0 || c.TaskEngine.QueueSize < 0 || c.TaskEngine.RetryMax < 0 {
		add(errors.New("task_engine: workers, queue_size and retry_max must be >= 0"))
	}
	dur("task_engine.default_timeout", c.TaskEngine.DefaultTimeout)

	dur("notifier.retry_base", c.Notifier.RetryBase)
	dur("notifier.retry_max_delay", c.Notifier.RetryMaxDelay)
	dur("notifier.send_timeout", c.Notifier.SendTimeout)
	dur("notifier.dedup_window", c.Notifier.DedupWindow)

	if (c.Mailjet.PublicKey == "") != (c.Mailjet.PrivateKey == "") {
		add(errors.New("mailjet: public_key and private_key must be set together"))
	}
	if c.Mailjet.PublicKey != "" && strings.TrimSpace(c.Mailjet.FromEmail) == "" {
		add(errors.New("mailjet.from_email: required when mailjet is configured"))
	}
	dur("sms.timeout", c.SMS.Timeout)

	if c.Logging.Telegram.Enabled {
		if strings.TrimSpace(c.Telegram.Token) == "" {
			add(errors.New("telegram.token: required when logging.telegram is enabled"))
		}
		if c.Telegram.ChatID == 0 {
			add(errors.New("telegram.chat_id: required when logging.telegram is enabled"))
		}
	}
	dur("telegram.timeout", c.Telegram.Timeout)

	return errors.Join(errs...)
}

// SweepSchedule returns the configured sweep schedule or the default.
func (c *Config) SweepSchedule() string {
	if s := strings.TrimSpace(c.Monitor.SweepSchedule); s != "" {
		return s
	}
	return DefaultSweepSchedule
}
