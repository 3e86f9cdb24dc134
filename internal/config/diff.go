package config

import (
	"reflect"
	"sort"
	"strings"

	logx "caseobserver/pkg/logx"
)

// Sections applied without a restart.
var hotSections = map[string]bool{
	"logging":  true,
	"notifier": true,
}

// SummarizeConfigChange returns (1) the changed sections, (2) safe
// structured attrs for logging (never secrets), and (3) the changed sections
// that only take effect after a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", newCfg.NotifierEnabled()),
			logx.Int("notifier.rate_per_sec", newCfg.Notifier.RatePerSec),
			logx.Int("notifier.retry_max", newCfg.Notifier.RetryMax),
			logx.String("notifier.dedup_window", strings.TrimSpace(newCfg.Notifier.DedupWindow)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Monitor, newCfg.Monitor) {
		changed = append(changed, "monitor")
		attrs = append(attrs,
			logx.String("monitor.sweep_schedule", newCfg.SweepSchedule()),
			logx.Int("monitor.default_interval_minutes", newCfg.Monitor.DefaultIntervalMinutes),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	if !reflect.DeepEqual(oldCfg.TaskEngine, newCfg.TaskEngine) {
		changed = append(changed, "task_engine")
		attrs = append(attrs,
			logx.Bool("task_engine.enabled", newCfg.EngineEnabled()),
			logx.Int("task_engine.workers", newCfg.TaskEngine.Workers),
			logx.Int("task_engine.queue_size", newCfg.TaskEngine.QueueSize),
		)
	}

	if !reflect.DeepEqual(oldCfg.Registry, newCfg.Registry) {
		changed = append(changed, "registry")
		attrs = append(attrs,
			logx.Int("registry.retries", newCfg.Registry.RetryCount()),
			logx.Float64("registry.rate_per_sec", newCfg.Registry.RatePerSec),
		)
	}

	// Storage and sinks carry secrets; only report presence.
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.dsn_set", strings.TrimSpace(newCfg.Storage.DSN) != ""),
		)
	}
	if oldCfg.Mailjet != newCfg.Mailjet {
		changed = append(changed, "mailjet")
		attrs = append(attrs, logx.Bool("mailjet.keys_set", newCfg.Mailjet.PublicKey != ""))
	}
	if oldCfg.SMS != newCfg.SMS {
		changed = append(changed, "sms")
		attrs = append(attrs, logx.Bool("sms.url_set", strings.TrimSpace(newCfg.SMS.URL) != ""))
	}
	if oldCfg.Telegram != newCfg.Telegram {
		changed = append(changed, "telegram")
		attrs = append(attrs, logx.Bool("telegram.token_set", strings.TrimSpace(newCfg.Telegram.Token) != ""))
	}

	sort.Strings(changed)
	var restart []string
	for _, s := range changed {
		if !hotSections[s] {
			restart = append(restart, s)
		}
	}
	return changed, attrs, restart
}
