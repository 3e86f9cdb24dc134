package app

import (
	"strings"
	"time"

	"caseobserver/internal/config"
	"caseobserver/internal/monitor"
	"caseobserver/internal/notifier"
	"caseobserver/internal/registry"
	"caseobserver/internal/storage"
	"caseobserver/internal/task/engine"
	"caseobserver/internal/task/scheduler"
	"caseobserver/internal/transport/telegram"
	logx "caseobserver/pkg/logx"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:       strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:         strings.TrimSpace(sc.Path),
		DSN:          strings.TrimSpace(sc.DSN),
		BusyTimeout:  busy,
		MaxOpenConns: sc.MaxOpenConns,
	}, nil
}

func mapRegistryConfig(cfg *config.Config) (registry.Config, error) {
	rc := cfg.Registry
	out := registry.Config{
		BaseURL:    strings.TrimSpace(rc.BaseURL),
		Host:       strings.TrimSpace(rc.Host),
		SOAPAction: strings.TrimSpace(rc.SOAPAction),
		Retries:    rc.RetryCount(),
		RatePerSec: rc.RatePerSec,
		Burst:      rc.Burst,
	}
	var err error
	if out.ConnectTimeout, err = config.ParseDurationField("registry.connect_timeout", rc.ConnectTimeout); err != nil {
		return registry.Config{}, err
	}
	if out.ReadTimeout, err = config.ParseDurationField("registry.read_timeout", rc.ReadTimeout); err != nil {
		return registry.Config{}, err
	}
	if out.RetryBase, err = config.ParseDurationField("registry.retry_base", rc.RetryBase); err != nil {
		return registry.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationField("registry.retry_max_delay", rc.RetryMaxDelay); err != nil {
		return registry.Config{}, err
	}
	return out, nil
}

func mapMonitorConfig(cfg *config.Config) (monitor.Config, error) {
	mc := cfg.Monitor
	check, err := config.ParseDurationOrDefault("monitor.check_timeout", mc.CheckTimeout, 2*time.Minute)
	if err != nil {
		return monitor.Config{}, err
	}
	return monitor.Config{
		DefaultIntervalMinutes: mc.DefaultIntervalMinutes,
		CheckTimeout:           check,
		SweepLimit:             mc.SweepLimit,
		NotifyConcurrency:      mc.NotifyConcurrency,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	spread, err := config.ParseDurationField("scheduler.startup_spread", cfg.Scheduler.StartupSpread)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Enabled:       cfg.Scheduler.Enabled,
		Timezone:      strings.TrimSpace(cfg.Scheduler.Timezone),
		StartupSpread: spread,
	}, nil
}

func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	te := cfg.TaskEngine
	workers := te.Workers
	if workers <= 0 {
		workers = 10
	}
	queueSize := te.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	historySize := te.HistorySize
	if historySize == 0 {
		historySize = 200
	}
	defTimeout, err := config.ParseDurationField("task_engine.default_timeout", te.DefaultTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		Enabled:        cfg.EngineEnabled(),
		Workers:        workers,
		QueueSize:      queueSize,
		DefaultTimeout: defTimeout,
		HistorySize:    max(historySize, 0),
		RetryMax:       max(te.RetryMax, 0),
	}, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	nc := cfg.Notifier
	out := notifier.Config{
		Enabled:         cfg.NotifierEnabled(),
		Workers:         nc.Workers,
		QueueSize:       nc.QueueSize,
		RatePerSec:      nc.RatePerSec,
		RetryMax:        nc.RetryMax,
		DedupMaxEntries: nc.DedupMaxEntries,
	}
	var err error
	if out.RetryBase, err = config.ParseDurationOrDefault("notifier.retry_base", nc.RetryBase, 500*time.Millisecond); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationOrDefault("notifier.retry_max_delay", nc.RetryMaxDelay, 10*time.Second); err != nil {
		return notifier.Config{}, err
	}
	if out.SendTimeout, err = config.ParseDurationOrDefault("notifier.send_timeout", nc.SendTimeout, 15*time.Second); err != nil {
		return notifier.Config{}, err
	}
	if out.DedupWindow, err = config.ParseDurationField("notifier.dedup_window", nc.DedupWindow); err != nil {
		return notifier.Config{}, err
	}
	return out, nil
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     cfg.Telegram.ChatID,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	timeout, err := config.ParseDurationField("telegram.timeout", cfg.Telegram.Timeout)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{Token: strings.TrimSpace(cfg.Telegram.Token), Timeout: timeout}, nil
}
