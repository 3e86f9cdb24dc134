package config

// Config is the root configuration. Durations are Go duration strings
// (e.g. "500ms", "10s", "1m"). Secrets can be supplied through the
// environment variables named in the env tags instead of the file.
type Config struct {
	Storage    StorageConfig    `json:"storage"`
	Registry   RegistryConfig   `json:"registry"`
	Monitor    MonitorConfig    `json:"monitor"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	TaskEngine TaskEngineConfig `json:"task_engine"`
	Notifier   NotifierConfig   `json:"notifier"`
	Mailjet    MailjetConfig    `json:"mailjet"`
	SMS        SMSConfig        `json:"sms"`
	Logging    LoggingConfig    `json:"logging"`
	Telegram   TelegramConfig   `json:"telegram"`
}

// StorageConfig selects the database.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/caseobserver.db" }
type StorageConfig struct {
	Driver       string `json:"driver" env:"CASEOBSERVER_DB_DRIVER"`
	Path         string `json:"path" env:"CASEOBSERVER_DB_PATH"`
	DSN          string `json:"dsn,omitempty" env:"CASEOBSERVER_DB_DSN"`
	BusyTimeout  string `json:"busy_timeout,omitempty"`
	MaxOpenConns int    `json:"max_open_conns,omitempty"`
}

// RegistryConfig controls the court portal client.
type RegistryConfig struct {
	BaseURL        string  `json:"base_url" env:"CASEOBSERVER_REGISTRY_URL"`
	Host           string  `json:"host,omitempty"`
	SOAPAction     string  `json:"soap_action,omitempty"`
	ConnectTimeout string  `json:"connect_timeout,omitempty"`
	ReadTimeout    string  `json:"read_timeout,omitempty"`
	Retries        *int    `json:"retries,omitempty"`
	RetryBase      string  `json:"retry_base,omitempty"`
	RetryMaxDelay  string  `json:"retry_max_delay,omitempty"`
	RatePerSec     float64 `json:"rate_per_sec,omitempty"`
	Burst          int     `json:"burst,omitempty"`
}

// RetryCount returns the configured retry bound, or DefaultRegistryRetries
// when the key is absent. An explicit 0 disables retries.
func (r RegistryConfig) RetryCount() int {
	if r.Retries == nil {
		return DefaultRegistryRetries
	}
	return *r.Retries
}

// MonitorConfig controls sweeps and checks.
//
// Defaults (when fields are omitted/zero):
//   - default_interval_minutes: 60
//   - sweep_schedule: "interval:5m"
//   - sweep_timeout: "30s"
//   - check_timeout: "2m"
//   - notify_concurrency: 4
type MonitorConfig struct {
	DefaultIntervalMinutes int `json:"default_interval_minutes"`
	// SweepSchedule accepts "interval:<duration>", "cron:<expr>" or a bare
	// duration.
	SweepSchedule     string `json:"sweep_schedule"`
	SweepTimeout      string `json:"sweep_timeout,omitempty"`
	SweepLimit        int    `json:"sweep_limit,omitempty"`
	CheckTimeout      string `json:"check_timeout,omitempty"`
	NotifyConcurrency int    `json:"notify_concurrency,omitempty"`
}

// SchedulerConfig controls the sweep trigger.
type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"`
	// StartupSpread delays the first run of interval jobs by up to this much.
	StartupSpread string `json:"startup_spread,omitempty"`
}

// TaskEngineConfig controls check execution.
//
// Enabled is a pointer so we can distinguish "omitted" (default to
// scheduler.enabled) from an explicit false.
//
// Defaults (when fields are omitted/zero):
//   - workers: 10 (the maximum number of concurrent checks)
//   - queue_size: 256
//   - default_timeout: "0s" (disabled)
//   - history_size: 200
//   - retry_max: 0
type TaskEngineConfig struct {
	Enabled        *bool  `json:"enabled,omitempty"`
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
	RetryMax       int    `json:"retry_max,omitempty"`
}

// NotifierConfig controls the async delivery queue.
//
// Enabled is a pointer so an omitted section stays enabled.
type NotifierConfig struct {
	Enabled         *bool  `json:"enabled,omitempty"`
	Workers         int    `json:"workers,omitempty"`
	QueueSize       int    `json:"queue_size,omitempty"`
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	RetryMax        int    `json:"retry_max,omitempty"`
	RetryBase       string `json:"retry_base,omitempty"`
	RetryMaxDelay   string `json:"retry_max_delay,omitempty"`
	SendTimeout     string `json:"send_timeout,omitempty"`
	DedupWindow     string `json:"dedup_window,omitempty"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty"`
}

// MailjetConfig enables the email sink when both keys are set.
type MailjetConfig struct {
	PublicKey  string `json:"public_key,omitempty" env:"MAILJET_API_KEY"`
	PrivateKey string `json:"private_key,omitempty" env:"MAILJET_SECRET_KEY"`
	FromEmail  string `json:"from_email,omitempty" env:"MAILJET_FROM_EMAIL"`
	FromName   string `json:"from_name,omitempty"`
	BaseURL    string `json:"base_url,omitempty"`
}

// SMSConfig enables the SMS gateway sink when URL is set.
type SMSConfig struct {
	URL     string `json:"url,omitempty" env:"SMS_GATEWAY_URL"`
	Token   string `json:"token,omitempty" env:"SMS_GATEWAY_TOKEN"`
	Sender  string `json:"sender,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level" env:"CASEOBSERVER_LOG_LEVEL"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// TelegramConfig holds the operator alert bot.
type TelegramConfig struct {
	Token  string `json:"token,omitempty" env:"TELEGRAM_TOKEN"`
	ChatID int64  `json:"chat_id,omitempty" env:"TELEGRAM_CHAT_ID"`
	// Timeout is a Go duration string (e.g. "8s").
	Timeout string `json:"timeout,omitempty"`
}

// EngineEnabled resolves task_engine.enabled against scheduler.enabled.
func (c *Config) EngineEnabled() bool {
	if c.TaskEngine.Enabled != nil {
		return *c.TaskEngine.Enabled
	}
	return c.Scheduler.Enabled
}

// NotifierEnabled is true unless notifier.enabled is explicitly false.
func (c *Config) NotifierEnabled() bool {
	return c.Notifier.Enabled == nil || *c.Notifier.Enabled
}
