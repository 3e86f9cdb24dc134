package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

const validYAML = `
storage:
  driver: sqlite
  path: ./data/caseobserver.db
registry:
  base_url: http://portalquery.just.ro/query.asmx
  retries: 2
monitor:
  default_interval_minutes: 30
  sweep_schedule: interval:1m
scheduler:
  enabled: true
  timezone: Europe/Bucharest
logging:
  level: info
  console: true
`

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return p
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.yaml", validYAML))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.Monitor.DefaultIntervalMinutes != 30 {
		t.Fatalf("DefaultIntervalMinutes = %d, want 30", cfg.Monitor.DefaultIntervalMinutes)
	}
	if got := cfg.Registry.RetryCount(); got != 2 {
		t.Fatalf("RetryCount() = %d, want 2", got)
	}
	if !cfg.EngineEnabled() {
		t.Fatalf("EngineEnabled = false, want true (inherits scheduler.enabled)")
	}
	if !cfg.NotifierEnabled() {
		t.Fatalf("NotifierEnabled = false, want true when omitted")
	}
}

func TestParseJSONRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.json", `{"storage":{"driver":"sqlite","path":"x.db"},"plugins":{}}`))
	if _, err := m.Parse(); err == nil || !strings.Contains(err.Error(), "plugins") {
		t.Fatalf("Parse error = %v, want unknown field plugins", err)
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	body := `{"storage":{"path":"x.db"},"registry":{"base_url":"http://x"}} {}`
	m := NewManager(writeConfig(t, "config.json", body))
	if _, err := m.Parse(); err == nil {
		t.Fatalf("Parse error = nil, want trailing data error")
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	t.Parallel()
	negative := -1
	cfg := &Config{
		Storage:  StorageConfig{Driver: "mongo"},
		Registry: RegistryConfig{Retries: &negative, RetryBase: "soon"},
		Monitor:  MonitorConfig{SweepSchedule: "cron:not a cron"},
		Mailjet:  MailjetConfig{PublicKey: "pub"},
		Logging:  LoggingConfig{Telegram: LoggingTelegram{Enabled: true}},
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("Validate = nil, want errors")
	}
	for _, want := range []string{
		"storage.driver",
		"registry.base_url",
		"registry.retries",
		"registry.retry_base",
		"monitor.sweep_schedule",
		"mailjet",
		"telegram.token",
		"telegram.chat_id",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("Validate error missing %q:\n%v", want, err)
		}
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("CASEOBSERVER_DB_DRIVER", "postgres")
	t.Setenv("CASEOBSERVER_DB_DSN", "postgres://u:p@localhost/cases")
	t.Setenv("MAILJET_API_KEY", "pub")
	t.Setenv("MAILJET_SECRET_KEY", "priv")
	t.Setenv("MAILJET_FROM_EMAIL", "alerts@example.com")

	m := NewManager(writeConfig(t, "config.yaml", validYAML))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.Storage.Driver != "postgres" || cfg.Storage.DSN != "postgres://u:p@localhost/cases" {
		t.Fatalf("Storage = %+v, want env driver and dsn", cfg.Storage)
	}
	if cfg.Mailjet.PrivateKey != "priv" {
		t.Fatalf("Mailjet.PrivateKey = %q, want priv", cfg.Mailjet.PrivateKey)
	}
	if cfg.Storage.Path != "./data/caseobserver.db" {
		t.Fatalf("Storage.Path = %q, want file value kept", cfg.Storage.Path)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, ".env")
	if err := os.WriteFile(p, []byte("CASEOBSERVER_TEST_DOTENV=loaded\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv("CASEOBSERVER_TEST_DOTENV", "")
	os.Unsetenv("CASEOBSERVER_TEST_DOTENV")

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), p); err != nil {
		t.Fatalf("LoadDotEnv error: %v", err)
	}
	if got := os.Getenv("CASEOBSERVER_TEST_DOTENV"); got != "loaded" {
		t.Fatalf("env = %q, want loaded", got)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Logging: LoggingConfig{Level: "info"}, Mailjet: MailjetConfig{PublicKey: "a", PrivateKey: "b"}}
	newCfg := &Config{Logging: LoggingConfig{Level: "debug"}, Mailjet: MailjetConfig{PublicKey: "a", PrivateKey: "c"}}

	changed, attrs, restart := SummarizeConfigChange(oldCfg, newCfg)
	if !slices.Equal(changed, []string{"logging", "mailjet"}) {
		t.Fatalf("changed = %v, want [logging mailjet]", changed)
	}
	if !slices.Equal(restart, []string{"mailjet"}) {
		t.Fatalf("restart = %v, want [mailjet]", restart)
	}
	if len(attrs) == 0 {
		t.Fatalf("attrs empty")
	}

	changed, _, restart = SummarizeConfigChange(newCfg, newCfg)
	if len(changed) != 0 || len(restart) != 0 {
		t.Fatalf("identical configs reported changes: %v %v", changed, restart)
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	cases := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", 5 * time.Second, false},
		{"0s", 5 * time.Second, false},
		{"250ms", 250 * time.Millisecond, false},
		{"-1s", 0, true},
		{"soon", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseDurationOrDefault("x", tc.raw, 5*time.Second)
		if (err != nil) != tc.wantErr {
			t.Fatalf("ParseDurationOrDefault(%q) error = %v, wantErr %v", tc.raw, err, tc.wantErr)
		}
		if !tc.wantErr && got != tc.want {
			t.Fatalf("ParseDurationOrDefault(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}

func TestWatchPublishesChangedConfig(t *testing.T) {
	t.Parallel()
	p := writeConfig(t, "config.yaml", validYAML)
	m := NewManager(p)
	m.debounce = 20 * time.Millisecond
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	rejected := errors.New("rejected")
	m.SetValidator(func(_ context.Context, cfg *Config) error {
		if cfg.Logging.Level == "trace" {
			return rejected
		}
		return nil
	})
	updates := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()
	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(p, []byte(strings.Replace(validYAML, "level: info", "level: debug", 1)), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	select {
	case cfg := <-updates:
		if cfg.Logging.Level != "debug" {
			t.Fatalf("Logging.Level = %q, want debug", cfg.Logging.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no config update published")
	}
	if m.Get().Logging.Level != "debug" {
		t.Fatalf("Get().Logging.Level = %q, want debug", m.Get().Logging.Level)
	}

	if err := os.WriteFile(p, []byte(strings.Replace(validYAML, "level: info", "level: trace", 1)), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	select {
	case cfg := <-updates:
		t.Fatalf("rejected config published: %q", cfg.Logging.Level)
	case <-time.After(300 * time.Millisecond):
	}

	cancel()
	<-done
}

func TestRegistryRetryCount(t *testing.T) {
	t.Parallel()
	zero, five := 0, 5
	tests := []struct {
		name string
		in   *int
		want int
	}{
		{"unset", nil, DefaultRegistryRetries},
		{"explicit zero", &zero, 0},
		{"explicit", &five, 5},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := (RegistryConfig{Retries: tc.in}).RetryCount(); got != tc.want {
				t.Fatalf("RetryCount() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestParseWithoutRetriesUsesDefault(t *testing.T) {
	t.Parallel()
	body := strings.Replace(validYAML, "  retries: 2\n", "", 1)
	cfg, err := NewManager(writeConfig(t, "config.yaml", body)).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Registry.Retries != nil {
		t.Fatalf("Retries = %d, want nil", *cfg.Registry.Retries)
	}
	if got := cfg.Registry.RetryCount(); got != 2 {
		t.Fatalf("RetryCount() = %d, want 2", got)
	}
}
