package config

import (
	"fmt"
	"strings"

	"dario.cat/mergo"
)

const (
	DefaultRateLimit   = 10
	DefaultMailLogMax  = 2 << 20
	DefaultHTTPAddr    = "127.0.0.1:8025"
	DefaultCronTick    = "1m"
	DefaultStoragePath = "./data/sesmailer"
)

// Defaults returns the values used for omitted fields.
// Booleans are not defaulted: false is always meaningful.
func Defaults() Config {
	rate := DefaultRateLimit
	return Config{
		Mailer: MailerConfig{
			CredentialsSource: "config",
			RateLimit:         &rate,
		},
		Site: SiteConfig{
			Name: "sesmailer",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		MailLog: MailLogConfig{
			Path:     "./data/email-log.txt",
			MaxBytes: DefaultMailLogMax,
		},
		Storage: StorageConfig{
			Driver:      "file",
			Path:        DefaultStoragePath,
			BusyTimeout: "1s",
		},
		Scheduler: SchedulerConfig{
			Mode:    "async",
			Workers: 1,
			Tick:    DefaultCronTick,
		},
		HTTP: HTTPConfig{
			Addr: DefaultHTTPAddr,
		},
	}
}

// ApplyDefaults fills zero-valued fields of cfg from Defaults().
func ApplyDefaults(cfg *Config) error {
	if cfg == nil {
		return nil
	}
	if cfg.Mailer.UseConfigEnv && strings.TrimSpace(cfg.Mailer.CredentialsSource) == "" {
		cfg.Mailer.CredentialsSource = "env"
	}
	if err := mergo.Merge(cfg, Defaults()); err != nil {
		return fmt.Errorf("apply defaults: %w", err)
	}
	return nil
}

// Validate rejects configs that would fail at runtime.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Mailer.CredentialsSource)) {
	case "", "config", "env", "sdk":
	default:
		return fmt.Errorf("mailer.credentials_source: unknown source %q", cfg.Mailer.CredentialsSource)
	}
	if cfg.Mailer.RateLimit != nil && *cfg.Mailer.RateLimit < 0 {
		return fmt.Errorf("mailer.rate_limit must be >= 0")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "memory", "file", "sqlite", "sqlite3", "postgres", "postgresql":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver)
	}
	if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Scheduler.Mode)) {
	case "", "async", "cron":
	default:
		return fmt.Errorf("scheduler.mode: unknown mode %q", cfg.Scheduler.Mode)
	}
	if _, err := ParseDurationField("scheduler.tick", cfg.Scheduler.Tick); err != nil {
		return err
	}
	return nil
}
