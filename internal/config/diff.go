package config

import (
	"reflect"
	"strings"

	logx "sesmailer/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging (never includes secrets like keys or DSNs).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 20)

	// Mailer (never log access/secret keys)
	om, nm := oldCfg.Settings(), newCfg.Settings()
	if om.Enabled != nm.Enabled ||
		om.CredentialsSource != nm.CredentialsSource ||
		strings.TrimSpace(om.Region) != strings.TrimSpace(nm.Region) ||
		om.AccessKey != nm.AccessKey ||
		om.SecretKey != nm.SecretKey ||
		om.FromEmail != nm.FromEmail ||
		om.FromName != nm.FromName ||
		om.ReplyTo != nm.ReplyTo ||
		om.RateLimit != nm.RateLimit ||
		!reflect.DeepEqual(om.CustomHeaders, nm.CustomHeaders) ||
		om.DisableLogging != nm.DisableLogging ||
		om.BackgroundSend != nm.BackgroundSend {
		changed = append(changed, "mailer")
		attrs = append(attrs,
			logx.Bool("mailer.enabled", nm.Enabled),
			logx.String("mailer.credentials_source", nm.CredentialsSource),
			logx.String("mailer.region", strings.TrimSpace(nm.Region)),
			logx.Bool("mailer.keys_changed", om.AccessKey != nm.AccessKey || om.SecretKey != nm.SecretKey),
			logx.Int("mailer.rate_limit", nm.RateLimit),
			logx.Int("mailer.custom_headers", len(nm.CustomHeaders)),
			logx.Bool("mailer.background_send", nm.BackgroundSend),
			logx.Bool("mailer.disable_logging", nm.DisableLogging),
		)
	}

	if oldCfg.Site != newCfg.Site {
		changed = append(changed, "site")
		attrs = append(attrs, logx.String("site.name", newCfg.Site.Name))
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.MailLog != newCfg.MailLog {
		changed = append(changed, "mail_log")
		attrs = append(attrs,
			logx.String("mail_log.path", newCfg.MailLog.Path),
			logx.Int64("mail_log.max_bytes", newCfg.MailLog.MaxBytes),
		)
	}

	// Storage (never log DSN)
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.ToLower(strings.TrimSpace(newCfg.Storage.Driver))),
			logx.String("storage.path", newCfg.Storage.Path),
			logx.Bool("storage.dsn_set", strings.TrimSpace(newCfg.Storage.DSN) != ""),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.mode", newCfg.Scheduler.Mode),
			logx.Int("scheduler.workers", newCfg.Scheduler.Workers),
			logx.String("scheduler.tick", newCfg.Scheduler.Tick),
		)
	}

	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", newCfg.HTTP.Addr),
			logx.Bool("http.token_set", strings.TrimSpace(newCfg.HTTP.Token) != ""),
			logx.Bool("http.pprof", newCfg.HTTP.Pprof),
		)
	}

	return changed, attrs
}

// RequiresRestart reports whether a change touches sections that are only
// read at startup (storage backend, scheduler and outcome log file).
func RequiresRestart(changed []string) bool {
	for _, s := range changed {
		switch s {
		case "storage", "scheduler", "mail_log":
			return true
		}
	}
	return false
}
