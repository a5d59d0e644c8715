package config

// Config is the on-disk configuration (JSON or YAML).
//
// Components never read it directly: the app layer maps each section into the
// component's own config struct, and the mail path consumes the immutable
// Settings snapshot returned by Config.Settings().
type Config struct {
	Mailer    MailerConfig    `json:"mailer"`
	Site      SiteConfig      `json:"site"`
	Logging   LoggingConfig   `json:"logging"`
	MailLog   MailLogConfig   `json:"mail_log"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	HTTP      HTTPConfig      `json:"http"`
}

// MailerConfig holds the mail settings an operator edits.
//
// Credentials source:
//   - "config": access_key/secret_key/region below (default)
//   - "env":    SES_MAILER_ACCESS_KEY, SES_MAILER_SECRET_KEY, SES_MAILER_REGION,
//     SES_MAILER_SESSION_TOKEN
//   - "sdk":    AWS SDK default credential chain (region from region below or the SDK)
//
// use_config_env=true is the older spelling of credentials_source="env".
type MailerConfig struct {
	EnableMailer      bool   `json:"enable_mailer"`
	Region            string `json:"region,omitempty"`
	AccessKey         string `json:"access_key,omitempty"`
	SecretKey         string `json:"secret_key,omitempty"` // never logged
	UseConfigEnv      bool   `json:"use_config_env,omitempty"`
	CredentialsSource string `json:"credentials_source,omitempty"`

	FromEmail string `json:"from_email,omitempty"`
	FromName  string `json:"from_name,omitempty"`
	ReplyTo   string `json:"reply_to,omitempty"`

	// RateLimit is the max sends per second. 0 disables throttling.
	// Omitted means the default (10).
	RateLimit *int `json:"rate_limit,omitempty"`

	// CustomHeaders are appended to every message (X-* only, max 10 lines).
	CustomHeaders []string `json:"custom_headers,omitempty"`

	DisableLogging bool `json:"disable_logging,omitempty"`
	BackgroundSend bool `json:"background_send,omitempty"`
}

// SiteConfig provides fallbacks when the mailer From settings are unusable.
type SiteConfig struct {
	AdminEmail string `json:"admin_email,omitempty"`
	Name       string `json:"name,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	JSON    bool        `json:"json,omitempty"` // console as JSON lines
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// MailLogConfig controls the outcome log (SUCCESS/FAIL/RETRY lines).
type MailLogConfig struct {
	Path     string `json:"path,omitempty"`
	MaxBytes int64  `json:"max_bytes,omitempty"`
}

// StorageConfig controls the job store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/sesmailer.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`          // postgres only (do not log)
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// SchedulerConfig selects how queued sends are fired.
//
// Mode values:
//   - "async": in-process task runner with one-shot timers (default)
//   - "cron":  cron fallback that polls for due tasks every Tick
type SchedulerConfig struct {
	Mode     string `json:"mode"`
	Workers  int    `json:"workers,omitempty"`
	Tick     string `json:"tick,omitempty"` // Go duration string (cron mode)
	Timezone string `json:"timezone,omitempty"`
}

// HTTPConfig controls the submission/metrics HTTP server used by `serve`.
//
// Security:
//   - Prefer binding to localhost (default).
//   - A non-loopback addr requires token or allow_insecure.
type HTTPConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"` // bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"` // mount /debug/pprof
}
