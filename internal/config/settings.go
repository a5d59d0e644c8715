package config

import "strings"

// Settings is the immutable snapshot the mail path reads once per send or
// worker invocation.
type Settings struct {
	Enabled bool

	CredentialsSource string
	Region            string
	AccessKey         string
	SecretKey         string

	FromEmail string
	FromName  string
	ReplyTo   string

	RateLimit     int
	CustomHeaders []string

	DisableLogging bool
	BackgroundSend bool

	SiteAdminEmail string
	SiteName       string
}

// Settings derives the mail snapshot. Slices are copied so callers can't
// mutate the committed config.
func (c *Config) Settings() Settings {
	if c == nil {
		c = &Config{}
	}
	m := c.Mailer
	src := strings.ToLower(strings.TrimSpace(m.CredentialsSource))
	if src == "" {
		src = "config"
		if m.UseConfigEnv {
			src = "env"
		}
	}
	rate := DefaultRateLimit
	if m.RateLimit != nil {
		rate = *m.RateLimit
	}
	if rate < 0 {
		rate = 0
	}
	return Settings{
		Enabled:           m.EnableMailer,
		CredentialsSource: src,
		Region:            m.Region,
		AccessKey:         m.AccessKey,
		SecretKey:         m.SecretKey,
		FromEmail:         strings.TrimSpace(m.FromEmail),
		FromName:          strings.TrimSpace(m.FromName),
		ReplyTo:           strings.TrimSpace(m.ReplyTo),
		RateLimit:         rate,
		CustomHeaders:     append([]string(nil), m.CustomHeaders...),
		DisableLogging:    m.DisableLogging,
		BackgroundSend:    m.BackgroundSend,
		SiteAdminEmail:    strings.TrimSpace(c.Site.AdminEmail),
		SiteName:          strings.TrimSpace(c.Site.Name),
	}
}
