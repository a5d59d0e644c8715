package app

import (
	"fmt"
	"strings"
	"time"

	"sesmailer/internal/config"
	"sesmailer/internal/httpapi"
	"sesmailer/internal/scheduler"
	"sesmailer/internal/storage"
	logx "sesmailer/pkg/logx"
)

// handlerTimeout bounds one Handle call: rate sleep plus the 30s API timeout.
const handlerTimeout = 2 * time.Minute

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg == nil {
		return storage.Config{Driver: "memory"}, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "memory":
		return storage.Config{Driver: "memory"}, nil
	case "file":
		if path == "" {
			path = config.DefaultStoragePath
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	case "postgres", "postgresql":
		if strings.TrimSpace(sc.DSN) == "" {
			return storage.Config{}, fmt.Errorf("storage.dsn is required when storage.driver=postgres")
		}
		return storage.Config{Driver: "postgres", DSN: sc.DSN}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapSchedulerConfig(cfg *config.Config) (string, scheduler.Config, error) {
	if cfg == nil {
		return scheduler.ModeAsync, scheduler.Config{HandlerTimeout: handlerTimeout}, nil
	}
	sc := cfg.Scheduler
	if sc.Workers < 0 {
		return "", scheduler.Config{}, fmt.Errorf("scheduler.workers must be >= 0")
	}
	tick, err := config.ParseDurationOrDefault("scheduler.tick", sc.Tick, time.Minute)
	if err != nil {
		return "", scheduler.Config{}, err
	}
	if tz := strings.TrimSpace(sc.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return "", scheduler.Config{}, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	mode := strings.ToLower(strings.TrimSpace(sc.Mode))
	switch mode {
	case "":
		mode = scheduler.ModeAsync
	case scheduler.ModeAsync, scheduler.ModeCron:
	default:
		return "", scheduler.Config{}, fmt.Errorf("scheduler.mode: unknown mode %q", sc.Mode)
	}
	return mode, scheduler.Config{
		Workers:        sc.Workers,
		Tick:           tick,
		Timezone:       sc.Timezone,
		HandlerTimeout: handlerTimeout,
	}, nil
}

func mapHTTPConfig(cfg *config.Config) httpapi.Config {
	if cfg == nil {
		return httpapi.Config{}
	}
	hc := cfg.HTTP
	addr := strings.TrimSpace(hc.Addr)
	if addr == "" {
		addr = httpapi.DefaultAddr
	}
	return httpapi.Config{
		Enabled:       hc.Enabled,
		Addr:          addr,
		Token:         strings.TrimSpace(hc.Token),
		AllowInsecure: hc.AllowInsecure,
		Pprof:         hc.Pprof,
	}
}

func mapLogConfig(cfg *config.Config) logx.Config {
	if cfg == nil {
		return logx.Config{Level: "info", Console: true}
	}
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		JSON:    cfg.Logging.JSON,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

// validate rejects a reload that the running app could not apply.
func validate(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapSchedulerConfig(cfg); err != nil {
		return err
	}
	return nil
}
