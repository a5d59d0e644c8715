package scheduler

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"sesmailer/internal/storage"
	logx "sesmailer/pkg/logx"
)

// Handler runs one fired task. Errors are logged; the scheduler does not
// retry on its own, a handler that needs another run calls Schedule.
type Handler func(ctx context.Context, args []byte) error

// Scheduler registers one-shot invocations of the handler.
type Scheduler interface {
	// Schedule fires args at or after runAt. Scheduling the same args again
	// replaces the pending task.
	Schedule(ctx context.Context, runAt time.Time, args []byte) error
	// ScheduleNow fires args as soon as possible.
	ScheduleNow(ctx context.Context, args []byte) error
}

// Service is a Scheduler with a lifecycle.
type Service interface {
	Scheduler
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

const (
	ModeAsync = "async"
	ModeCron  = "cron"
)

// New returns the Runner for ModeAsync and the Cron poller otherwise.
func New(mode string, cfg Config, store storage.Store, h Handler, log logx.Logger) Service {
	if strings.EqualFold(strings.TrimSpace(mode), ModeCron) {
		return NewCron(cfg, store, h, log)
	}
	return NewRunner(cfg, store, h, log)
}

// Config controls both implementations.
type Config struct {
	Workers        int           // Runner only; default 1
	QueueSize      int           // Runner only; default 256
	Tick           time.Duration // Cron only; default 1m
	Timezone       string        // Cron only; default Local
	HandlerTimeout time.Duration // 0 disables
	BatchSize      int           // Cron only; max tasks per poll, default 100
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.Tick <= 0 {
		c.Tick = time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	return c
}

// TaskID is the stable identity of args: FNV-64a, hex encoded.
func TaskID(args []byte) string {
	h := fnv.New64a()
	_, _ = h.Write(args)
	return fmt.Sprintf("%016x", h.Sum64())
}

// runHandler invokes h with the configured timeout and logs failures,
// throttling repeated warnings.
func runHandler(ctx context.Context, h Handler, cfg Config, log logx.Logger, warn *rate.Sometimes, id string, args []byte) {
	if h == nil {
		return
	}
	if cfg.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.HandlerTimeout)
		defer cancel()
	}
	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return h(ctx, args)
	}()
	if err != nil {
		warned := false
		warn.Do(func() {
			warned = true
			log.Warn("task handler failed", logx.String("task", id), logx.Duration("took", time.Since(start)), logx.Err(err))
		})
		if !warned {
			log.Debug("task handler failed", logx.String("task", id), logx.Err(err))
		}
		return
	}
	log.Debug("task done", logx.String("task", id), logx.Duration("took", time.Since(start)))
}

func loadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
