package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sesmailer/internal/config"
	"sesmailer/internal/credentials"
	"sesmailer/internal/eventbus"
	"sesmailer/internal/httpapi"
	"sesmailer/internal/mailer"
	"sesmailer/internal/maillog"
	"sesmailer/internal/metrics"
	"sesmailer/internal/queue"
	rtsup "sesmailer/internal/runtime/supervisor"
	"sesmailer/internal/scheduler"
	"sesmailer/internal/ses"
	"sesmailer/internal/storage"
	logx "sesmailer/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log     logx.Logger
	logs    *logx.Service
	bus     *eventbus.MemBus
	store   storage.Store
	mailLog *maillog.FileSink

	ses     *ses.Client
	sched   scheduler.Service
	queue   *queue.Queue
	mailer  *mailer.Mailer
	metrics *metrics.Metrics
	http    *httpapi.Server
}

type options struct {
	ses   []ses.Option
	creds []credentials.Option
	hooks mailer.Hooks
}

// Option customizes New. Tests use it to point the client at a local double.
type Option func(*options)

func WithSESOptions(opts ...ses.Option) Option {
	return func(o *options) { o.ses = append(o.ses, opts...) }
}

func WithCredentialOptions(opts ...credentials.Option) Option {
	return func(o *options) { o.creds = append(o.creds, opts...) }
}

// WithHooks installs send hooks on both the sync and the queued path.
func WithHooks(h mailer.Hooks) Option {
	return func(o *options) { o.hooks = h }
}

// New loads cfgPath and wires every component. Nothing runs until Start;
// Mailer().Send still works without it.
func New(ctx context.Context, cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		if fn != nil {
			fn(&o)
		}
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	appLog := log.With(logx.String("comp", "app"))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(ctx, sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}
	appLog.Debug("storage opened", logx.String("driver", sc.Driver))

	// The outcome log follows disable_logging on every write, so a reload
	// takes effect without rebuilding the sink.
	fileSink := maillog.NewFileSink(cfg.MailLog.Path, cfg.MailLog.MaxBytes, log.With(logx.String("comp", "maillog")))
	sink := maillog.Gate(
		maillog.Tee(fileSink, maillog.Logx(log)),
		func() bool { return !cfgm.Settings().DisableLogging },
	)

	bus := eventbus.New()

	resolver := credentials.NewResolver(append([]credentials.Option{
		credentials.WithLogger(log.With(logx.String("comp", "credentials"))),
	}, o.creds...)...)
	client := ses.New(resolver.Provider(cfgm.Settings), append([]ses.Option{
		ses.WithLogger(log.With(logx.String("comp", "ses"))),
	}, o.ses...)...)

	mode, schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}
	// The handler is bound before the queue exists; tasks only fire after Start.
	var q *queue.Queue
	sched := scheduler.New(mode, schedCfg, store, func(c context.Context, args []byte) error {
		return q.Handle(c, args)
	}, log.With(logx.String("comp", "scheduler")))

	q = queue.New(store, sched, client, cfgm.Settings,
		queue.WithHooks(o.hooks),
		queue.WithSink(sink),
		queue.WithBus(bus),
		queue.WithLogger(log),
	)
	m := mailer.New(cfgm.Settings, client, q,
		mailer.WithHooks(o.hooks),
		mailer.WithSink(sink),
		mailer.WithBus(bus),
		mailer.WithLogger(log),
	)

	met := metrics.New()
	met.WatchDropped(bus)
	hc := mapHTTPConfig(cfg)
	srv := httpapi.NewServer(hc, httpapi.Deps{
		Mailer:  m,
		Quota:   client,
		Jobs:    q,
		Metrics: met.Handler(),
		Log:     log,
	}, log)

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     appLog,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		mailLog: fileSink,
		ses:     client,
		sched:   sched,
		queue:   q,
		mailer:  m,
		metrics: met,
		http:    srv,
	}, nil
}

func (a *App) Mailer() *mailer.Mailer        { return a.mailer }
func (a *App) Queue() *queue.Queue           { return a.queue }
func (a *App) SES() *ses.Client              { return a.ses }
func (a *App) MailLog() *maillog.FileSink    { return a.mailLog }
func (a *App) HTTP() *httpapi.Server         { return a.http }
func (a *App) Metrics() *metrics.Metrics     { return a.metrics }
func (a *App) Logger() logx.Logger           { return a.log }
func (a *App) Settings() config.Settings     { return a.cfgm.Settings() }
func (a *App) Config() *config.ConfigManager { return a.cfgm }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start runs the scheduler, the HTTP server and the config watcher.
// Orphaned jobs are rescheduled before the scheduler arms its timers.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validate(cfg)
	})

	if n, err := a.queue.Recover(ctx); err != nil {
		return fmt.Errorf("recover jobs: %w", err)
	} else if n > 0 {
		a.log.Info("jobs recovered", logx.Int("count", n))
	}
	if err := a.sched.Start(a.sup.Context()); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	a.sup.Go0("metrics", func(c context.Context) {
		a.metrics.Run(c, a.bus, a.log)
	})

	a.http.Start(a.sup.Context())

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// applyConfig pushes a committed config into the live components. Settings
// are read per send, so only logging and HTTP need an explicit push.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if config.RequiresRestart(sections) {
		a.log.Warn("storage, scheduler or mail_log config changed; restart required for changes to take effect")
	}

	a.logs.Apply(mapLogConfig(newCfg))
	a.http.Reconfigure(ctx, mapHTTPConfig(newCfg))

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Close releases storage and log outputs of an app that was never started.
func (a *App) Close() error {
	err := a.store.Close()
	_ = a.logs.Close()
	return err
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
				}
			}()
		}
	}

	// HTTP first so no new messages arrive; the scheduler keeps persisted
	// tasks so retries resume on the next start.
	step("http", 2*time.Second, func(c context.Context) error { a.http.Stop(c); return nil })
	step("scheduler", 3*time.Second, func(c context.Context) error { return a.sched.Stop(c) })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", 1*time.Second, func(c context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
