package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"sesmailer/internal/storage"
	logx "sesmailer/pkg/logx"
)

// Cron is the poll-based scheduler. Tasks are persisted on Schedule and
// picked up by a periodic tick; ScheduleNow also triggers an immediate poll.
type Cron struct {
	cfg     Config
	store   storage.Store
	handler Handler
	log     logx.Logger
	warn    *rate.Sometimes
	now     func() time.Time

	mu     sync.Mutex
	c      *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	polling sync.Mutex
}

func NewCron(cfg Config, store storage.Store, h Handler, log logx.Logger) *Cron {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Cron{
		cfg:     cfg.withDefaults(),
		store:   store,
		handler: h,
		log:     log.With(logx.String("comp", "scheduler"), logx.String("mode", "cron")),
		warn:    &rate.Sometimes{Interval: 5 * time.Second},
		now:     time.Now,
	}
}

func (s *Cron) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	loc := loadLocation(s.cfg.Timezone, s.log)
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.c = cron.New(cron.WithLocation(loc))
	if _, err := s.c.AddFunc("@every "+s.cfg.Tick.String(), func() { s.poll() }); err != nil {
		s.cancel()
		s.c = nil
		return err
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.Duration("tick", s.cfg.Tick), logx.String("tz", loc.String()))
	s.kick()
	return nil
}

func (s *Cron) Stop(ctx context.Context) error {
	s.mu.Lock()
	c, cancel := s.c, s.cancel
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	cronDone := c.Stop().Done()
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-cronDone
		s.wg.Wait()
	}()
	select {
	case <-done:
		cancel()
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}
}

func (s *Cron) Schedule(ctx context.Context, runAt time.Time, args []byte) error {
	t := storage.Task{ID: TaskID(args), RunAt: runAt, Args: append([]byte(nil), args...)}
	if err := s.store.PutTask(ctx, t); err != nil {
		return err
	}
	s.log.Debug("task scheduled", logx.String("task", t.ID), logx.Time("run_at", runAt))
	return nil
}

func (s *Cron) ScheduleNow(ctx context.Context, args []byte) error {
	if err := s.Schedule(ctx, s.now(), args); err != nil {
		return err
	}
	s.kick()
	return nil
}

// kick runs a poll in the background if the scheduler is running.
func (s *Cron) kick() {
	s.mu.Lock()
	running := s.c != nil
	if running {
		s.wg.Add(1)
	}
	s.mu.Unlock()
	if !running {
		return
	}
	go func() {
		defer s.wg.Done()
		s.poll()
	}()
}

// poll runs every due task serially. Overlapping polls are skipped.
func (s *Cron) poll() int {
	if !s.polling.TryLock() {
		return 0
	}
	defer s.polling.Unlock()

	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return 0
	}

	tasks, err := s.store.DueTasks(ctx, s.now(), s.cfg.BatchSize)
	if err != nil {
		s.log.Warn("due tasks failed", logx.Err(err))
		return 0
	}
	n := 0
	for _, t := range tasks {
		if ctx.Err() != nil {
			break
		}
		// delete first so a crash mid-handler can't run the task twice
		if err := s.store.DeleteTask(ctx, t.ID); err != nil {
			s.log.Warn("task delete failed", logx.String("task", t.ID), logx.Err(err))
			continue
		}
		runHandler(ctx, s.handler, s.cfg, s.log, s.warn, t.ID, t.Args)
		n++
	}
	if n > 0 {
		s.log.Debug("poll done", logx.Int("ran", n))
	}
	return n
}
