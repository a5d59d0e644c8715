package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"golang.org/x/time/rate"

	"sesmailer/internal/storage"
	logx "sesmailer/pkg/logx"
)

var ErrStopped = errors.New("scheduler stopped")

type firedTask struct {
	id   string
	args []byte
}

// Runner is the in-process async task runner.
type Runner struct {
	cfg     Config
	store   storage.Store
	handler Handler
	log     logx.Logger
	warn    *rate.Sometimes
	now     func() time.Time

	mu       sync.Mutex
	running  bool
	ctx      context.Context
	cancel   context.CancelFunc
	queue    chan firedTask
	stopping chan struct{}
	workers  *conc.WaitGroup

	// qmu is read-held by senders on queue and write-held by Stop to close it.
	qmu sync.RWMutex

	tmu    sync.Mutex
	timers map[string]*time.Timer
	ver    map[string]uint64
}

func NewRunner(cfg Config, store storage.Store, h Handler, log logx.Logger) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Runner{
		cfg:     cfg.withDefaults(),
		store:   store,
		handler: h,
		log:     log.With(logx.String("comp", "scheduler"), logx.String("mode", "async")),
		warn:    &rate.Sometimes{Interval: 5 * time.Second},
		now:     time.Now,
		timers:  map[string]*time.Timer{},
		ver:     map[string]uint64{},
	}
}

// Start launches the workers and re-arms every persisted task.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	r.ctx, r.cancel = context.WithCancel(context.WithoutCancel(ctx))
	r.queue = make(chan firedTask, r.cfg.QueueSize)
	r.stopping = make(chan struct{})
	r.workers = conc.NewWaitGroup()
	for i := 0; i < r.cfg.Workers; i++ {
		r.workers.Go(r.worker)
	}
	r.running = true
	r.mu.Unlock()

	tasks, err := r.store.ListTasks(ctx)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		r.arm(t)
	}
	r.log.Info("scheduler started", logx.Int("workers", r.cfg.Workers), logx.Int("restored", len(tasks)))
	return nil
}

// Stop stops all timers and waits for in-flight handlers. Persisted tasks
// remain so they resume on the next Start.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	queue := r.queue
	stopping := r.stopping
	workers := r.workers
	cancel := r.cancel
	r.mu.Unlock()

	r.tmu.Lock()
	for id, t := range r.timers {
		_ = t.Stop()
		delete(r.timers, id)
		delete(r.ver, id)
	}
	r.tmu.Unlock()

	// wake blocked senders before taking the write lock
	close(stopping)
	r.qmu.Lock()
	close(queue)
	r.qmu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		workers.Wait()
	}()
	select {
	case <-done:
		cancel()
		r.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}
}

func (r *Runner) Schedule(ctx context.Context, runAt time.Time, args []byte) error {
	t := storage.Task{ID: TaskID(args), RunAt: runAt, Args: append([]byte(nil), args...)}
	if err := r.store.PutTask(ctx, t); err != nil {
		return err
	}
	r.mu.Lock()
	running := r.running
	r.mu.Unlock()
	if running {
		r.arm(t)
	}
	r.log.Debug("task scheduled", logx.String("task", t.ID), logx.Time("run_at", runAt))
	return nil
}

func (r *Runner) ScheduleNow(ctx context.Context, args []byte) error {
	return r.Schedule(ctx, r.now(), args)
}

// Pending returns how many timers are armed.
func (r *Runner) Pending() int {
	r.tmu.Lock()
	defer r.tmu.Unlock()
	return len(r.timers)
}

func (r *Runner) arm(t storage.Task) {
	r.tmu.Lock()
	defer r.tmu.Unlock()

	// upsert: stop the existing timer with the same id
	if old, ok := r.timers[t.ID]; ok {
		_ = old.Stop()
	}
	// bump version to ignore stale callbacks from replaced timers
	ver := r.ver[t.ID] + 1
	r.ver[t.ID] = ver

	delay := t.RunAt.Sub(r.now())
	if delay < 0 {
		delay = 0
	}
	r.timers[t.ID] = time.AfterFunc(delay, func() { r.fire(t, ver) })
}

func (r *Runner) fire(t storage.Task, ver uint64) {
	r.tmu.Lock()
	if r.ver[t.ID] != ver {
		r.tmu.Unlock()
		return
	}
	delete(r.timers, t.ID)
	delete(r.ver, t.ID)
	r.tmu.Unlock()

	r.mu.Lock()
	running, ctx, queue, stopping := r.running, r.ctx, r.queue, r.stopping
	r.mu.Unlock()
	if !running {
		return
	}
	// cleanup persisted definition first (prevents double-exec on restart)
	if err := r.store.DeleteTask(ctx, t.ID); err != nil {
		r.log.Warn("task delete failed", logx.String("task", t.ID), logx.Err(err))
	}

	r.qmu.RLock()
	sent := false
	select {
	case <-stopping:
	default:
		select {
		case queue <- firedTask{id: t.ID, args: t.Args}:
			sent = true
		case <-stopping:
		case <-ctx.Done():
		}
	}
	r.qmu.RUnlock()

	if !sent {
		r.restore(ctx, t)
	}
}

// restore persists a fired task that never ran so the next Start fires it.
func (r *Runner) restore(ctx context.Context, t storage.Task) {
	if err := r.store.PutTask(context.WithoutCancel(ctx), t); err != nil {
		r.log.Warn("task restore failed", logx.String("task", t.ID), logx.Err(err))
	}
}

func (r *Runner) worker() {
	r.mu.Lock()
	ctx, queue, stopping := r.ctx, r.queue, r.stopping
	r.mu.Unlock()
	for ft := range queue {
		select {
		case <-stopping:
			r.restore(ctx, storage.Task{ID: ft.id, RunAt: r.now(), Args: ft.args})
			continue
		default:
		}
		runHandler(ctx, r.handler, r.cfg, r.log, r.warn, ft.id, ft.args)
	}
}
