package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"sesmailer/internal/config"
	"sesmailer/internal/eventbus"
	"sesmailer/internal/maillog"
	"sesmailer/internal/message"
	"sesmailer/internal/scheduler"
	"sesmailer/internal/storage"
	logx "sesmailer/pkg/logx"
)

const (
	// MaxAttempts counts the first send.
	MaxAttempts = 3
	// RetryBase is the delay before the first retry; it doubles per attempt.
	RetryBase = 60 * time.Second
	// RecheckDelay is how soon a job is fired again after Handle hit a
	// store or scheduler error.
	RecheckDelay = 30 * time.Second
)

// RetryDelay is the wait before re-sending a message whose send number
// attempt (0-based) just failed.
func RetryDelay(attempt int) time.Duration {
	return RetryBase << attempt
}

// Sender delivers a raw MIME document. *ses.Client implements it.
type Sender interface {
	SendRawMessage(ctx context.Context, raw []byte) error
}

// Hooks customize the send path.
type Hooks struct {
	// BeforeSend may rewrite the message or veto the send. A returned error
	// is treated as a failed attempt.
	BeforeSend func(ctx context.Context, msg *message.Message) error
	// ResolveFrom picks the sender; defaults to DefaultResolveFrom.
	ResolveFrom func(s config.Settings) (message.From, error)
}

func (h Hooks) resolveFrom(s config.Settings) (message.From, error) {
	if h.ResolveFrom != nil {
		return h.ResolveFrom(s)
	}
	return DefaultResolveFrom(s)
}

// DefaultResolveFrom uses the configured From, falling back to the site
// admin email and site name.
func DefaultResolveFrom(s config.Settings) (message.From, error) {
	email := s.FromEmail
	if !message.ValidEmail(email) {
		email = s.SiteAdminEmail
	}
	name := s.FromName
	if name == "" {
		name = s.SiteName
	}
	if !message.ValidEmail(email) {
		return message.From{}, message.ErrFromInvalid
	}
	return message.From{Email: email, Name: name}, nil
}

// Queue stores jobs and runs them from the scheduler.
type Queue struct {
	store    storage.Store
	sched    scheduler.Scheduler
	sender   Sender
	settings func() config.Settings

	hooks Hooks
	sink  maillog.Sink
	bus   eventbus.Bus
	log   logx.Logger
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	newID func() string
}

type Option func(*Queue)

func WithHooks(h Hooks) Option { return func(q *Queue) { q.hooks = h } }

// WithSink sets where SUCCESS/FAIL/RETRY lines go. Gating on
// disable_logging is the caller's job (see maillog.Gate).
func WithSink(s maillog.Sink) Option {
	return func(q *Queue) {
		if s != nil {
			q.sink = s
		}
	}
}

func WithBus(b eventbus.Bus) Option {
	return func(q *Queue) {
		if b != nil {
			q.bus = b
		}
	}
}

func WithLogger(log logx.Logger) Option {
	return func(q *Queue) {
		if !log.IsZero() {
			q.log = log
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// WithSleep replaces the rate-limit sleep.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(q *Queue) {
		if fn != nil {
			q.sleep = fn
		}
	}
}

func New(store storage.Store, sched scheduler.Scheduler, sender Sender, settings func() config.Settings, opts ...Option) *Queue {
	q := &Queue{
		store:    store,
		sched:    sched,
		sender:   sender,
		settings: settings,
		sink:     maillog.Nop(),
		bus:      eventbus.Nop(),
		log:      logx.Nop(),
		now:      time.Now,
		sleep:    Sleep,
		newID:    uuid.NewString,
	}
	for _, o := range opts {
		if o != nil {
			o(q)
		}
	}
	q.log = q.log.With(logx.String("comp", "queue"))
	return q
}

// Sleep blocks for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RateDelay is the pause before each send for a limit of rate sends per
// second. 0 disables throttling.
func RateDelay(rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Second / time.Duration(rate)
}

// Store saves p under id, generating a UUIDv4 when id is empty.
func (q *Queue) Store(ctx context.Context, p Payload, id string) (string, error) {
	if id == "" {
		id = q.newID()
	}
	b, err := encodePayload(p)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	if err := q.store.PutJob(ctx, id, b); err != nil {
		return "", fmt.Errorf("store job %s: %w", id, err)
	}
	return id, nil
}

// Jobs returns every stored job, skipping ones that fail to decode.
func (q *Queue) Jobs(ctx context.Context) ([]Job, error) {
	ids, err := q.store.ListJobs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Job, 0, len(ids))
	for _, id := range ids {
		b, ok, err := q.store.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		p, err := decodePayload(b)
		if err != nil {
			q.log.Warn("skipping undecodable job", logx.String("job", id), logx.Err(err))
			continue
		}
		out = append(out, Job{ID: id, Payload: p})
	}
	return out, nil
}

// Enqueue stores msg with attempt 0 and schedules it to run now.
func (q *Queue) Enqueue(ctx context.Context, msg message.Message) (string, error) {
	msg.To = message.SanitizeRecipients(msg.To)
	if len(msg.To) == 0 {
		return "", message.ErrNoRecipients
	}
	id, err := q.Store(ctx, Payload{Message: msg}, "")
	if err != nil {
		return "", err
	}
	if err := q.sched.ScheduleNow(ctx, RefArgs(id)); err != nil {
		_ = q.store.DeleteJob(ctx, id)
		return "", fmt.Errorf("schedule job %s: %w", id, err)
	}
	q.publish(eventbus.MailQueued, eventbus.MailOutcome{
		JobID: id,
		Tag:   message.ExtractTag(msg.Headers),
		To:    len(msg.To),
		Async: true,
	})
	q.log.Debug("job queued", logx.String("job", id), logx.Int("to", len(msg.To)))
	return id, nil
}

// Recover schedules every stored job that no pending task references. A
// job is left in that state when the process dies after its task fired but
// before the handler finished.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	ids, err := q.store.ListJobs(ctx)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	tasks, err := q.store.ListTasks(ctx)
	if err != nil {
		return 0, err
	}
	pending := make(map[string]struct{}, len(tasks))
	for _, t := range tasks {
		if ref, err := ParseTaskRef(t.Args); err == nil && ref.JobID != "" {
			pending[ref.JobID] = struct{}{}
		}
	}
	n := 0
	for _, id := range ids {
		if _, ok := pending[id]; ok {
			continue
		}
		if err := q.sched.ScheduleNow(ctx, RefArgs(id)); err != nil {
			return n, fmt.Errorf("reschedule job %s: %w", id, err)
		}
		n++
	}
	if n > 0 {
		q.log.Info("orphaned jobs rescheduled", logx.Int("count", n))
	}
	return n, nil
}

func (q *Queue) publish(typ string, o eventbus.MailOutcome) {
	q.bus.Publish(eventbus.Event{Type: typ, Time: q.now(), Data: o})
}
