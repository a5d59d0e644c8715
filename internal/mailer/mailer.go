// Package mailer is the entry point for outbound mail: it applies the
// configured defaults to a message and then either sends it right away or
// hands it to the queue.
package mailer

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"sesmailer/internal/config"
	"sesmailer/internal/eventbus"
	"sesmailer/internal/maillog"
	"sesmailer/internal/message"
	"sesmailer/internal/queue"
	"sesmailer/internal/ses"
	logx "sesmailer/pkg/logx"
)

var ErrDisabled = errors.New("mailer disabled")

// Hooks is shared with the queue so both send paths behave the same.
type Hooks = queue.Hooks

// DefaultResolveFrom is the From resolution used when Hooks.ResolveFrom is nil.
var DefaultResolveFrom = queue.DefaultResolveFrom

// Enqueuer stores a message for background delivery. *queue.Queue
// implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, msg message.Message) (string, error)
}

// ChainBeforeSend runs fns in order and stops at the first error.
func ChainBeforeSend(fns ...func(context.Context, *message.Message) error) func(context.Context, *message.Message) error {
	return func(ctx context.Context, msg *message.Message) error {
		for _, fn := range fns {
			if fn == nil {
				continue
			}
			if err := fn(ctx, msg); err != nil {
				return err
			}
		}
		return nil
	}
}

// Result describes what Submit did with a message.
type Result struct {
	Queued bool
	JobID  string
	Bytes  int
}

type Mailer struct {
	settings func() config.Settings
	sender   queue.Sender
	queue    Enqueuer

	hooks Hooks
	sink  maillog.Sink
	bus   eventbus.Bus
	log   logx.Logger
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

type Option func(*Mailer)

func WithHooks(h Hooks) Option { return func(m *Mailer) { m.hooks = h } }

func WithSink(s maillog.Sink) Option {
	return func(m *Mailer) {
		if s != nil {
			m.sink = s
		}
	}
}

func WithBus(b eventbus.Bus) Option {
	return func(m *Mailer) {
		if b != nil {
			m.bus = b
		}
	}
}

func WithLogger(log logx.Logger) Option {
	return func(m *Mailer) {
		if !log.IsZero() {
			m.log = log
		}
	}
}

func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Mailer) {
		if fn != nil {
			m.sleep = fn
		}
	}
}

// New builds a Mailer. q may be nil, in which case background_send is
// ignored and every message is sent synchronously.
func New(settings func() config.Settings, sender queue.Sender, q Enqueuer, opts ...Option) *Mailer {
	m := &Mailer{
		settings: settings,
		sender:   sender,
		queue:    q,
		sink:     maillog.Nop(),
		bus:      eventbus.Nop(),
		log:      logx.Nop(),
		now:      time.Now,
		sleep:    queue.Sleep,
	}
	for _, o := range opts {
		if o != nil {
			o(m)
		}
	}
	m.log = m.log.With(logx.String("comp", "mailer"))
	return m
}

func (m *Mailer) Send(ctx context.Context, msg message.Message) error {
	_, err := m.Submit(ctx, msg)
	return err
}

// Submit sends msg, or queues it when background sending is on.
func (m *Mailer) Submit(ctx context.Context, msg message.Message) (Result, error) {
	s := m.settings()
	if !s.Enabled {
		return Result{}, ErrDisabled
	}
	msg = Normalize(s, msg)

	if s.BackgroundSend && m.queue != nil {
		id, err := m.queue.Enqueue(ctx, msg)
		if err != nil {
			return Result{}, err
		}
		return Result{Queued: true, JobID: id}, nil
	}
	n, err := m.sendNow(ctx, s, msg)
	return Result{Bytes: n}, err
}

// Normalize appends the configured Reply-To and custom headers, skipping any
// header msg already sets.
func Normalize(s config.Settings, msg message.Message) message.Message {
	headers := append([]string(nil), msg.Headers...)
	if message.ValidEmail(s.ReplyTo) && !message.HasHeader(headers, "Reply-To") {
		headers = append(headers, "Reply-To: "+s.ReplyTo)
	}
	if len(s.CustomHeaders) > 0 {
		custom, _ := message.SanitizeHeaders(s.CustomHeaders)
		for _, h := range custom {
			name, _, _ := strings.Cut(h, ":")
			if message.HasHeader(headers, strings.TrimSpace(name)) {
				continue
			}
			headers = append(headers, h)
		}
	}
	msg.Headers = headers
	return msg
}

func (m *Mailer) sendNow(ctx context.Context, s config.Settings, msg message.Message) (int, error) {
	msg.To = message.SanitizeRecipients(msg.To)
	if len(msg.To) == 0 {
		return 0, message.ErrNoRecipients
	}
	tag := message.ExtractTag(msg.Headers)
	from, err := m.resolveFrom(s)
	if err != nil {
		return 0, err
	}
	msg.HTML = msg.HTML || message.IsHTML(msg.Headers)
	outcome := eventbus.MailOutcome{Tag: tag, To: len(msg.To)}
	entry := maillog.Entry{Tag: tag, To: msg.To, Subject: msg.Subject}

	if m.hooks.BeforeSend != nil {
		if err := m.hooks.BeforeSend(ctx, &msg); err != nil {
			return 0, m.fail(entry, outcome, err)
		}
	}
	if err := m.sleep(ctx, queue.RateDelay(s.RateLimit)); err != nil {
		return 0, err
	}
	raw, err := message.Build(from, msg)
	if err != nil {
		return 0, err
	}
	if err := m.sender.SendRawMessage(ctx, raw); err != nil {
		return len(raw), m.fail(entry, outcome, err)
	}
	m.sink.Log(maillog.Success(entry, len(raw), maillog.NoAttempt))
	outcome.Bytes = len(raw)
	m.bus.Publish(eventbus.Event{Type: eventbus.MailSent, Time: m.now(), Data: outcome})
	return len(raw), nil
}

func (m *Mailer) fail(entry maillog.Entry, outcome eventbus.MailOutcome, err error) error {
	status := ""
	if st := ses.Status(err); st != 0 {
		status = strconv.Itoa(st)
	}
	m.sink.Log(maillog.Fail(entry, ses.Code(err), status, maillog.NoAttempt, err.Error(), ses.LooksMisconfigured(err)))
	outcome.Code, outcome.Status = ses.Code(err), ses.Status(err)
	m.bus.Publish(eventbus.Event{Type: eventbus.MailFailed, Time: m.now(), Data: outcome})
	m.log.Warn("send failed", logx.String("code", outcome.Code), logx.Int("status", outcome.Status), logx.Err(err))
	return err
}

func (m *Mailer) resolveFrom(s config.Settings) (message.From, error) {
	if m.hooks.ResolveFrom != nil {
		return m.hooks.ResolveFrom(s)
	}
	return DefaultResolveFrom(s)
}
