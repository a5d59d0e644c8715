package mailer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"sesmailer/internal/config"
	"sesmailer/internal/maillog"
	"sesmailer/internal/message"
	"sesmailer/internal/ses"
)

type fakeSender struct {
	err  error
	sent [][]byte
}

func (f *fakeSender) SendRawMessage(_ context.Context, raw []byte) error {
	f.sent = append(f.sent, raw)
	return f.err
}

type fakeQueue struct {
	msgs []message.Message
}

func (f *fakeQueue) Enqueue(_ context.Context, msg message.Message) (string, error) {
	f.msgs = append(f.msgs, msg)
	return "job-1", nil
}

func settings() config.Settings {
	return config.Settings{Enabled: true, FromEmail: "noreply@example.com", FromName: "Example", RateLimit: 10}
}

func noSleep(context.Context, time.Duration) error { return nil }

func newMailer(s config.Settings, sender *fakeSender, q Enqueuer, sink maillog.Sink, opts ...Option) *Mailer {
	opts = append([]Option{WithSink(sink), WithSleep(noSleep)}, opts...)
	return New(func() config.Settings { return s }, sender, q, opts...)
}

func TestSendDisabled(t *testing.T) {
	t.Parallel()
	s := settings()
	s.Enabled = false
	sender := &fakeSender{}
	err := newMailer(s, sender, nil, maillog.Nop()).Send(context.Background(), message.Message{To: []string{"a@example.com"}})
	if !errors.Is(err, ErrDisabled) || len(sender.sent) != 0 {
		t.Fatalf("err=%v sent=%d", err, len(sender.sent))
	}
}

func TestSendSyncLogsSuccess(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	var sink maillog.Memory
	m := newMailer(settings(), sender, &fakeQueue{}, &sink)

	res, err := m.Submit(context.Background(), message.Message{
		To:      []string{"a@example.com"},
		Subject: "Hi",
		Body:    "body",
		Headers: []string{"X-Ses-Mailer-Tag: sync"},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Queued || res.Bytes == 0 || len(sender.sent) != 1 {
		t.Fatalf("res=%+v sent=%d", res, len(sender.sent))
	}
	lines := sink.Lines()
	if len(lines) != 1 || !strings.HasPrefix(lines[0], `SUCCESS tag=sync to=a@example.com subject="Hi" bytes=`) {
		t.Fatalf("lines=%v", lines)
	}
	if strings.Contains(lines[0], "attempt=") {
		t.Fatalf("sync line carries attempt: %q", lines[0])
	}
}

func TestSendSyncFailureIsReturnedAndLogged(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{err: &ses.Error{Kind: ses.KindCredentialsMissing}}
	var sink maillog.Memory
	m := newMailer(settings(), sender, nil, &sink)

	err := m.Send(context.Background(), message.Message{To: []string{"a@example.com"}, Subject: "Hi"})
	if ses.Code(err) != "ses_creds_missing" {
		t.Fatalf("err=%v", err)
	}
	lines := sink.Lines()
	want := `FAIL to=a@example.com subject="Hi" code=ses_creds_missing status= msg="SES credentials missing." hint=` + maillog.Hint
	if len(lines) != 1 || lines[0] != want {
		t.Fatalf("lines=%v", lines)
	}
}

func TestSendBackgroundEnqueuesNormalized(t *testing.T) {
	t.Parallel()
	s := settings()
	s.BackgroundSend = true
	s.ReplyTo = "support@example.com"
	sender := &fakeSender{}
	q := &fakeQueue{}
	m := newMailer(s, sender, q, maillog.Nop())

	res, err := m.Submit(context.Background(), message.Message{To: []string{"a@example.com"}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !res.Queued || res.JobID != "job-1" || len(sender.sent) != 0 {
		t.Fatalf("res=%+v sent=%d", res, len(sender.sent))
	}
	if len(q.msgs) != 1 || !message.HasHeader(q.msgs[0].Headers, "Reply-To") {
		t.Fatalf("queued=%+v", q.msgs)
	}
}

func TestSendRejectsBadInput(t *testing.T) {
	t.Parallel()
	bad := settings()
	bad.FromEmail, bad.SiteAdminEmail = "", ""
	cases := []struct {
		name string
		s    config.Settings
		msg  message.Message
		want error
	}{
		{"no recipients", settings(), message.Message{To: []string{"nobody"}}, message.ErrNoRecipients},
		{"invalid from", bad, message.Message{To: []string{"a@example.com"}}, message.ErrFromInvalid},
	}
	for _, tc := range cases {
		sender := &fakeSender{}
		err := newMailer(tc.s, sender, nil, maillog.Nop()).Send(context.Background(), tc.msg)
		if !errors.Is(err, tc.want) || len(sender.sent) != 0 {
			t.Fatalf("%s: err=%v sent=%d", tc.name, err, len(sender.sent))
		}
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()
	s := settings()
	s.ReplyTo = "support@example.com"
	s.CustomHeaders = []string{"X-App: web", "Subject: nope", "X-Env: prod"}

	got := Normalize(s, message.Message{Headers: []string{"X-Env: dev"}})
	want := []string{"X-Env: dev", "Reply-To: support@example.com", "X-App: web"}
	if strings.Join(got.Headers, "|") != strings.Join(want, "|") {
		t.Fatalf("headers=%q", got.Headers)
	}

	kept := Normalize(s, message.Message{Headers: []string{"reply-to: other@example.com"}})
	n := 0
	for _, h := range kept.Headers {
		if strings.HasPrefix(strings.ToLower(h), "reply-to:") {
			n++
		}
	}
	if n != 1 {
		t.Fatalf("reply-to duplicated: %q", kept.Headers)
	}

	s.ReplyTo = "not an address"
	if message.HasHeader(Normalize(s, message.Message{}).Headers, "Reply-To") {
		t.Fatal("invalid reply_to must be ignored")
	}
}

func TestChainBeforeSend(t *testing.T) {
	t.Parallel()
	var order []string
	stop := errors.New("stop")
	chain := ChainBeforeSend(
		func(_ context.Context, m *message.Message) error { order = append(order, "a"); m.Subject += "!"; return nil },
		nil,
		func(context.Context, *message.Message) error { order = append(order, "b"); return stop },
		func(context.Context, *message.Message) error { order = append(order, "c"); return nil },
	)
	msg := message.Message{Subject: "hi"}
	if err := chain(context.Background(), &msg); !errors.Is(err, stop) {
		t.Fatalf("err=%v", err)
	}
	if strings.Join(order, "") != "ab" || msg.Subject != "hi!" {
		t.Fatalf("order=%v subject=%q", order, msg.Subject)
	}
}

func TestBeforeSendVetoIsLoggedAsFailure(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	var sink maillog.Memory
	veto := errors.New("blocked domain")
	m := newMailer(settings(), sender, nil, &sink, WithHooks(Hooks{
		BeforeSend: func(context.Context, *message.Message) error { return veto },
	}))
	if err := m.Send(context.Background(), message.Message{To: []string{"a@example.com"}}); !errors.Is(err, veto) {
		t.Fatalf("err=%v", err)
	}
	if len(sender.sent) != 0 {
		t.Fatal("vetoed message was sent")
	}
	lines := sink.Lines()
	if len(lines) != 1 || !strings.Contains(lines[0], "code=ses_unknown") {
		t.Fatalf("lines=%v", lines)
	}
}
