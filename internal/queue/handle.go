package queue

import (
	"context"
	"errors"
	"strconv"

	"sesmailer/internal/eventbus"
	"sesmailer/internal/maillog"
	"sesmailer/internal/message"
	"sesmailer/internal/ses"
	logx "sesmailer/pkg/logx"
)

// Handle is the scheduler handler. Send failures are logged and retried
// here; the returned error only reports store or scheduler problems. The
// scheduler has already dropped the fired task, so on such an error a job
// reference is re-armed after RecheckDelay.
func (q *Queue) Handle(ctx context.Context, args []byte) error {
	err := q.handle(ctx, args)
	if err == nil || ctx.Err() != nil {
		return err
	}
	ref, perr := ParseTaskRef(args)
	if perr != nil || ref.JobID == "" {
		return err
	}
	if serr := q.sched.Schedule(context.WithoutCancel(ctx), q.now().Add(RecheckDelay), args); serr != nil {
		q.log.Error("job left without a pending task", logx.String("job", ref.JobID), logx.Err(serr))
		return errors.Join(err, serr)
	}
	q.log.Warn("job re-armed after store error", logx.String("job", ref.JobID), logx.Duration("in", RecheckDelay), logx.Err(err))
	return err
}

func (q *Queue) handle(ctx context.Context, args []byte) error {
	s := q.settings()
	if !s.Enabled {
		return nil
	}

	ref, err := ParseTaskRef(args)
	if err != nil {
		q.log.Warn("dropping task with malformed args", logx.Err(err))
		return nil
	}

	var (
		p  Payload
		id = ref.JobID
	)
	if id != "" {
		b, ok, err := q.store.GetJob(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			q.log.Debug("job gone", logx.String("job", id))
			return nil
		}
		if p, err = decodePayload(b); err != nil {
			q.log.Warn("dropping undecodable job", logx.String("job", id), logx.Err(err))
			return q.store.DeleteJob(ctx, id)
		}
	} else {
		p = *ref.Legacy
		if id, err = q.Store(ctx, p, ""); err != nil {
			return err
		}
		q.log.Info("legacy task migrated", logx.String("job", id))
	}

	to := message.SanitizeRecipients(p.To)
	headers, tag := message.SanitizeHeaders(p.Headers)
	attempt := max(0, p.Attempt)
	outcome := eventbus.MailOutcome{JobID: id, Tag: tag, To: len(to), Attempt: attempt, Async: true}

	if len(to) == 0 {
		outcome.Reason = "no_recipients"
		q.publish(eventbus.MailDropped, outcome)
		return q.store.DeleteJob(ctx, id)
	}
	entry := maillog.Entry{Tag: tag, To: to, Subject: p.Subject}

	from, err := q.hooks.resolveFrom(s)
	if err != nil {
		q.sink.Log(maillog.Fail(entry, ses.Code(err), "", maillog.NoAttempt, err.Error(), false))
		outcome.Code, outcome.Reason = ses.Code(err), "from_invalid"
		q.publish(eventbus.MailDropped, outcome)
		return q.store.DeleteJob(ctx, id)
	}

	msg := message.Message{
		To:          to,
		Subject:     p.Subject,
		Body:        p.Body,
		HTML:        p.HTML || message.IsHTML(p.Headers),
		Headers:     headers,
		Attachments: p.Attachments,
	}

	n, err := q.send(ctx, from, &msg, s.RateLimit)
	if err != nil && errors.Is(err, context.Canceled) && ctx.Err() != nil {
		// Shutdown mid-send: leave the job for Recover.
		return err
	}
	if err == nil {
		q.sink.Log(maillog.Success(entry, n, attempt))
		outcome.Bytes = n
		q.publish(eventbus.MailSent, outcome)
		return q.store.DeleteJob(ctx, id)
	}

	status := ""
	if st := ses.Status(err); st != 0 {
		status = strconv.Itoa(st)
	}
	q.sink.Log(maillog.Fail(entry, ses.Code(err), status, attempt, err.Error(), ses.LooksMisconfigured(err)))
	outcome.Code, outcome.Status = ses.Code(err), ses.Status(err)
	q.publish(eventbus.MailFailed, outcome)

	if attempt+1 >= MaxAttempts || message.IsPermanent(err) {
		outcome.Reason = "exhausted"
		q.publish(eventbus.MailDropped, outcome)
		return q.store.DeleteJob(ctx, id)
	}

	next := attempt + 1
	delay := RetryDelay(attempt)
	q.sink.Log(maillog.Retry(entry, next, delay))
	p.Attempt = next
	if _, err := q.Store(ctx, p, id); err != nil {
		return err
	}
	if err := q.sched.Schedule(ctx, q.now().Add(delay), RefArgs(id)); err != nil {
		return err
	}
	outcome.Attempt = next
	q.publish(eventbus.MailRetry, outcome)
	return nil
}

// send applies BeforeSend, throttles, builds, and delivers msg. It returns
// the size of the MIME document.
func (q *Queue) send(ctx context.Context, from message.From, msg *message.Message, rate int) (int, error) {
	if q.hooks.BeforeSend != nil {
		if err := q.hooks.BeforeSend(ctx, msg); err != nil {
			return 0, err
		}
	}
	raw, err := message.Build(from, *msg)
	if err != nil {
		return 0, err
	}
	if err := q.sleep(ctx, RateDelay(rate)); err != nil {
		return 0, err
	}
	if err := q.sender.SendRawMessage(ctx, raw); err != nil {
		return len(raw), err
	}
	return len(raw), nil
}
