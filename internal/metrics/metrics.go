// Package metrics exports mail outcome counters in Prometheus format. The
// counters are fed from the event bus so the send paths stay unaware of
// them.
package metrics

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sesmailer/internal/eventbus"
	logx "sesmailer/pkg/logx"
)

func modeLabel(async bool) string {
	if async {
		return "async"
	}
	return "sync"
}

type Metrics struct {
	reg *prometheus.Registry

	Queued  prometheus.Counter
	Sent    *prometheus.CounterVec
	Failed  *prometheus.CounterVec
	Retry   *prometheus.CounterVec
	Dropped *prometheus.CounterVec
	Bytes   prometheus.Counter
}

// New registers the mail counters plus the Go and process collectors on a
// private registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		Queued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sesmailer_mail_queued_total",
			Help: "Total number of messages stored for background delivery",
		}),
		Sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sesmailer_mail_sent_total",
			Help: "Total number of messages accepted by SES",
		}, []string{"mode"}),
		Failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sesmailer_mail_failed_total",
			Help: "Total number of failed send attempts",
		}, []string{"mode", "code", "status"}),
		Retry: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sesmailer_mail_retry_scheduled_total",
			Help: "Total number of retries scheduled, by the attempt they will run as",
		}, []string{"attempt"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sesmailer_mail_dropped_total",
			Help: "Total number of queued messages removed without being sent",
		}, []string{"reason"}),
		Bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sesmailer_mail_sent_bytes_total",
			Help: "Total size of MIME documents accepted by SES",
		}),
	}
	m.reg.MustRegister(
		m.Queued, m.Sent, m.Failed, m.Retry, m.Dropped, m.Bytes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// WatchDropped exports how many bus events were lost to full subscribers.
func (m *Metrics) WatchDropped(src interface{ Dropped() uint64 }) {
	m.reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "sesmailer_eventbus_dropped_total",
		Help: "Total number of events not delivered because a subscriber was full",
	}, func() float64 { return float64(src.Dropped()) }))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Observe counts one bus event. Unknown types are ignored.
func (m *Metrics) Observe(e eventbus.Event) {
	o, ok := e.Data.(eventbus.MailOutcome)
	if !ok {
		return
	}
	switch e.Type {
	case eventbus.MailQueued:
		m.Queued.Inc()
	case eventbus.MailSent:
		m.Sent.WithLabelValues(modeLabel(o.Async)).Inc()
		m.Bytes.Add(float64(o.Bytes))
	case eventbus.MailFailed:
		status := ""
		if o.Status != 0 {
			status = strconv.Itoa(o.Status)
		}
		m.Failed.WithLabelValues(modeLabel(o.Async), o.Code, status).Inc()
	case eventbus.MailRetry:
		m.Retry.WithLabelValues(strconv.Itoa(o.Attempt)).Inc()
	case eventbus.MailDropped:
		m.Dropped.WithLabelValues(o.Reason).Inc()
	}
}

// Run consumes bus events until ctx is done.
func (m *Metrics) Run(ctx context.Context, bus eventbus.Bus, log logx.Logger) {
	ch, unsubscribe := bus.Subscribe(256, "mail.")
	defer unsubscribe()
	log.Debug("metrics subscribed")
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			m.Observe(e)
		}
	}
}
