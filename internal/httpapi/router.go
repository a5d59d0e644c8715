// Package httpapi serves message submission, quota lookup, queue listing,
// health and metrics over HTTP.
package httpapi

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"sesmailer/internal/mailer"
	"sesmailer/internal/message"
	"sesmailer/internal/queue"
	"sesmailer/internal/ses"
	logx "sesmailer/pkg/logx"
)

// Submitter accepts a message for delivery. *mailer.Mailer implements it.
type Submitter interface {
	Submit(ctx context.Context, msg message.Message) (mailer.Result, error)
}

// QuotaSource reports SES sending limits. *ses.Client implements it.
type QuotaSource interface {
	GetSendQuota(ctx context.Context) (ses.Quota, error)
}

// JobLister lists queued jobs. *queue.Queue implements it.
type JobLister interface {
	Jobs(ctx context.Context) ([]queue.Job, error)
}

// Deps are the handlers' collaborators. Nil entries disable their routes.
type Deps struct {
	Mailer  Submitter
	Quota   QuotaSource
	Jobs    JobLister
	Metrics http.Handler
	Log     logx.Logger
	Token   string
	Pprof   bool
}

type handler struct {
	d   Deps
	log logx.Logger
}

// NewRouter mounts every route. /healthz never requires the token.
func NewRouter(d Deps) http.Handler {
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	h := &handler{d: d, log: log.With(logx.String("comp", "http"))}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(h.requestLog)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(d.Token))
		if d.Metrics != nil {
			r.Method(http.MethodGet, "/metrics", d.Metrics)
		}
		r.Route("/v1", func(r chi.Router) {
			if d.Mailer != nil {
				r.Post("/messages", h.postMessage)
			}
			if d.Quota != nil {
				r.Get("/quota", h.getQuota)
			}
			if d.Jobs != nil {
				r.Get("/jobs", h.listJobs)
			}
		})
		if d.Pprof {
			r.Mount("/debug", chimw.Profiler())
		}
	})
	return r
}

func (h *handler) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("took", time.Since(start)),
			logx.String("request_id", chimw.GetReqID(r.Context())),
		)
	})
}

// bearerAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
func bearerAuth(token string) func(http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		if tok == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.URL.Query().Get("token")
			if got == "" {
				const p = "Bearer "
				if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, p) {
					got = strings.TrimSpace(strings.TrimPrefix(ah, p))
				}
			}
			if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(tok)) != 1 {
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
