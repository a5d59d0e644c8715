package httpapi

import (
	"errors"
	"io"
	"net/http"

	"github.com/goccy/go-json"

	"sesmailer/internal/mailer"
	"sesmailer/internal/message"
	"sesmailer/internal/ses"
	logx "sesmailer/pkg/logx"
)

const maxBodyBytes = 10 << 20

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type sendResponse struct {
	Queued bool   `json:"queued"`
	JobID  string `json:"job_id,omitempty"`
	Bytes  int    `json:"bytes,omitempty"`
}

type quotaResponse struct {
	Max24HourSend   string `json:"max_24_hour_send"`
	MaxSendRate     string `json:"max_send_rate"`
	SentLast24Hours string `json:"sent_last_24_hours"`
	Remaining       string `json:"remaining"`
}

type jobResponse struct {
	ID      string   `json:"id"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Attempt int      `json:"attempt"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Code: code, Message: msg})
}

// POST /v1/messages
func (h *handler) postMessage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if len(body) > maxBodyBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "too_large", "request body too large")
		return
	}
	var msg message.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON: "+err.Error())
		return
	}

	res, err := h.d.Mailer.Submit(r.Context(), msg)
	if err != nil {
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, mailer.ErrDisabled):
			status = http.StatusServiceUnavailable
		case message.IsPermanent(err):
			status = http.StatusUnprocessableEntity
		}
		code := ses.Code(err)
		if errors.Is(err, mailer.ErrDisabled) {
			code = "mailer_disabled"
		}
		h.log.Warn("submit failed", logx.String("code", code), logx.Err(err))
		writeError(w, status, code, err.Error())
		return
	}
	status := http.StatusOK
	if res.Queued {
		status = http.StatusAccepted
	}
	writeJSON(w, status, sendResponse{Queued: res.Queued, JobID: res.JobID, Bytes: res.Bytes})
}

// GET /v1/quota
func (h *handler) getQuota(w http.ResponseWriter, r *http.Request) {
	q, err := h.d.Quota.GetSendQuota(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, ses.Code(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, quotaResponse{
		Max24HourSend:   q.Max24HourSend.String(),
		MaxSendRate:     q.MaxSendRate.String(),
		SentLast24Hours: q.SentLast24Hours.String(),
		Remaining:       q.Remaining().String(),
	})
}

// GET /v1/jobs
func (h *handler) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.d.Jobs.Jobs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	out := make([]jobResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, jobResponse{ID: j.ID, To: j.To, Subject: j.Subject, Attempt: j.Attempt})
	}
	writeJSON(w, http.StatusOK, out)
}
