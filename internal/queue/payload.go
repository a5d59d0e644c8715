package queue

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"sesmailer/internal/message"
)

var ErrBadTaskArgs = errors.New("queue: malformed task args")

// Payload is the stored form of a queued message.
type Payload struct {
	message.Message
	Attempt int `json:"attempt"`
}

// Job is a stored payload and its id.
type Job struct {
	ID string
	Payload
}

func encodePayload(p Payload) ([]byte, error) {
	if p.To == nil {
		p.To = []string{}
	}
	return json.Marshal(p)
}

func decodePayload(b []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(b, &p); err != nil {
		return Payload{}, fmt.Errorf("decode payload: %w", err)
	}
	if p.Attempt < 0 {
		p.Attempt = 0
	}
	return p, nil
}

// TaskRef is the decoded task argument: either a job id or, for tasks
// written before job ids existed, the full payload.
type TaskRef struct {
	JobID  string
	Legacy *Payload
}

type jobRef struct {
	JobID string `json:"job_id"`
}

// RefArgs encodes the task argument for a stored job.
func RefArgs(jobID string) []byte {
	b, _ := json.Marshal(jobRef{JobID: jobID})
	return b
}

// legacyPayload accepts "to" as a string or a list.
type legacyPayload struct {
	To          json.RawMessage `json:"to"`
	Subject     string          `json:"subject"`
	Message     string          `json:"message"`
	HTML        bool            `json:"html"`
	Headers     json.RawMessage `json:"headers"`
	Attachments []string        `json:"attachments"`
	Attempt     int             `json:"attempt"`
}

// ParseTaskRef decodes task args. An object with a "job_id" key is a
// reference; any other object is a legacy payload.
func ParseTaskRef(args []byte) (TaskRef, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(args, &fields); err != nil || fields == nil {
		return TaskRef{}, ErrBadTaskArgs
	}
	if raw, ok := fields["job_id"]; ok {
		var id string
		if err := json.Unmarshal(raw, &id); err != nil || strings.TrimSpace(id) == "" {
			return TaskRef{}, ErrBadTaskArgs
		}
		return TaskRef{JobID: strings.TrimSpace(id)}, nil
	}

	var lp legacyPayload
	if err := json.Unmarshal(args, &lp); err != nil {
		return TaskRef{}, fmt.Errorf("%w: %v", ErrBadTaskArgs, err)
	}
	to, err := stringOrList(lp.To, true)
	if err != nil {
		return TaskRef{}, fmt.Errorf("%w: to: %v", ErrBadTaskArgs, err)
	}
	headers, err := stringOrList(lp.Headers, false)
	if err != nil {
		return TaskRef{}, fmt.Errorf("%w: headers: %v", ErrBadTaskArgs, err)
	}
	p := &Payload{
		Message: message.Message{
			To:          to,
			Subject:     lp.Subject,
			Body:        lp.Message,
			HTML:        lp.HTML,
			Headers:     headers,
			Attachments: lp.Attachments,
		},
		Attempt: max(0, lp.Attempt),
	}
	return TaskRef{Legacy: p}, nil
}

// stringOrList decodes a JSON list of strings or a single string. A single
// header string is split into lines; recipients are split later by
// message.SanitizeRecipients.
func stringOrList(raw json.RawMessage, recipients bool) ([]string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		if recipients {
			return []string{s}, nil
		}
		return message.SplitHeaders(s), nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
