package eventbus

// Mail outcome event types published by the queue and the sync send path.
const (
	MailQueued  = "mail.queued"
	MailSent    = "mail.sent"
	MailFailed  = "mail.failed"
	MailRetry   = "mail.retry"
	MailDropped = "mail.dropped"
)

// MailOutcome is the Data of every mail.* event.
type MailOutcome struct {
	JobID   string `json:"job_id,omitempty"`
	Tag     string `json:"tag,omitempty"`
	To      int    `json:"to"`
	Attempt int    `json:"attempt"`
	Code    string `json:"code,omitempty"`
	Status  int    `json:"status,omitempty"`
	Bytes   int    `json:"bytes,omitempty"`
	Async   bool   `json:"async"`
	// Reason is set on mail.dropped: "no_recipients", "from_invalid" or "exhausted".
	Reason string `json:"reason,omitempty"`
}
