// Package message turns a logical email into a MIME document ready for
// SendRawEmail, and holds the header/recipient sanitizing shared by the
// synchronous and queued send paths.
package message

import "errors"

var (
	ErrFromInvalid  = codedError{code: "ses_from_invalid", msg: "Configured From Email is invalid or missing."}
	ErrNoRecipients = codedError{code: "ses_to_missing", msg: "No recipient."}
)

type codedError struct {
	code string
	msg  string
}

func (e codedError) Error() string { return e.msg }
func (e codedError) Code() string  { return e.code }

// IsPermanent reports errors that retrying cannot fix.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrFromInvalid) || errors.Is(err, ErrNoRecipients)
}

// Message is one outbound email.
type Message struct {
	To          []string `json:"to"`
	Subject     string   `json:"subject"`
	Body        string   `json:"message"`
	HTML        bool     `json:"html,omitempty"`
	Headers     []string `json:"headers,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
}

// From is the sender address and display name.
type From struct {
	Email string
	Name  string
}
