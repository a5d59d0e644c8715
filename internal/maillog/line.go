package maillog

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	maxSubjectRunes = 120
	maxMessageRunes = 200

	// Hint is appended to FAIL lines that look like a credentials or region
	// problem.
	Hint = "Check AWS Access Key/Secret and ensure the Region matches your SES setup."

	// NoAttempt omits the attempt field (synchronous sends).
	NoAttempt = -1
)

// Entry identifies the message an outcome line is about.
type Entry struct {
	Tag     string
	To      []string
	Subject string
}

func (e Entry) prefix(kind string) string {
	var b strings.Builder
	b.WriteString(kind)
	if e.Tag != "" {
		b.WriteString(" tag=")
		b.WriteString(e.Tag)
	}
	b.WriteString(" to=")
	b.WriteString(strings.Join(e.To, ", "))
	b.WriteString(` subject="`)
	b.WriteString(Truncate(e.Subject, maxSubjectRunes))
	b.WriteString(`"`)
	return b.String()
}

func Success(e Entry, bytes, attempt int) string {
	s := e.prefix("SUCCESS") + fmt.Sprintf(" bytes=%d", bytes)
	if attempt >= 0 {
		s += fmt.Sprintf(" attempt=%d", attempt)
	}
	return s
}

// Fail formats a failure. status is empty when no HTTP response was seen.
func Fail(e Entry, code, status string, attempt int, msg string, hint bool) string {
	s := e.prefix("FAIL") + fmt.Sprintf(" code=%s status=%s", code, status)
	if attempt >= 0 {
		s += fmt.Sprintf(" attempt=%d", attempt)
	}
	s += fmt.Sprintf(` msg="%s"`, Truncate(msg, maxMessageRunes))
	if hint {
		s += " hint=" + Hint
	}
	return s
}

func Retry(e Entry, nextAttempt int, in time.Duration) string {
	return e.prefix("RETRY") + fmt.Sprintf(" next_attempt=%d in=%ds", nextAttempt, int(in/time.Second))
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
