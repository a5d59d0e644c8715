package message

import (
	"bytes"
	"fmt"
	"io"
	"net/mail"
	"os"
	"strings"

	"gopkg.in/gomail.v2"
)

// Build renders msg as a MIME document.
//
// Structure depends on msg.HTML and whether any attachment is readable:
//
//	plain                 text/plain (8bit)
//	html                  multipart/alternative (text, html; base64)
//	plain + attachments   multipart/mixed (text, files...; base64)
//	html + attachments    multipart/mixed (multipart/alternative, files...)
//
// Unreadable attachments are skipped. Only Reply-To, Cc and X-* lines of
// msg.Headers are carried over.
func Build(from From, msg Message) ([]byte, error) {
	if !ValidEmail(from.Email) {
		return nil, ErrFromInvalid
	}
	to := SanitizeRecipients(msg.To)
	if len(to) == 0 {
		return nil, ErrNoRecipients
	}

	m := gomail.NewMessage(gomail.SetCharset("UTF-8"), gomail.SetEncoding(gomail.Base64))
	m.SetAddressHeader("From", from.Email, from.Name)
	m.SetHeader("To", to...)
	m.SetHeader("Subject", msg.Subject)
	applyHeaders(m, msg.Headers)

	files := readAttachments(msg.Attachments)
	switch {
	case msg.HTML:
		m.SetBody("text/plain", HTMLToText(msg.Body))
		m.AddAlternative("text/html", msg.Body)
	case len(files) == 0:
		m.SetBody("text/plain", msg.Body, gomail.SetPartEncoding(gomail.Unencoded))
	default:
		m.SetBody("text/plain", msg.Body)
	}
	for _, f := range files {
		data := f.data
		m.Attach(f.path, gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(data)
			return err
		}))
	}

	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write mime: %w", err)
	}
	return buf.Bytes(), nil
}

type attachment struct {
	path string
	data []byte
}

func readAttachments(paths []string) []attachment {
	out := make([]attachment, 0, len(paths))
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		b, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		out = append(out, attachment{path: p, data: b})
	}
	return out
}

func applyHeaders(m *gomail.Message, headers []string) {
	custom := map[string][]string{}
	var order []string
	var cc []string

	for _, h := range headers {
		line := cleanLine(h)
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)
		if name == "" || value == "" {
			continue
		}
		switch {
		case strings.EqualFold(name, "reply-to"):
			if a, err := mail.ParseAddress(value); err == nil {
				m.SetAddressHeader("Reply-To", a.Address, a.Name)
			}
		case strings.EqualFold(name, "cc"):
			for _, part := range strings.Split(value, ",") {
				if a, err := mail.ParseAddress(strings.TrimSpace(part)); err == nil {
					cc = append(cc, m.FormatAddress(a.Address, a.Name))
				}
			}
		case hasPrefixFold(name, "x-"):
			if _, seen := custom[name]; !seen {
				order = append(order, name)
			}
			custom[name] = append(custom[name], value)
		}
	}
	if len(cc) > 0 {
		m.SetHeader("Cc", cc...)
	}
	for _, name := range order {
		m.SetHeader(name, custom[name]...)
	}
}
