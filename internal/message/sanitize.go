package message

import (
	"net/mail"
	"regexp"
	"strings"
)

const (
	MaxHeaderLen   = 256
	MaxHeaderLines = 10

	TagHeader = "x-ses-mailer-tag:"
)

var (
	reservedHeader = regexp.MustCompile(`(?i)^(from|to|subject|content-type)\s*:`)
	tagStrip       = regexp.MustCompile(`[^A-Za-z0-9._-]`)
)

// ValidEmail reports whether s is a bare addr-spec with a dotted domain.
func ValidEmail(s string) bool {
	if s == "" || strings.ContainsAny(s, " \t\r\n<>\",;") {
		return false
	}
	a, err := mail.ParseAddress(s)
	if err != nil || a.Address != s {
		return false
	}
	at := strings.LastIndexByte(s, '@')
	if at <= 0 {
		return false
	}
	domain := s[at+1:]
	return strings.Contains(domain, ".") && !strings.HasPrefix(domain, ".") && !strings.HasSuffix(domain, ".")
}

// SanitizeEmail returns the address part of s ("Name <a@b.c>" or "a@b.c"),
// or "" when s is not a usable address.
func SanitizeEmail(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if a, err := mail.ParseAddress(s); err == nil {
		s = a.Address
	}
	if !ValidEmail(s) {
		return ""
	}
	return s
}

// SanitizeRecipients splits comma-separated entries, drops invalid
// addresses and duplicates, and keeps the input order.
func SanitizeRecipients(to []string) []string {
	out := make([]string, 0, len(to))
	seen := make(map[string]struct{}, len(to))
	for _, entry := range to {
		for _, part := range strings.Split(entry, ",") {
			addr := SanitizeEmail(part)
			if addr == "" {
				continue
			}
			key := strings.ToLower(addr)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, addr)
		}
	}
	return out
}

// SplitHeaders turns a raw header block into trimmed, non-empty lines.
func SplitHeaders(raw string) []string {
	raw = strings.ReplaceAll(raw, "\r", "\n")
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

func cleanLine(h string) string {
	h = strings.ReplaceAll(h, "\r", "")
	h = strings.ReplaceAll(h, "\n", "")
	return strings.TrimSpace(h)
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// SanitizeHeaders keeps only X-* and Reply-To lines, truncated to
// MaxHeaderLen bytes and capped at MaxHeaderLines, and extracts the tag from
// X-Ses-Mailer-Tag.
func SanitizeHeaders(headers []string) ([]string, string) {
	out := make([]string, 0, len(headers))
	tag := ""
	for _, h := range headers {
		line := cleanLine(h)
		if line == "" || reservedHeader.MatchString(line) {
			continue
		}
		if !hasPrefixFold(line, "x-") && !hasPrefixFold(line, "reply-to:") {
			continue
		}
		if len(line) > MaxHeaderLen {
			line = line[:MaxHeaderLen]
		}
		if hasPrefixFold(line, TagHeader) {
			tag = cleanTag(line[len(TagHeader):])
		}
		out = append(out, line)
		if len(out) >= MaxHeaderLines {
			break
		}
	}
	return out, tag
}

// ExtractTag returns the first X-Ses-Mailer-Tag value, stripped to
// [A-Za-z0-9._-].
func ExtractTag(headers []string) string {
	for _, h := range headers {
		line := cleanLine(h)
		if hasPrefixFold(line, TagHeader) {
			return cleanTag(line[len(TagHeader):])
		}
	}
	return ""
}

func cleanTag(v string) string {
	return tagStrip.ReplaceAllString(strings.TrimSpace(v), "")
}

// IsHTML reports whether the first Content-Type header names text/html.
func IsHTML(headers []string) bool {
	for _, h := range headers {
		line := strings.TrimSpace(h)
		if hasPrefixFold(line, "content-type:") {
			return strings.Contains(strings.ToLower(line), "text/html")
		}
	}
	return false
}

// HasHeader reports whether any line starts with name + ":" (case-insensitive).
func HasHeader(headers []string, name string) bool {
	prefix := name + ":"
	for _, h := range headers {
		if hasPrefixFold(strings.TrimSpace(h), prefix) {
			return true
		}
	}
	return false
}
