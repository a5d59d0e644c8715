package message

import (
	"reflect"
	"strings"
	"testing"
)

func TestValidEmail(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"a@example.com":         true,
		"first.last@sub.ex.org": true,
		"":                      false,
		"a@localhost":           false,
		"a@.com":                false,
		"Name <a@example.com>":  false,
		"a b@example.com":       false,
		"no-at.example.com":     false,
	}
	for in, want := range cases {
		if got := ValidEmail(in); got != want {
			t.Fatalf("ValidEmail(%q)=%v want %v", in, got, want)
		}
	}
}

func TestSanitizeRecipients(t *testing.T) {
	got := SanitizeRecipients([]string{
		" a@example.com ",
		"b@example.com, Carol <c@example.com>",
		"junk",
		"A@example.com",
		"",
	})
	want := []string{"a@example.com", "b@example.com", "c@example.com"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
	if out := SanitizeRecipients([]string{"nope", " "}); len(out) != 0 {
		t.Fatalf("expected empty, got %v", out)
	}
}

func TestSanitizeHeaders(t *testing.T) {
	long := "X-Long: " + strings.Repeat("a", 400)
	in := []string{
		"From: evil@example.com",
		"To: x@example.com",
		"Subject: nope",
		"Content-Type: text/html",
		"Cc: dropped@example.com",
		"Reply-To: r@example.com",
		"X-Ses-Mailer-Tag:  welcome mail!/v2 ",
		"X-Injected: a\r\nBcc: victim@example.com",
		long,
	}
	got, tag := SanitizeHeaders(in)

	if tag != "welcomemailv2" {
		t.Fatalf("tag=%q", tag)
	}
	if len(got) != 4 {
		t.Fatalf("kept %d headers: %v", len(got), got)
	}
	if got[0] != "Reply-To: r@example.com" {
		t.Fatalf("first=%q", got[0])
	}
	if got[2] != "X-Injected: aBcc: victim@example.com" {
		t.Fatalf("CR/LF not stripped: %q", got[2])
	}
	if len(got[3]) != MaxHeaderLen {
		t.Fatalf("long header len=%d", len(got[3]))
	}
}

func TestSanitizeHeadersCap(t *testing.T) {
	var in []string
	for i := 0; i < 15; i++ {
		in = append(in, "X-N: v")
	}
	got, _ := SanitizeHeaders(in)
	if len(got) != MaxHeaderLines {
		t.Fatalf("kept %d want %d", len(got), MaxHeaderLines)
	}
}

func TestIsHTMLAndTag(t *testing.T) {
	if !IsHTML([]string{"X-A: 1", "content-type: text/html; charset=UTF-8"}) {
		t.Fatalf("expected html")
	}
	if IsHTML([]string{"Content-Type: text/plain", "Content-Type: text/html"}) {
		t.Fatalf("only the first content-type counts")
	}
	if got := ExtractTag([]string{"x-ses-mailer-tag: a b"}); got != "ab" {
		t.Fatalf("tag=%q", got)
	}
	if !HasHeader([]string{" reply-to: x@example.com"}, "Reply-To") {
		t.Fatalf("HasHeader")
	}
}

func TestSplitHeaders(t *testing.T) {
	got := SplitHeaders("X-A: 1\r\n\r\n  X-B: 2 \n")
	if !reflect.DeepEqual(got, []string{"X-A: 1", "X-B: 2"}) {
		t.Fatalf("got %v", got)
	}
}
