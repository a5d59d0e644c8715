package maillog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	logx "sesmailer/pkg/logx"
)

func TestLineFormats(t *testing.T) {
	t.Parallel()
	e := Entry{Tag: "welcome", To: []string{"a@x.com", "b@x.com"}, Subject: "Hi"}
	cases := []struct {
		name string
		got  string
		want string
	}{
		{"success", Success(e, 321, 1), `SUCCESS tag=welcome to=a@x.com, b@x.com subject="Hi" bytes=321 attempt=1`},
		{"success sync", Success(Entry{To: []string{"a@x.com"}, Subject: "Hi"}, 10, NoAttempt), `SUCCESS to=a@x.com subject="Hi" bytes=10`},
		{"fail hint", Fail(e, "ses_api_error", "403", 0, "SES API error (HTTP 403)", true),
			`FAIL tag=welcome to=a@x.com, b@x.com subject="Hi" code=ses_api_error status=403 attempt=0 msg="SES API error (HTTP 403)" hint=` + Hint},
		{"fail no status", Fail(Entry{To: []string{"a@x.com"}}, "ses_from_invalid", "", NoAttempt, "bad", false),
			`FAIL to=a@x.com subject="" code=ses_from_invalid status= msg="bad"`},
		{"retry", Retry(e, 2, 120*time.Second), `RETRY tag=welcome to=a@x.com, b@x.com subject="Hi" next_attempt=2 in=120s`},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Fatalf("%s:\n got %q\nwant %q", tc.name, tc.got, tc.want)
		}
	}
}

func TestTruncateRunes(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("é", 150)
	got := Truncate(s, 120)
	if n := len([]rune(got)); n != 120 {
		t.Fatalf("runes=%d", n)
	}
	if Truncate("short", 120) != "short" {
		t.Fatal("short string changed")
	}
	line := Success(Entry{Subject: s}, 0, 0)
	if strings.Count(line, "é") != 120 {
		t.Fatalf("subject not truncated: %q", line)
	}
}

func TestFileSinkAppendsUTC(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "logs", "email-log.txt")
	s := NewFileSink(path, 0, logx.Nop())
	s.now = func() time.Time { return time.Date(2024, 3, 1, 12, 30, 5, 0, time.FixedZone("X", 3600)) }
	s.Log("SUCCESS to=a@x.com")
	s.Log("second")

	b, err := s.Read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := "[2024-03-01 11:30:05] SUCCESS to=a@x.com\n[2024-03-01 11:30:05] second\n"
	if string(b) != want {
		t.Fatalf("got %q", b)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if b, _ := s.Read(); len(b) != 0 {
		t.Fatalf("not cleared: %q", b)
	}
}

func TestFileSinkTrimsToTail(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "email-log.txt")
	s := NewFileSink(path, DefaultMaxBytes, logx.Nop())
	if err := os.WriteFile(path, []byte(strings.Repeat("x", DefaultMaxBytes)), 0o640); err != nil {
		t.Fatal(err)
	}
	s.Log("last line")

	st, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if st.Size() != keepBytes {
		t.Fatalf("size=%d want %d", st.Size(), keepBytes)
	}
	b, _ := os.ReadFile(path)
	if !strings.HasSuffix(string(b), "last line\n") {
		t.Fatal("newest line lost by trim")
	}
}

func TestGateAndTee(t *testing.T) {
	t.Parallel()
	var a, b Memory
	enabled := true
	s := Gate(Tee(&a, &b), func() bool { return enabled })
	s.Log("one")
	enabled = false
	s.Log("two")

	for _, m := range []*Memory{&a, &b} {
		if got := m.Lines(); len(got) != 1 || got[0] != "one" {
			t.Fatalf("lines=%v", got)
		}
	}
}
